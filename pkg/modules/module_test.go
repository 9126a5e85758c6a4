package modules

import (
	"context"
	"errors"
	"testing"

	"github.com/AlexanderGrooff/converge/pkg/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("noop", ModuleFunc(func(ctx context.Context, c *Context, args map[string]interface{}) (Result, error) {
		return ok(), nil
	}))
	_, found := r.Get("noop")
	assert.True(t, found)
	_, found = r.Get("missing")
	assert.False(t, found)
	assert.Panics(t, func() { r.Register("noop", ModuleFunc(runFail)) })

	names := Builtin().Names()
	for _, name := range []string{"command", "shell", "raw", "debug", "set_fact", "fail", "assert", "copy", "ping", "setup", "stat", "pause", "systemd", "service", "apt", "git"} {
		assert.Contains(t, names, name)
	}
}

func TestResultAsMap(t *testing.T) {
	rc := 2
	res := Result{
		Status: StatusFailed,
		Msg:    "non-zero return code",
		Stdout: "a\nb",
		RC:     &rc,
		Data:   map[string]interface{}{"cmd": "false"},
	}
	m := res.AsMap()
	assert.Equal(t, true, m["failed"])
	assert.Equal(t, false, m["changed"])
	assert.Equal(t, 2, m["rc"])
	assert.Equal(t, []interface{}{"a", "b"}, m["stdout_lines"])
	assert.Equal(t, []interface{}{}, m["stderr_lines"])
	assert.Equal(t, "false", m["cmd"])
	assert.Equal(t, "non-zero return code", m["msg"])

	m = Result{Status: StatusSkipped}.AsMap()
	assert.Equal(t, true, m["skipped"])
	assert.NotContains(t, m, "rc")
}

func TestInvokeUnknownModule(t *testing.T) {
	r, _ := newTestRunner(runtime.NewLocalConnection())
	res := invoke(t, r, "does_not_exist", nil, nil)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Msg, "couldn't resolve module/action 'does_not_exist'")
}

func TestInvokeUnreachable(t *testing.T) {
	r := NewRunner(staticConnections{err: runtime.Unreachable("web1", errors.New("connection refused"))}, nil)
	res := invoke(t, r, "ping", nil, nil)
	assert.Equal(t, StatusUnreachable, res.Status)
	assert.Contains(t, res.Msg, "connection refused")
}

func TestInvokeCancelled(t *testing.T) {
	r, _ := newTestRunner(runtime.NewLocalConnection())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Invoke(ctx, Request{Host: nil, Module: "pause", Args: map[string]interface{}{"seconds": 1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDiffUnified(t *testing.T) {
	d := &Diff{Path: "/etc/motd", Before: "hello\n", After: "hello\nworld\n"}
	out := d.Unified()
	assert.Contains(t, out, "--- before: /etc/motd")
	assert.Contains(t, out, "+++ after: /etc/motd")
	assert.Contains(t, out, "+world")
}
