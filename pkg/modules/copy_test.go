package modules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/AlexanderGrooff/converge/pkg/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyContentIdempotent(t *testing.T) {
	r, _ := newTestRunner(runtime.NewLocalConnection())
	dest := filepath.Join(t.TempDir(), "etc", "app.conf")
	args := map[string]interface{}{"content": "port=80\n", "dest": dest, "mode": "0640"}

	res := invoke(t, r, "copy", args, nil)
	require.Equal(t, StatusChanged, res.Status, res.Msg)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "port=80\n", string(data))
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())

	res = invoke(t, r, "copy", args, nil)
	assert.Equal(t, StatusOK, res.Status)

	// Only the mode differs
	args["mode"] = 0600
	res = invoke(t, r, "copy", args, nil)
	assert.Equal(t, StatusChanged, res.Status)
	info, err = os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestCopyCheckAndDiff(t *testing.T) {
	r, _ := newTestRunner(runtime.NewLocalConnection())
	dest := filepath.Join(t.TempDir(), "motd")
	require.NoError(t, os.WriteFile(dest, []byte("old\n"), 0644))

	res := invokeReq(t, r, Request{
		Module: "copy",
		Args:   map[string]interface{}{"content": "new\n", "dest": dest},
		Check:  true,
		Diff:   true,
	})
	assert.Equal(t, StatusChanged, res.Status)
	require.NotNil(t, res.Diff)
	assert.Equal(t, "old\n", res.Diff.Before)
	assert.Equal(t, "new\n", res.Diff.After)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "old\n", string(data), "check mode must not write")
}

func TestCopySrc(t *testing.T) {
	r, _ := newTestRunner(runtime.NewLocalConnection())
	playDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(playDir, "files"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(playDir, "files", "index.html"), []byte("<h1>hi</h1>"), 0644))
	destDir := t.TempDir()

	res := invokeReq(t, r, Request{
		Module: "copy",
		Args:   map[string]interface{}{"src": "index.html", "dest": destDir},
		Dir:    playDir,
	})
	require.Equal(t, StatusChanged, res.Status, res.Msg)
	data, err := os.ReadFile(filepath.Join(destDir, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<h1>hi</h1>", string(data))

	res = invokeReq(t, r, Request{Module: "copy", Args: map[string]interface{}{"src": "missing.txt", "dest": destDir}, Dir: playDir})
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Msg, "could not find or access 'missing.txt'")

	res = invoke(t, r, "copy", map[string]interface{}{"content": "x"}, nil)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestTemplateModule(t *testing.T) {
	r, _ := newTestRunner(runtime.NewLocalConnection())
	playDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(playDir, "templates"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(playDir, "templates", "site.conf.j2"), []byte("server {{ name }}:{{ port }}\n"), 0644))
	dest := filepath.Join(t.TempDir(), "site.conf")

	req := Request{
		Module: "template",
		Args:   map[string]interface{}{"src": "site.conf.j2", "dest": dest},
		Vars:   map[string]interface{}{"name": "web", "port": 8080},
		Dir:    playDir,
	}
	res := invokeReq(t, r, req)
	require.Equal(t, StatusChanged, res.Status, res.Msg)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "server web:8080\n", string(data))

	res = invokeReq(t, r, req)
	assert.Equal(t, StatusOK, res.Status)

	req.Vars = map[string]interface{}{"name": "web"}
	res = invokeReq(t, r, req)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Msg, "port")
}

func TestModeArg(t *testing.T) {
	assert.Equal(t, "0644", modeArg(map[string]interface{}{"mode": 420}))
	assert.Equal(t, "0755", modeArg(map[string]interface{}{"mode": "0755"}))
	assert.Equal(t, "", modeArg(map[string]interface{}{}))
	_, err := parseMode("u+rwx")
	assert.Error(t, err)
}
