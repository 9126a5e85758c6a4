package modules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/AlexanderGrooff/converge/pkg/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandModule(t *testing.T) {
	r, _ := newTestRunner(runtime.NewLocalConnection())
	dir := t.TempDir()
	existing := filepath.Join(dir, "exists")
	require.NoError(t, os.WriteFile(existing, nil, 0644))

	tests := []struct {
		name       string
		module     string
		args       map[string]interface{}
		status     Status
		stdout     string
		rc         int
		msgContain string
	}{
		{"free form", "command", map[string]interface{}{"_raw_params": "echo hi"}, StatusChanged, "hi", 0, ""},
		{"cmd alias", "command", map[string]interface{}{"cmd": "echo alias"}, StatusChanged, "alias", 0, ""},
		{"argv", "command", map[string]interface{}{"argv": []interface{}{"echo", "two words"}}, StatusChanged, "two words", 0, ""},
		{"no shell features", "command", map[string]interface{}{"_raw_params": "echo a | wc"}, StatusChanged, "a | wc", 0, ""},
		{"shell pipes", "shell", map[string]interface{}{"_raw_params": "printf 'a\\nb\\n' | wc -l | tr -d ' '"}, StatusChanged, "2", 0, ""},
		{"non-zero", "shell", map[string]interface{}{"_raw_params": "exit 4"}, StatusFailed, "", 4, "non-zero return code"},
		{"raw", "raw", map[string]interface{}{"_raw_params": "echo raw"}, StatusChanged, "raw", 0, ""},
		{"creates skips", "command", map[string]interface{}{"_raw_params": "echo no", "creates": existing}, StatusOK, "", 0, "exists"},
		{"removes skips", "command", map[string]interface{}{"_raw_params": "echo no", "removes": filepath.Join(dir, "missing")}, StatusOK, "", 0, "does not exist"},
		{"chdir", "command", map[string]interface{}{"_raw_params": "ls", "chdir": dir}, StatusChanged, "exists", 0, ""},
		{"environment", "shell", map[string]interface{}{"_raw_params": "echo $FOO", "_environment": map[string]interface{}{"FOO": "bar"}}, StatusChanged, "bar", 0, ""},
		{"empty", "command", map[string]interface{}{}, StatusFailed, "", 0, "no command given"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := invoke(t, r, tt.module, tt.args, nil)
			assert.Equal(t, tt.status, res.Status, res.Msg)
			assert.Equal(t, tt.stdout, res.Stdout)
			if tt.msgContain != "" {
				assert.Contains(t, res.Msg, tt.msgContain)
			}
			if res.RC != nil {
				assert.Equal(t, tt.rc, *res.RC)
			}
		})
	}
}

func TestCommandCheckMode(t *testing.T) {
	r, _ := newTestRunner(runtime.NewLocalConnection())
	marker := filepath.Join(t.TempDir(), "marker")
	for _, module := range []string{"command", "shell", "raw"} {
		res := invokeReq(t, r, Request{Module: module, Args: map[string]interface{}{"_raw_params": "touch " + marker}, Check: true})
		assert.Equal(t, StatusSkipped, res.Status, module)
	}
	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err))
}

func TestQuoteArg(t *testing.T) {
	assert.Equal(t, "plain", quoteArg("plain"))
	assert.Equal(t, "'two words'", quoteArg("two words"))
	assert.Equal(t, `'it'\''s'`, quoteArg("it's"))
	assert.Equal(t, "''", quoteArg(""))
}
