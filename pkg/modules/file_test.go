package modules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/AlexanderGrooff/converge/pkg/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileModule(t *testing.T) {
	r, _ := newTestRunner(runtime.NewLocalConnection())
	root := t.TempDir()
	dir := filepath.Join(root, "a", "b")
	file := filepath.Join(root, "f.txt")
	link := filepath.Join(root, "link")

	steps := []struct {
		name   string
		args   map[string]interface{}
		status Status
	}{
		{"create directory", map[string]interface{}{"path": dir, "state": "directory"}, StatusChanged},
		{"directory exists", map[string]interface{}{"path": dir, "state": "directory"}, StatusOK},
		{"directory mode", map[string]interface{}{"path": dir, "state": "directory", "mode": "0700"}, StatusChanged},
		{"touch", map[string]interface{}{"path": file, "state": "touch"}, StatusChanged},
		{"file exists", map[string]interface{}{"path": file}, StatusOK},
		{"file mode", map[string]interface{}{"path": file, "mode": "0600"}, StatusChanged},
		{"file mode again", map[string]interface{}{"path": file, "mode": "0600"}, StatusOK},
		{"link", map[string]interface{}{"path": link, "src": file, "state": "link"}, StatusChanged},
		{"link again", map[string]interface{}{"path": link, "src": file, "state": "link"}, StatusOK},
		{"absent", map[string]interface{}{"path": dir, "state": "absent"}, StatusChanged},
		{"absent again", map[string]interface{}{"path": dir, "state": "absent"}, StatusOK},
		{"missing file", map[string]interface{}{"path": filepath.Join(root, "nope"), "state": "file"}, StatusFailed},
		{"bad state", map[string]interface{}{"path": file, "state": "weird"}, StatusFailed},
	}
	for _, step := range steps {
		res := invoke(t, r, "file", step.args, nil)
		require.Equal(t, step.status, res.Status, "%s: %s", step.name, res.Msg)
	}

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, file, target)
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestFileCheckMode(t *testing.T) {
	r, _ := newTestRunner(runtime.NewLocalConnection())
	dir := filepath.Join(t.TempDir(), "new")
	res := invokeReq(t, r, Request{Module: "file", Args: map[string]interface{}{"path": dir, "state": "directory"}, Check: true})
	assert.Equal(t, StatusChanged, res.Status)
	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestLineInFile(t *testing.T) {
	r, _ := newTestRunner(runtime.NewLocalConnection())
	path := filepath.Join(t.TempDir(), "sshd_config")
	require.NoError(t, os.WriteFile(path, []byte("Port 22\nPermitRootLogin yes\n"), 0644))

	steps := []struct {
		name   string
		args   map[string]interface{}
		status Status
		want   string
	}{
		{"replace by regexp", map[string]interface{}{"path": path, "regexp": "^PermitRootLogin", "line": "PermitRootLogin no"}, StatusChanged, "Port 22\nPermitRootLogin no\n"},
		{"already replaced", map[string]interface{}{"path": path, "regexp": "^PermitRootLogin", "line": "PermitRootLogin no"}, StatusOK, "Port 22\nPermitRootLogin no\n"},
		{"append", map[string]interface{}{"path": path, "line": "UseDNS no"}, StatusChanged, "Port 22\nPermitRootLogin no\nUseDNS no\n"},
		{"present", map[string]interface{}{"path": path, "line": "UseDNS no"}, StatusOK, "Port 22\nPermitRootLogin no\nUseDNS no\n"},
		{"remove", map[string]interface{}{"path": path, "regexp": "^Port", "state": "absent"}, StatusChanged, "PermitRootLogin no\nUseDNS no\n"},
	}
	for _, step := range steps {
		res := invoke(t, r, "lineinfile", step.args, nil)
		require.Equal(t, step.status, res.Status, "%s: %s", step.name, res.Msg)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, step.want, string(data), step.name)
	}

	missing := filepath.Join(t.TempDir(), "new.conf")
	res := invoke(t, r, "lineinfile", map[string]interface{}{"path": missing, "line": "a"}, nil)
	assert.Equal(t, StatusFailed, res.Status)
	res = invoke(t, r, "lineinfile", map[string]interface{}{"path": missing, "line": "a", "create": true}, nil)
	assert.Equal(t, StatusChanged, res.Status)
	data, err := os.ReadFile(missing)
	require.NoError(t, err)
	assert.Equal(t, "a\n", string(data))
}
