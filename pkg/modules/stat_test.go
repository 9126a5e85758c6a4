package modules

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/AlexanderGrooff/converge/pkg/inventory"
	"github.com/AlexanderGrooff/converge/pkg/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatModule(t *testing.T) {
	r, _ := newTestRunner(runtime.NewLocalConnection())
	dir := t.TempDir()
	file := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(file, []byte("abc"), 0640))

	res := invoke(t, r, "stat", map[string]interface{}{"path": file}, nil)
	require.Equal(t, StatusOK, res.Status, res.Msg)
	stat := res.Data["stat"].(map[string]interface{})
	assert.Equal(t, true, stat["exists"])
	assert.Equal(t, true, stat["isreg"])
	assert.Equal(t, false, stat["isdir"])
	assert.Equal(t, "0640", stat["mode"])
	assert.Equal(t, int64(3), stat["size"])
	assert.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", stat["checksum"])

	res = invoke(t, r, "stat", map[string]interface{}{"path": dir, "get_checksum": false}, nil)
	stat = res.Data["stat"].(map[string]interface{})
	assert.Equal(t, true, stat["isdir"])
	assert.NotContains(t, stat, "checksum")

	res = invoke(t, r, "stat", map[string]interface{}{"path": filepath.Join(dir, "missing")}, nil)
	assert.Equal(t, map[string]interface{}{"exists": false}, res.Data["stat"])
}

func TestSlurpModule(t *testing.T) {
	r, _ := newTestRunner(runtime.NewLocalConnection())
	file := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(file, []byte("hunter2"), 0600))

	res := invoke(t, r, "slurp", map[string]interface{}{"src": file}, nil)
	require.Equal(t, StatusOK, res.Status)
	decoded, err := base64.StdEncoding.DecodeString(res.Data["content"].(string))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(decoded))

	res = invoke(t, r, "slurp", map[string]interface{}{"src": file + ".missing"}, nil)
	assert.Equal(t, StatusFailed, res.Status)
}

func TestPingModule(t *testing.T) {
	r, _ := newTestRunner(runtime.NewLocalConnection())
	res := invoke(t, r, "ping", nil, nil)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, "pong", res.Data["ping"])

	res = invoke(t, r, "ping", map[string]interface{}{"data": "crash"}, nil)
	assert.Equal(t, StatusFailed, res.Status)
}

// cannedConnection answers every command with a fixed result.
type cannedConnection struct {
	runtime.LocalConnection
	result *runtime.CommandResult
	seen   []string
}

func (c *cannedConnection) ExecuteCommand(ctx context.Context, command string, opts *runtime.CommandOptions) (*runtime.CommandResult, error) {
	c.seen = append(c.seen, command)
	return c.result, nil
}

func TestSetupModule(t *testing.T) {
	out := "Linux\n" + factSeparator + "\n" +
		"6.1.0-18-amd64\n" + factSeparator + "\n" +
		"x86_64\n" + factSeparator + "\n" +
		"web1.example.com\n" + factSeparator + "\n" +
		"web1.example.com\n" + factSeparator + "\n" +
		"deploy\n" + factSeparator + "\n" +
		"PRETTY_NAME=\"Debian GNU/Linux 12 (bookworm)\"\nNAME=\"Debian GNU/Linux\"\nVERSION_ID=\"12\"\nVERSION_CODENAME=bookworm\nID=debian\n"
	conn := &cannedConnection{result: &runtime.CommandResult{Stdout: out}}
	r, _ := newTestRunner(conn)

	res := invokeReq(t, r, Request{Module: "setup", Host: &inventory.Host{Name: "web1"}})
	require.Equal(t, StatusOK, res.Status, res.Msg)
	assert.Equal(t, "web1", res.Facts["ansible_hostname"])
	assert.Equal(t, "web1.example.com", res.Facts["ansible_fqdn"])
	assert.Equal(t, "x86_64", res.Facts["ansible_architecture"])
	assert.Equal(t, "Debian", res.Facts["ansible_os_family"])
	assert.Equal(t, "Debian", res.Facts["ansible_distribution"])
	assert.Equal(t, "12", res.Facts["ansible_distribution_major_version"])
	assert.Equal(t, "bookworm", res.Facts["ansible_distribution_release"])
	assert.Equal(t, "deploy", res.Facts["ansible_user_id"])
	assert.Equal(t, "web1", res.Facts["inventory_hostname"])
	assert.Len(t, conn.seen, 1)

	conn.result = &runtime.CommandResult{Stdout: "garbage"}
	res = invokeReq(t, r, Request{Module: "setup", Host: &inventory.Host{Name: "web1"}})
	assert.Equal(t, StatusFailed, res.Status)
}

func TestOSFamily(t *testing.T) {
	assert.Equal(t, "RedHat", osFamily("rocky", "rhel centos fedora"))
	assert.Equal(t, "Debian", osFamily("linuxmint", "ubuntu debian"))
	assert.Equal(t, "Nixos", osFamily("nixos", ""))
}
