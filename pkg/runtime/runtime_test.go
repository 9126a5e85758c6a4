package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AlexanderGrooff/converge/pkg/config"
	"github.com/AlexanderGrooff/converge/pkg/inventory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		opts    *CommandOptions
		want    string
	}{
		{"plain", "echo hi", NewCommandOptions(), "echo hi"},
		{"nil options", "echo hi", nil, "echo hi"},
		{"shell", "echo $HOME | wc", NewCommandOptions().WithShell(), "/bin/sh -c 'echo $HOME | wc'"},
		{"shell quotes", "echo 'a'", NewCommandOptions().WithShell(), `/bin/sh -c 'echo '\''a'\'''`},
		{"become default user", "id", NewCommandOptions().WithBecome(""), "sudo -n -u root id"},
		{"become shell", "id", NewCommandOptions().WithShell().WithBecome("app"), "sudo -n -u app /bin/sh -c 'id'"},
		{"become flags", "id", &CommandOptions{Become: true, BecomeUser: "app", BecomeFlags: "-H"}, "sudo -n -u app -H id"},
		{"empty", "", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildCommand(tt.command, tt.opts))
		})
	}
}

func TestRemoteCommand(t *testing.T) {
	opts := &CommandOptions{Chdir: "/srv/app", Env: map[string]string{"B": "2", "A": "x y"}}
	assert.Equal(t, "cd '/srv/app' && env A='x y' B='2' make", remoteCommand("make", opts))
}

func TestLocalExecute(t *testing.T) {
	conn := NewLocalConnection()
	ctx := context.Background()

	res, err := conn.ExecuteCommand(ctx, "echo hello world", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello world\n", res.Stdout)

	res, err = conn.ExecuteCommand(ctx, "exit 3", NewCommandOptions().WithShell())
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)

	res, err = conn.ExecuteCommand(ctx, "definitely-not-a-binary-xyz", nil)
	require.NoError(t, err)
	assert.Equal(t, 127, res.ExitCode)

	dir := t.TempDir()
	res, err = conn.ExecuteCommand(ctx, "pwd", &CommandOptions{Chdir: dir})
	require.NoError(t, err)
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Contains(t, []string{dir + "\n", resolved + "\n"}, res.Stdout)

	res, err = conn.ExecuteCommand(ctx, "echo $GREETING", &CommandOptions{UseShell: true, Env: map[string]string{"GREETING": "hoi"}})
	require.NoError(t, err)
	assert.Equal(t, "hoi\n", res.Stdout)

	_, err = conn.ExecuteCommand(ctx, "", nil)
	assert.Error(t, err)
}

func TestLocalExecuteCancelled(t *testing.T) {
	conn := NewLocalConnection()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := conn.ExecuteCommand(ctx, "sleep 5", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestLocalFiles(t *testing.T) {
	conn := NewLocalConnection()
	path := filepath.Join(t.TempDir(), "sub", "file.txt")

	_, err := conn.ReadFile(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, conn.WriteFile(path, []byte("content"), 0640))
	data, err := conn.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	info, err := conn.Stat(path, true)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())

	require.NoError(t, conn.SetFileMode(path, "0600"))
	info, err = conn.Stat(path, false)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	assert.Error(t, conn.SetFileMode(path, "rwx"))
}

func TestParseFileMode(t *testing.T) {
	mode, err := ParseFileMode("0755")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), mode)
	mode, err = ParseFileMode("644")
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), mode)
	_, err = ParseFileMode("u+x")
	assert.Error(t, err)
}

func TestUnreachable(t *testing.T) {
	err := Unreachable("web1", errors.New("connection refused"))
	assert.True(t, IsUnreachable(err))
	assert.Contains(t, err.Error(), "web1")
	assert.False(t, IsUnreachable(errors.New("other")))
}

func TestManagerLocal(t *testing.T) {
	m := NewManager(config.SSHConfig{})
	defer m.Close()

	conn, err := m.Get(&inventory.Host{Name: "localhost"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalConnection{}, conn)

	conn, err = m.Get(&inventory.Host{Name: "box"}, map[string]interface{}{"ansible_connection": "local"})
	require.NoError(t, err)
	assert.IsType(t, &LocalConnection{}, conn)
}

func TestSudoPasswordHint(t *testing.T) {
	_, ok := SudoPasswordHint("sudo: a password is required")
	assert.True(t, ok)
	_, ok = SudoPasswordHint("permission denied")
	assert.False(t, ok)
	assert.Equal(t, "out", cleanSudoPrompts("[sudo] password for bob:\nout")[0:3])
}
