package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"

	"github.com/AlexanderGrooff/converge/pkg/common"
	"github.com/AlexanderGrooff/converge/pkg/sshpool"
	desopssshpool "github.com/desops/sshpool"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SSHConnection runs commands over pooled SSH sessions and moves files over SFTP.
type SSHConnection struct {
	Host   string
	target sshpool.Target
	pool   *desopssshpool.Pool

	mu         sync.Mutex
	sftpClient *sftp.Client
}

// NewSSHConnection resolves the pool for target through the manager. No
// network traffic happens until the first command.
func NewSSHConnection(host string, target sshpool.Target, manager *sshpool.Manager) (*SSHConnection, error) {
	resolved, err := manager.Resolve(target)
	if err != nil {
		return nil, err
	}
	pool, err := manager.GetPool(resolved)
	if err != nil {
		return nil, err
	}
	return &SSHConnection{Host: host, target: resolved, pool: pool}, nil
}

// openSFTP returns the connection's SFTP client, opening it on first use.
func (c *SSHConnection) openSFTP() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sftpClient != nil {
		return c.sftpClient, nil
	}

	sftpSession, err := c.pool.GetSFTP(c.target.Addr())
	if err != nil {
		return nil, Unreachable(c.Host, fmt.Errorf("failed to get SFTP session: %w", err))
	}
	c.sftpClient = sftpSession.Client
	return c.sftpClient, nil
}

// ExecuteCommand runs the command through the remote login shell. Cancelling
// ctx closes the session.
func (c *SSHConnection) ExecuteCommand(ctx context.Context, command string, opts *CommandOptions) (*CommandResult, error) {
	if command == "" {
		return nil, fmt.Errorf("command is empty")
	}

	session, err := c.pool.Get(c.target.Addr())
	if err != nil {
		return nil, Unreachable(c.Host, fmt.Errorf("failed to get SSH session: %w", err))
	}
	defer session.Put()

	cmdToRun := remoteCommand(command, opts)
	common.DebugOutput("Running remote command on %s: %s", c.Host, cmdToRun)

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmdToRun)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		if closeErr := session.Close(); closeErr != nil {
			common.DebugOutput("Error closing session: %v", closeErr)
		}
		return nil, ctx.Err()
	}

	rc := 0
	if err != nil {
		var exitError *ssh.ExitError
		if !errors.As(err, &exitError) {
			return nil, Unreachable(c.Host, fmt.Errorf("failed to run remote command: %w", err))
		}
		rc = exitError.ExitStatus()
	}

	return &CommandResult{
		Command:  cmdToRun,
		ExitCode: rc,
		Stdout:   cleanSudoPrompts(stdout.String()),
		Stderr:   cleanSudoPrompts(stderr.String()),
	}, nil
}

// Stat retrieves remote file information. Without follow, symlinks are not resolved.
func (c *SSHConnection) Stat(remotePath string, follow bool) (os.FileInfo, error) {
	client, err := c.openSFTP()
	if err != nil {
		return nil, err
	}
	if follow {
		return client.Stat(remotePath)
	}
	return client.Lstat(remotePath)
}

// ReadFile reads the content of a remote file
func (c *SSHConnection) ReadFile(remotePath string) ([]byte, error) {
	client, err := c.openSFTP()
	if err != nil {
		return nil, err
	}
	f, err := client.Open(remotePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to open remote file %s on %s: %w", remotePath, c.Host, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			common.LogWarn("Failed to close remote file", map[string]interface{}{
				"file":  remotePath,
				"host":  c.Host,
				"error": err.Error(),
			})
		}
	}()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read data from remote file %s on %s: %w", remotePath, c.Host, err)
	}
	return data, nil
}

// WriteFile uploads data to a temporary file next to remotePath and renames it into place.
func (c *SSHConnection) WriteFile(remotePath string, data []byte, mode os.FileMode) error {
	client, err := c.openSFTP()
	if err != nil {
		return err
	}

	remoteDir := path.Dir(remotePath)
	if err := client.MkdirAll(remoteDir); err != nil && !os.IsExist(err) {
		return fmt.Errorf("failed to create remote directory %s on %s: %w", remoteDir, c.Host, err)
	}

	tmpPath := path.Join(remoteDir, ".converge-"+path.Base(remotePath))
	f, err := client.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s on %s: %w", tmpPath, c.Host, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write data to remote file %s on %s: %w", tmpPath, c.Host, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close remote file %s on %s: %w", tmpPath, c.Host, err)
	}
	if err := client.Chmod(tmpPath, mode); err != nil {
		return fmt.Errorf("failed to set mode on remote file %s on %s: %w", tmpPath, c.Host, err)
	}
	if err := client.PosixRename(tmpPath, remotePath); err != nil {
		return fmt.Errorf("failed to move remote file into place at %s on %s: %w", remotePath, c.Host, err)
	}
	return nil
}

// SetFileMode sets the mode of a remote file
func (c *SSHConnection) SetFileMode(remotePath, modeStr string) error {
	mode, err := ParseFileMode(modeStr)
	if err != nil {
		return err
	}
	client, err := c.openSFTP()
	if err != nil {
		return err
	}
	if err := client.Chmod(remotePath, mode); err != nil {
		return fmt.Errorf("failed to set mode %s (%o) on remote file %s on %s: %w", modeStr, mode, remotePath, c.Host, err)
	}
	return nil
}

// Close drops the SFTP client; the pool itself is owned by the manager.
func (c *SSHConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sftpClient = nil
	return nil
}
