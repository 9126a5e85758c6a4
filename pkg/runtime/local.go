package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/AlexanderGrooff/converge/pkg/common"
	"github.com/google/shlex"
)

type LocalConnection struct {
}

func NewLocalConnection() *LocalConnection {
	return &LocalConnection{}
}

func (lc *LocalConnection) Close() error {
	return nil
}

// ExecuteCommand runs the command on the control node. Without UseShell the
// command is split with shell quoting rules and executed directly.
func (lc *LocalConnection) ExecuteCommand(ctx context.Context, command string, opts *CommandOptions) (*CommandResult, error) {
	if command == "" {
		return nil, fmt.Errorf("command is empty")
	}
	if opts == nil {
		opts = NewCommandOptions()
	}

	cmdToRun := buildCommand(command, opts)
	splitCmd, err := shlex.Split(cmdToRun)
	if err != nil {
		return nil, fmt.Errorf("failed to split command %s: %v", command, err)
	}
	if len(splitCmd) == 0 {
		return nil, fmt.Errorf("command is empty")
	}

	prog := splitCmd[0]
	absProg, err := exec.LookPath(prog)
	if err != nil {
		return &CommandResult{
			Command:  cmdToRun,
			ExitCode: 127,
			Stderr:   fmt.Sprintf("failed to find %s in $PATH: %v", prog, err),
		}, nil
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, absProg, splitCmd[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Dir = opts.Chdir
	if len(opts.Env) > 0 {
		cmd.Env = os.Environ()
		keys := make([]string, 0, len(opts.Env))
		for k := range opts.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			cmd.Env = append(cmd.Env, k+"="+opts.Env[k])
		}
	}

	common.DebugOutput("Running command: %s", cmd.String())
	err = cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	rc := 0
	if err != nil {
		var exitError *exec.ExitError
		if !errors.As(err, &exitError) {
			return nil, fmt.Errorf("failed to execute command %q: %w", cmd.String(), err)
		}
		rc = exitError.ExitCode()
	}

	return &CommandResult{
		Command:  cmdToRun,
		ExitCode: rc,
		Stdout:   cleanSudoPrompts(stdout.String()),
		Stderr:   cleanSudoPrompts(stderr.String()),
	}, nil
}

// Stat retrieves local file information. If follow is true, it follows symlinks (os.Stat).
// If follow is false, it stats the link itself (os.Lstat).
func (lc *LocalConnection) Stat(path string, follow bool) (os.FileInfo, error) {
	if follow {
		return os.Stat(path)
	}
	return os.Lstat(path)
}

func (lc *LocalConnection) SetFileMode(path, modeStr string) error {
	mode, err := ParseFileMode(modeStr)
	if err != nil {
		return err
	}
	return os.Chmod(path, mode)
}

func (lc *LocalConnection) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read local file %s: %w", path, err)
	}
	return data, nil
}

// WriteFile replaces path atomically through a temporary file in the same directory.
func (lc *LocalConnection) WriteFile(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".converge-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	defer func() {
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			common.LogWarn("Failed to remove temp file", map[string]interface{}{
				"file":  tmp.Name(),
				"error": err.Error(),
			})
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return fmt.Errorf("failed to set mode on %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move file into place at %s: %w", path, err)
	}
	return nil
}
