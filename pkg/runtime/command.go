package runtime

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// CommandResult represents the result of a command execution
type CommandResult struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

// CommandOptions holds configuration for command execution
type CommandOptions struct {
	UseShell    bool
	Become      bool
	BecomeUser  string
	BecomeFlags string
	Chdir       string
	Env         map[string]string
}

// NewCommandOptions returns options for a plain, unprivileged command.
func NewCommandOptions() *CommandOptions {
	return &CommandOptions{}
}

// WithShell enables shell execution
func (co *CommandOptions) WithShell() *CommandOptions {
	co.UseShell = true
	return co
}

// WithBecome runs the command as user through sudo. An empty user means root.
func (co *CommandOptions) WithBecome(user string) *CommandOptions {
	co.Become = true
	co.BecomeUser = user
	return co
}

// shellQuote wraps s in single quotes for POSIX shells.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// buildCommand constructs the final command string based on options
func buildCommand(command string, opts *CommandOptions) string {
	if command == "" {
		return ""
	}
	if opts == nil {
		opts = NewCommandOptions()
	}

	command = strings.ReplaceAll(command, "\r\n", "\n")
	if opts.UseShell {
		command = "/bin/sh -c " + shellQuote(command)
	}

	if opts.Become {
		user := opts.BecomeUser
		if user == "" {
			user = "root"
		}
		prefix := "sudo -n -u " + user
		if opts.BecomeFlags != "" {
			prefix += " " + opts.BecomeFlags
		}
		command = prefix + " " + command
	}
	return command
}

// remoteCommand adds the working directory and environment for commands sent
// to a remote login shell.
func remoteCommand(command string, opts *CommandOptions) string {
	cmd := buildCommand(command, opts)
	if opts == nil {
		return cmd
	}
	if len(opts.Env) > 0 {
		keys := make([]string, 0, len(opts.Env))
		for k := range opts.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var assignments []string
		for _, k := range keys {
			assignments = append(assignments, k+"="+shellQuote(opts.Env[k]))
		}
		cmd = "env " + strings.Join(assignments, " ") + " " + cmd
	}
	if opts.Chdir != "" {
		cmd = "cd " + shellQuote(opts.Chdir) + " && " + cmd
	}
	return cmd
}

// cleanSudoPrompts removes sudo password prompts from the output
func cleanSudoPrompts(output string) string {
	lines := strings.Split(output, "\n")
	var cleanedLines []string

	for _, line := range lines {
		trimmedLine := strings.TrimSpace(line)
		if strings.HasPrefix(trimmedLine, "[sudo] password for ") {
			continue
		}
		cleanedLines = append(cleanedLines, line)
	}

	return strings.Join(cleanedLines, "\n")
}

// SudoPasswordHint explains a sudo failure caused by a missing password.
func SudoPasswordHint(stderr string) (string, bool) {
	if strings.Contains(stderr, "sudo: a password is required") ||
		strings.Contains(stderr, "sudo: no tty present") ||
		strings.Contains(stderr, "sudo: no password was provided") {
		return "privilege escalation requires a password; configure passwordless sudo for the become user", true
	}
	return "", false
}

// ParseFileMode parses an octal mode such as "0644" or "755".
func ParseFileMode(modeStr string) (os.FileMode, error) {
	mode, err := strconv.ParseUint(modeStr, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid file mode string: %q", modeStr)
	}
	return os.FileMode(mode), nil
}
