package modules

import (
	"context"
	"fmt"
	"strings"

	"github.com/AlexanderGrooff/converge/pkg/runtime"
)

// commandLine builds the command from free-form params, cmd or argv.
func commandLine(args map[string]interface{}) string {
	if cmd := stringArg(args, "_raw_params", "cmd"); cmd != "" {
		return cmd
	}
	argv := listArg(args, "argv")
	quoted := make([]string, 0, len(argv))
	for _, a := range argv {
		quoted = append(quoted, quoteArg(a))
	}
	return strings.Join(quoted, " ")
}

func quoteArg(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`|&;<>()*?[]{}~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// runCommand executes a command without a shell: pipes, redirects and
// variables like $HOME are not interpreted.
func runCommand(ctx context.Context, c *Context, args map[string]interface{}) (Result, error) {
	return execute(ctx, c, args, false)
}

func execute(ctx context.Context, c *Context, args map[string]interface{}, useShell bool) (Result, error) {
	command := commandLine(args)
	if strings.TrimSpace(command) == "" {
		return failed("no command given"), nil
	}

	conn, err := c.Conn()
	if err != nil {
		return Result{}, err
	}

	// creates/removes make the command idempotent
	if creates := stringArg(args, "creates"); creates != "" {
		if _, err := conn.Stat(creates, true); err == nil {
			return skippedCommand(command, fmt.Sprintf("%s exists", creates)), nil
		}
	}
	if removes := stringArg(args, "removes"); removes != "" {
		if _, err := conn.Stat(removes, true); err != nil {
			return skippedCommand(command, fmt.Sprintf("%s does not exist", removes)), nil
		}
	}

	if c.Check {
		return skipped("command would have run if not in check mode"), nil
	}

	opts := c.CommandOptions(args)
	opts.UseShell = useShell
	opts.Chdir = stringArg(args, "chdir")

	res, err := conn.ExecuteCommand(ctx, command, opts)
	if err != nil {
		return Result{}, err
	}
	return commandResult(command, res), nil
}

func skippedCommand(command, reason string) Result {
	rc := 0
	return Result{
		Status: StatusOK,
		Msg:    "Did not run command since " + reason,
		RC:     &rc,
		Data:   map[string]interface{}{"cmd": command},
	}
}

func commandResult(command string, res *runtime.CommandResult) Result {
	rc := res.ExitCode
	result := Result{
		Status: StatusChanged,
		Stdout: strings.TrimRight(res.Stdout, "\n"),
		Stderr: strings.TrimRight(res.Stderr, "\n"),
		RC:     &rc,
		Data:   map[string]interface{}{"cmd": command},
	}
	if rc != 0 {
		result.Status = StatusFailed
		result.Msg = "non-zero return code"
		if hint, isSudo := runtime.SudoPasswordHint(res.Stderr); isSudo {
			result.Msg = hint
		}
	}
	return result
}

// runRaw sends the command string as is, without module processing or check mode support.
func runRaw(ctx context.Context, c *Context, args map[string]interface{}) (Result, error) {
	command := stringArg(args, "_raw_params")
	if command == "" {
		return failed("no command given"), nil
	}
	if c.Check {
		return skipped("raw does not support check mode"), nil
	}
	conn, err := c.Conn()
	if err != nil {
		return Result{}, err
	}
	opts := c.CommandOptions(args)
	opts.UseShell = true
	res, err := conn.ExecuteCommand(ctx, command, opts)
	if err != nil {
		return Result{}, err
	}
	return commandResult(command, res), nil
}
