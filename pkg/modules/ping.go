package modules

import (
	"context"
	"errors"

	"github.com/AlexanderGrooff/converge/pkg/runtime"
)

// runPing checks that the host can run a command.
func runPing(ctx context.Context, c *Context, args map[string]interface{}) (Result, error) {
	data := stringArg(args, "data")
	if data == "" {
		data = "pong"
	}
	if data == "crash" {
		return Result{}, errors.New("boom")
	}
	conn, err := c.Conn()
	if err != nil {
		return Result{}, err
	}
	res, err := conn.ExecuteCommand(ctx, "true", runtime.NewCommandOptions())
	if err != nil {
		return Result{}, err
	}
	if res.ExitCode != 0 {
		return failed("ping failed with exit code %d: %s", res.ExitCode, res.Stderr), nil
	}
	return Result{Status: StatusOK, Data: map[string]interface{}{"ping": data}}, nil
}
