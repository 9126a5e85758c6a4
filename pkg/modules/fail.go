package modules

import "context"

func runFail(ctx context.Context, c *Context, args map[string]interface{}) (Result, error) {
	msg := stringArg(args, "msg")
	if msg == "" {
		msg = "Failed as requested from task"
	}
	return Result{Status: StatusFailed, Msg: msg}, nil
}
