package modules

import "context"

// runShell executes the command through /bin/sh so pipes, redirects and
// variable expansion work.
func runShell(ctx context.Context, c *Context, args map[string]interface{}) (Result, error) {
	return execute(ctx, c, args, true)
}
