package modules

import (
	"context"
	"encoding/base64"
	"os"
)

// runSlurp returns the base64 encoded content of a file on the host.
func runSlurp(ctx context.Context, c *Context, args map[string]interface{}) (Result, error) {
	src := stringArg(args, "src", "path")
	if src == "" {
		return failed("src is required"), nil
	}
	conn, err := c.Conn()
	if err != nil {
		return Result{}, err
	}
	data, err := conn.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			return failed("file not found: %s", src), nil
		}
		return Result{}, err
	}
	return Result{
		Status: StatusOK,
		Data: map[string]interface{}{
			"content":  base64.StdEncoding.EncodeToString(data),
			"encoding": "base64",
			"source":   src,
		},
	}, nil
}
