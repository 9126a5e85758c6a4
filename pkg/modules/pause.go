package modules

import (
	"context"
	"fmt"
	"time"
)

// runPause waits for seconds and/or minutes. Interactive prompts are not supported.
func runPause(ctx context.Context, c *Context, args map[string]interface{}) (Result, error) {
	seconds, err := intArg(args, "seconds", 0)
	if err != nil {
		return Result{}, err
	}
	minutes, err := intArg(args, "minutes", 0)
	if err != nil {
		return Result{}, err
	}
	if seconds < 0 || minutes < 0 {
		return failed("pause duration must not be negative"), nil
	}
	if seconds == 0 && minutes == 0 {
		if _, hasPrompt := args["prompt"]; hasPrompt {
			return failed("interactive pause prompts are not supported"), nil
		}
	}

	d := time.Duration(seconds)*time.Second + time.Duration(minutes)*time.Minute
	start := time.Now()
	if err := c.Clock.Sleep(ctx, d); err != nil {
		return Result{}, err
	}
	return Result{
		Status: StatusOK,
		Msg:    fmt.Sprintf("Paused for %s", d),
		Data: map[string]interface{}{
			"start": start.Format(time.RFC3339),
			"delta": d.Seconds(),
		},
	}, nil
}
