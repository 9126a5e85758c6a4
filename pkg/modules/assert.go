package modules

import (
	"context"
	"fmt"

	"github.com/AlexanderGrooff/converge/pkg/template"
)

// runAssert evaluates every expression in that and fails on the first false one.
func runAssert(ctx context.Context, c *Context, args map[string]interface{}) (Result, error) {
	that := listArg(args, "that")
	if len(that) == 0 {
		return failed("assert requires the 'that' parameter"), nil
	}

	for _, expr := range that {
		passed, err := template.EvaluateCondition(c.Evaluator, []string{expr}, c.Vars)
		if err != nil {
			return Result{}, fmt.Errorf("the conditional check '%s' failed: %w", expr, err)
		}
		if !passed {
			msg := stringArg(args, "fail_msg", "msg")
			if msg == "" {
				msg = "Assertion failed"
			}
			return Result{
				Status: StatusFailed,
				Msg:    msg,
				Data: map[string]interface{}{
					"assertion":    expr,
					"evaluated_to": false,
				},
			}, nil
		}
	}

	msg := stringArg(args, "success_msg")
	if msg == "" {
		msg = "All assertions passed"
	}
	return Result{Status: StatusOK, Msg: msg}, nil
}
