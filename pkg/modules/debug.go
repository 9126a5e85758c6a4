package modules

import (
	"context"
	"fmt"

	"github.com/AlexanderGrooff/converge/pkg/template"
)

// runDebug prints msg, or the value of the expression in var.
func runDebug(ctx context.Context, c *Context, args map[string]interface{}) (Result, error) {
	if expr := stringArg(args, "var"); expr != "" {
		value, err := c.Evaluator.Evaluate(expr, c.Vars)
		if err != nil {
			if template.IsUndefined(err) {
				value = "VARIABLE IS NOT DEFINED!"
			} else {
				return Result{}, err
			}
		}
		return Result{Status: StatusOK, Data: map[string]interface{}{expr: value}}, nil
	}

	msg, found := args["msg"]
	if !found {
		msg = args["_raw_params"]
	}
	if msg == nil {
		msg = "Hello world!"
	}
	result := Result{Status: StatusOK, Data: map[string]interface{}{"msg": msg}}
	if s, isString := msg.(string); isString {
		result.Msg = s
	} else {
		result.Msg = fmt.Sprint(msg)
	}
	return result, nil
}
