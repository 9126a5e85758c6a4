package modules

import (
	"context"
	"sort"

	"github.com/AlexanderGrooff/converge/pkg/common"
)

// runSetFact stores its arguments in the host's run scope. With cacheable they
// also go to the fact cache.
func runSetFact(ctx context.Context, c *Context, args map[string]interface{}) (Result, error) {
	cacheable, err := boolArg(args, "cacheable", false)
	if err != nil {
		return Result{}, err
	}

	values := make(map[string]interface{})
	for key, value := range args {
		switch key {
		case "cacheable", "_environment":
			continue
		case "_raw_params":
			return failed("set_fact takes key=value pairs, got %q", value), nil
		}
		values[key] = value
	}
	if len(values) == 0 {
		return failed("No key/value pairs provided, at least one is required for this action to succeed"), nil
	}

	common.DebugOutput("Setting facts %v on %s", keys(values), c.Host)
	result := Result{
		Status:   StatusOK,
		HostVars: values,
		Data:     map[string]interface{}{"ansible_facts": values},
	}
	if cacheable {
		result.Facts = values
	}
	return result, nil
}

func keys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
