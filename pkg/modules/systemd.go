package modules

import (
	"context"
	"strings"

	"github.com/AlexanderGrooff/converge/pkg/common"
	"github.com/AlexanderGrooff/converge/pkg/runtime"
)

type unitState struct {
	active  bool
	enabled bool
}

func systemctl(ctx context.Context, c *Context, args map[string]interface{}, verb string, rest ...string) (*runtime.CommandResult, error) {
	conn, err := c.Conn()
	if err != nil {
		return nil, err
	}
	parts := append([]string{"systemctl", verb}, rest...)
	for i, p := range parts {
		parts[i] = quoteArg(p)
	}
	return conn.ExecuteCommand(ctx, strings.Join(parts, " "), c.CommandOptions(args))
}

// currentUnitState asks systemd for the state of name. is-active and
// is-enabled exit non-zero for inactive and disabled units.
func currentUnitState(ctx context.Context, c *Context, args map[string]interface{}, name string) (unitState, error) {
	var st unitState
	res, err := systemctl(ctx, c, args, "is-active", name)
	if err != nil {
		return st, err
	}
	st.active = strings.TrimSpace(res.Stdout) == "active"

	res, err = systemctl(ctx, c, args, "is-enabled", name)
	if err != nil {
		return st, err
	}
	switch strings.TrimSpace(res.Stdout) {
	case "enabled", "enabled-runtime", "alias", "static", "indirect":
		st.enabled = true
	}
	return st, nil
}

// runSystemd manages a unit: started, stopped, restarted or reloaded state,
// enablement at boot and daemon-reload.
func runSystemd(ctx context.Context, c *Context, args map[string]interface{}) (Result, error) {
	name := stringArg(args, "name", "service", "unit")
	state := stringArg(args, "state")
	daemonReload, err := boolArg(args, "daemon_reload", false)
	if err != nil {
		return failed("%v", err), nil
	}
	switch state {
	case "", "started", "stopped", "restarted", "reloaded":
	default:
		return failed("invalid state %q, expected started, stopped, restarted or reloaded", state), nil
	}
	_, hasEnabled := args["enabled"]
	enabled, err := boolArg(args, "enabled", false)
	if err != nil {
		return failed("%v", err), nil
	}
	if name == "" && (state != "" || hasEnabled) {
		return failed("name is required when state or enabled is set"), nil
	}
	if name == "" && !daemonReload {
		return failed("one of name or daemon_reload is required"), nil
	}

	var actions [][]string
	if daemonReload {
		actions = append(actions, []string{"daemon-reload"})
	}

	data := map[string]interface{}{}
	if name != "" {
		data["name"] = name
		current, err := currentUnitState(ctx, c, args, name)
		if err != nil {
			return Result{}, err
		}
		if hasEnabled && current.enabled != enabled {
			verb := "disable"
			if enabled {
				verb = "enable"
			}
			actions = append(actions, []string{verb, name})
		}
		switch state {
		case "started":
			if !current.active {
				actions = append(actions, []string{"start", name})
			}
		case "stopped":
			if current.active {
				actions = append(actions, []string{"stop", name})
			}
		case "restarted":
			actions = append(actions, []string{"restart", name})
		case "reloaded":
			if current.active {
				actions = append(actions, []string{"reload", name})
			} else {
				actions = append(actions, []string{"start", name})
			}
		}
		if state != "" {
			data["state"] = state
		}
		if hasEnabled {
			data["enabled"] = enabled
		}
	}

	result := changed(len(actions) > 0)
	result.Data = data
	if c.Check || len(actions) == 0 {
		return result, nil
	}

	for _, action := range actions {
		common.LogDebug("Running systemctl", map[string]interface{}{
			"host":   c.Host.Name,
			"action": action[0],
			"unit":   name,
		})
		res, err := systemctl(ctx, c, args, action[0], action[1:]...)
		if err != nil {
			return Result{}, err
		}
		if res.ExitCode != 0 {
			out := failed("systemctl %s failed: %s", strings.Join(action, " "), strings.TrimSpace(res.Stderr))
			rc := res.ExitCode
			out.RC = &rc
			out.Stdout = strings.TrimRight(res.Stdout, "\n")
			out.Stderr = strings.TrimRight(res.Stderr, "\n")
			out.Data = data
			return out, nil
		}
	}
	return result, nil
}
