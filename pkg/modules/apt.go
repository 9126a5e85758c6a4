package modules

import (
	"context"
	"regexp"
	"strings"

	"github.com/AlexanderGrooff/converge/pkg/common"
	"github.com/AlexanderGrooff/converge/pkg/runtime"
)

var aptNothingDone = regexp.MustCompile(`\b0 upgraded, 0 newly installed, 0 to remove\b`)

func aptCommand(ctx context.Context, c *Context, args map[string]interface{}, command string) (*runtime.CommandResult, error) {
	conn, err := c.Conn()
	if err != nil {
		return nil, err
	}
	opts := c.CommandOptions(args)
	if opts.Env == nil {
		opts.Env = map[string]string{}
	}
	opts.Env["DEBIAN_FRONTEND"] = "noninteractive"
	return conn.ExecuteCommand(ctx, command, opts)
}

// packageInstalled reports whether dpkg knows name as installed. dpkg-query
// exits 1 for unknown packages.
func packageInstalled(ctx context.Context, c *Context, args map[string]interface{}, name string) (bool, error) {
	res, err := aptCommand(ctx, c, args, "dpkg-query -W -f='${Status}' "+quoteArg(name))
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		return false, nil
	}
	return strings.Contains(res.Stdout, "install ok installed"), nil
}

func aptFailed(what string, res *runtime.CommandResult) Result {
	out := commandResult(what, res)
	out.Msg = what + " failed: " + strings.TrimSpace(res.Stderr)
	return out
}

// runApt installs, upgrades or removes Debian packages.
func runApt(ctx context.Context, c *Context, args map[string]interface{}) (Result, error) {
	names := listArg(args, "name")
	if len(names) == 0 {
		names = listArg(args, "pkg")
	}
	state := stringArg(args, "state")
	if state == "" {
		state = "present"
	}
	if state == "installed" {
		state = "present"
	}
	if state == "removed" {
		state = "absent"
	}
	switch state {
	case "present", "absent", "latest":
	default:
		return failed("invalid state %q, expected present, absent or latest", state), nil
	}
	updateCache, err := boolArg(args, "update_cache", false)
	if err != nil {
		return failed("%v", err), nil
	}
	if len(names) == 0 && !updateCache {
		return failed("one of name or update_cache is required"), nil
	}

	var install, remove []string
	for _, name := range names {
		installed, err := packageInstalled(ctx, c, args, name)
		if err != nil {
			return Result{}, err
		}
		switch {
		case state == "absent" && installed:
			remove = append(remove, name)
		case state == "present" && !installed, state == "latest":
			install = append(install, name)
		}
	}

	data := map[string]interface{}{"packages": names, "state": state}
	if c.Check {
		result := changed(len(remove) > 0 || (state == "present" && len(install) > 0) || state == "latest")
		result.Data = data
		return result, nil
	}

	isChanged := false
	if updateCache {
		res, err := aptCommand(ctx, c, args, "apt-get -q update")
		if err != nil {
			return Result{}, err
		}
		if res.ExitCode != 0 {
			return aptFailed("apt-get update", res), nil
		}
		data["cache_updated"] = true
	}

	base := "apt-get -q -y "
	if len(install) > 0 {
		// install also upgrades packages that are already present
		command := base + "install"
		for _, name := range install {
			command += " " + quoteArg(name)
		}
		common.LogDebug("Installing packages", map[string]interface{}{"host": c.Host.Name, "packages": install, "state": state})
		res, err := aptCommand(ctx, c, args, command)
		if err != nil {
			return Result{}, err
		}
		if res.ExitCode != 0 {
			return aptFailed(command, res), nil
		}
		isChanged = isChanged || state == "present" || !aptNothingDone.MatchString(res.Stdout)
	}
	if len(remove) > 0 {
		command := base + "remove"
		for _, name := range remove {
			command += " " + quoteArg(name)
		}
		common.LogDebug("Removing packages", map[string]interface{}{"host": c.Host.Name, "packages": remove})
		res, err := aptCommand(ctx, c, args, command)
		if err != nil {
			return Result{}, err
		}
		if res.ExitCode != 0 {
			return aptFailed(command, res), nil
		}
		isChanged = true
	}

	result := changed(isChanged)
	result.Data = data
	return result, nil
}
