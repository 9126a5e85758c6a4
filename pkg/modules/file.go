package modules

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// runFile manages the existence, type and mode of a path.
func runFile(ctx context.Context, c *Context, args map[string]interface{}) (Result, error) {
	target := stringArg(args, "path", "dest", "name")
	if target == "" {
		return failed("path is required"), nil
	}
	conn, err := c.Conn()
	if err != nil {
		return Result{}, err
	}

	mode := modeArg(args)
	if mode != "" {
		if _, err := parseMode(mode); err != nil {
			return failed("%v", err), nil
		}
	}

	info, statErr := conn.Stat(target, false)
	exists := statErr == nil
	state := stringArg(args, "state")
	if state == "" {
		state = "file"
		if exists && info.IsDir() {
			state = "directory"
		}
	}

	var command string
	isChanged := false
	switch state {
	case "absent":
		if exists {
			command = "rm -rf " + quoteArg(target)
			isChanged = true
		}
	case "directory":
		if exists && !info.IsDir() {
			return failed("%s exists and is not a directory", target), nil
		}
		if !exists {
			command = "mkdir -p " + quoteArg(target)
			isChanged = true
		}
	case "touch":
		command = "touch " + quoteArg(target)
		isChanged = true
	case "file":
		if !exists {
			return failed("file (%s) is absent, cannot continue", target), nil
		}
		if info.IsDir() {
			return failed("%s is a directory", target), nil
		}
	case "link":
		src := stringArg(args, "src")
		if src == "" {
			return failed("src is required for state=link"), nil
		}
		if exists && info.Mode()&os.ModeSymlink != 0 {
			current, err := readLink(ctx, c, target)
			if err != nil {
				return Result{}, err
			}
			isChanged = current != src
		} else {
			isChanged = true
		}
		if isChanged {
			command = "ln -sfn " + quoteArg(src) + " " + quoteArg(target)
		}
	default:
		return failed("value of state must be one of: absent, directory, file, link, touch, got: %s", state), nil
	}

	modeChanged := false
	if mode != "" && state != "absent" && state != "link" {
		perm, _ := parseMode(mode)
		modeChanged = !exists || info.Mode().Perm() != perm
	}

	result := changed(isChanged || modeChanged)
	result.Data = map[string]interface{}{"path": target, "state": state}
	if c.Check || !result.Changed() {
		return result, nil
	}

	if command != "" {
		res, err := conn.ExecuteCommand(ctx, command, c.CommandOptions(args))
		if err != nil {
			return Result{}, err
		}
		if res.ExitCode != 0 {
			return failed("%s failed: %s", strings.Fields(command)[0], strings.TrimSpace(res.Stderr)), nil
		}
	}
	if modeChanged {
		if err := conn.SetFileMode(target, mode); err != nil {
			return Result{}, err
		}
	}
	return result, nil
}

func readLink(ctx context.Context, c *Context, target string) (string, error) {
	conn, err := c.Conn()
	if err != nil {
		return "", err
	}
	res, err := conn.ExecuteCommand(ctx, "readlink "+quoteArg(target), c.CommandOptions(nil))
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("readlink %s failed: %s", target, strings.TrimSpace(res.Stderr))
	}
	return strings.TrimSpace(res.Stdout), nil
}
