package modules

import (
	"context"
	"fmt"
	"strings"

	"github.com/AlexanderGrooff/converge/pkg/runtime"
)

func gitCommand(ctx context.Context, c *Context, args map[string]interface{}, parts ...string) (*runtime.CommandResult, error) {
	conn, err := c.Conn()
	if err != nil {
		return nil, err
	}
	quoted := make([]string, 0, len(parts)+1)
	quoted = append(quoted, "git")
	for _, p := range parts {
		quoted = append(quoted, quoteArg(p))
	}
	return conn.ExecuteCommand(ctx, strings.Join(quoted, " "), c.CommandOptions(args))
}

// currentRev returns HEAD of the checkout at dest, or "" when dest is not a repository.
func currentRev(ctx context.Context, c *Context, args map[string]interface{}, dest string) (string, error) {
	res, err := gitCommand(ctx, c, args, "-C", dest, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", nil
	}
	return strings.TrimSpace(res.Stdout), nil
}

func gitFailed(step string, res *runtime.CommandResult) Result {
	out := commandResult("git "+step, res)
	out.Msg = fmt.Sprintf("git %s failed: %s", step, strings.TrimSpace(res.Stderr))
	return out
}

// runGit clones repo into dest when missing and checks out version.
func runGit(ctx context.Context, c *Context, args map[string]interface{}) (Result, error) {
	repo := stringArg(args, "repo", "name")
	dest := stringArg(args, "dest")
	if repo == "" || dest == "" {
		return failed("missing required parameters repo and dest"), nil
	}
	version := stringArg(args, "version")

	before, err := currentRev(ctx, c, args, dest)
	if err != nil {
		return Result{}, err
	}
	data := map[string]interface{}{"before": before, "after": before, "dest": dest}
	if c.Check {
		result := changed(before == "" || version != "")
		result.Data = data
		return result, nil
	}

	if before == "" {
		res, err := gitCommand(ctx, c, args, "clone", repo, dest)
		if err != nil {
			return Result{}, err
		}
		if res.ExitCode != 0 {
			return gitFailed("clone", res), nil
		}
	} else if version != "" {
		res, err := gitCommand(ctx, c, args, "-C", dest, "fetch", "--tags", "origin")
		if err != nil {
			return Result{}, err
		}
		if res.ExitCode != 0 {
			return gitFailed("fetch", res), nil
		}
	}
	if version != "" {
		res, err := gitCommand(ctx, c, args, "-C", dest, "checkout", version)
		if err != nil {
			return Result{}, err
		}
		if res.ExitCode != 0 {
			return gitFailed("checkout", res), nil
		}
	}

	after, err := currentRev(ctx, c, args, dest)
	if err != nil {
		return Result{}, err
	}
	data["after"] = after
	result := changed(before != after)
	result.Data = data
	return result, nil
}
