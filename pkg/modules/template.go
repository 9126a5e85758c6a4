package modules

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// runTemplate renders a controller-side template with the task variables and
// writes the result to dest.
func runTemplate(ctx context.Context, c *Context, args map[string]interface{}) (Result, error) {
	src := stringArg(args, "src")
	dest := stringArg(args, "dest")
	if src == "" || dest == "" {
		return failed("src and dest are required"), nil
	}

	srcPath, err := findControllerFile(c.Dir, "templates", src)
	if err != nil {
		return failed("%v", err), nil
	}
	raw, err := os.ReadFile(srcPath)
	if err != nil {
		return failed("failed to read %s: %v", srcPath, err), nil
	}

	rendered, err := c.Evaluator.Template(string(raw), c.Vars)
	if err != nil {
		return Result{}, err
	}
	// jinja drops the trailing newline of the template source
	if strings.HasSuffix(string(raw), "\n") && !strings.HasSuffix(rendered, "\n") {
		rendered += "\n"
	}

	return writeContent(c, args, dest, strings.TrimSuffix(filepath.Base(srcPath), ".j2"), []byte(rendered))
}
