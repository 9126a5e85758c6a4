package modules

import (
	"context"
	"os"
	"regexp"
	"strings"
)

// runLineInFile ensures a line is present in or absent from a file. With
// regexp, the last matching line is replaced or removed.
func runLineInFile(ctx context.Context, c *Context, args map[string]interface{}) (Result, error) {
	target := stringArg(args, "path", "dest", "name")
	if target == "" {
		return failed("path is required"), nil
	}
	state := stringArg(args, "state")
	if state == "" {
		state = "present"
	}
	line := stringArg(args, "line", "value")
	if state == "present" && line == "" {
		return failed("line is required with state=present"), nil
	}
	var re *regexp.Regexp
	if pattern := stringArg(args, "regexp", "regex"); pattern != "" {
		var err error
		if re, err = regexp.Compile(pattern); err != nil {
			return failed("invalid regexp %q: %v", pattern, err), nil
		}
	}
	create, err := boolArg(args, "create", false)
	if err != nil {
		return Result{}, err
	}

	conn, err := c.Conn()
	if err != nil {
		return Result{}, err
	}
	data, err := conn.ReadFile(target)
	if err != nil {
		if !os.IsNotExist(err) {
			return Result{}, err
		}
		if state == "absent" {
			return ok(), nil
		}
		if !create {
			return failed("Destination %s does not exist !", target), nil
		}
	}

	lines := splitFileLines(string(data))
	var updated []string
	msg := ""
	switch state {
	case "present":
		updated, msg = ensureLine(lines, line, re)
	case "absent":
		updated, msg = removeLine(lines, line, re)
	default:
		return failed("value of state must be one of: present, absent, got: %s", state), nil
	}

	if msg == "" {
		return ok(), nil
	}
	content := strings.Join(updated, "\n")
	if len(updated) > 0 {
		content += "\n"
	}
	result := Result{Status: StatusChanged, Msg: msg}
	if c.Diff {
		result.Diff = &Diff{Path: target, Before: string(data), After: content}
	}
	if c.Check {
		return result, nil
	}
	written, err := writeContent(c, map[string]interface{}{"mode": args["mode"]}, target, "", []byte(content))
	if err != nil || written.Failed() {
		return written, err
	}
	result.Data = written.Data
	return result, nil
}

func splitFileLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func ensureLine(lines []string, line string, re *regexp.Regexp) ([]string, string) {
	out := append([]string(nil), lines...)
	if re != nil {
		for i := len(out) - 1; i >= 0; i-- {
			if re.MatchString(out[i]) {
				if out[i] == line {
					return out, ""
				}
				out[i] = line
				return out, "line replaced"
			}
		}
	}
	for _, l := range out {
		if l == line {
			return out, ""
		}
	}
	return append(out, line), "line added"
}

func removeLine(lines []string, line string, re *regexp.Regexp) ([]string, string) {
	var out []string
	removed := 0
	for _, l := range lines {
		if (re != nil && re.MatchString(l)) || (re == nil && l == line) {
			removed++
			continue
		}
		out = append(out, l)
	}
	if removed == 0 {
		return lines, ""
	}
	return out, "line removed"
}
