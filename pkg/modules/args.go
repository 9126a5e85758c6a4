package modules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/AlexanderGrooff/converge/pkg/common"
)

// stringArg returns the first non-empty string among keys, which lists a
// parameter and its aliases.
func stringArg(args map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		v, found := args[key]
		if !found || v == nil {
			continue
		}
		s, isString := v.(string)
		if !isString {
			s = fmt.Sprint(v)
		}
		if s != "" {
			return s
		}
	}
	return ""
}

func boolArg(args map[string]interface{}, key string, def bool) (bool, error) {
	v, found := args[key]
	if !found || v == nil {
		return def, nil
	}
	b, err := common.ToBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func intArg(args map[string]interface{}, key string, def int) (int, error) {
	v, found := args[key]
	if !found || v == nil {
		return def, nil
	}
	i, err := common.ToInt(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return i, nil
}

// modeArg normalizes mode to an octal string. YAML reads an unquoted 0644 as
// the integer 420.
func modeArg(args map[string]interface{}) string {
	switch v := args["mode"].(type) {
	case nil:
		return ""
	case int:
		return fmt.Sprintf("%04o", v)
	case int64:
		return fmt.Sprintf("%04o", v)
	case float64:
		return fmt.Sprintf("%04o", int(v))
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// listArg accepts a single string or a list of strings.
func listArg(args map[string]interface{}, key string) []string {
	return common.ToStringSlice(args[key], false)
}

// findControllerFile locates a src file on the control node: absolute paths
// as is, relative ones under dir/<subdir>/ first and then dir/.
func findControllerFile(dir, subdir, src string) (string, error) {
	if filepath.IsAbs(src) {
		return src, nil
	}
	candidates := []string{}
	if dir != "" {
		candidates = append(candidates, filepath.Join(dir, subdir, src), filepath.Join(dir, src))
	}
	candidates = append(candidates, src)
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("could not find or access '%s' (searched %s)", src, strings.Join(candidates, ", "))
}
