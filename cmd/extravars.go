package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"

	"github.com/AlexanderGrooff/converge/pkg/vars"
)

// parseExtraVars merges every -e argument in order. An argument is either
// @file (YAML or JSON), an inline YAML/JSON mapping or key=value pairs.
func parseExtraVars(args []string) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	for _, arg := range args {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}

		var parsed map[string]interface{}
		var err error
		switch {
		case strings.HasPrefix(arg, "@"):
			parsed, err = readVarsFile(arg[1:])
		case strings.HasPrefix(arg, "{"):
			parsed, err = parseVarsDocument([]byte(arg), "inline extra vars")
		default:
			parsed, err = parseKeyValues(arg)
		}
		if err != nil {
			return nil, err
		}
		vars.DeepMerge(out, parsed)
	}
	return out, nil
}

func readVarsFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read extra vars file: %w", err)
	}
	return parseVarsDocument(data, path)
}

// parseVarsDocument decodes a YAML mapping; JSON is valid YAML.
func parseVarsDocument(data []byte, source string) (map[string]interface{}, error) {
	parsed := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", source, err)
	}
	return parsed, nil
}

func parseKeyValues(arg string) (map[string]interface{}, error) {
	tokens, err := shlex.Split(arg)
	if err != nil {
		return nil, fmt.Errorf("failed to split %q: %w", arg, err)
	}
	parsed := map[string]interface{}{}
	for _, tok := range tokens {
		key, value, ok := strings.Cut(tok, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid extra var %q, expected key=value", tok)
		}
		parsed[key] = value
	}
	return parsed, nil
}
