package inventory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AlexanderGrooff/converge/pkg/vars"
	"gopkg.in/yaml.v3"
)

var varsFileExtensions = []string{".yml", ".yaml", ".json"}

// LoadGroupedVars reads group_vars/ and host_vars/ below dir. Each entry is either a
// single <name>.yml|.yaml|.json file or a <name>/ directory whose files are merged
// in lexical order. Missing directories are not an error.
func LoadGroupedVars(dir string) (vars.GroupedVars, error) {
	gv := vars.NewGroupedVars()

	groups, err := loadVarsDir(filepath.Join(dir, "group_vars"))
	if err != nil {
		return gv, err
	}
	for name, v := range groups {
		if name == GroupAll {
			gv.All = v
			continue
		}
		gv.Groups[name] = v
	}

	hosts, err := loadVarsDir(filepath.Join(dir, "host_vars"))
	if err != nil {
		return gv, err
	}
	gv.Hosts = hosts
	return gv, nil
}

func loadVarsDir(dir string) (map[string]map[string]interface{}, error) {
	out := make(map[string]map[string]interface{})
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			merged, err := loadVarsTree(path)
			if err != nil {
				return nil, err
			}
			out[entry.Name()] = vars.DeepMerge(out[entry.Name()], merged)
			continue
		}
		name, ok := trimVarsExtension(entry.Name())
		if !ok {
			continue
		}
		v, err := ReadVarsFile(path)
		if err != nil {
			return nil, err
		}
		out[name] = vars.DeepMerge(out[name], v)
	}
	return out, nil
}

func loadVarsTree(dir string) (map[string]interface{}, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if _, ok := trimVarsExtension(d.Name()); ok && !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	sort.Strings(files)

	merged := map[string]interface{}{}
	for _, f := range files {
		v, err := ReadVarsFile(f)
		if err != nil {
			return nil, err
		}
		vars.DeepMerge(merged, v)
	}
	return merged, nil
}

// ReadVarsFile reads a YAML or JSON mapping of variables.
func ReadVarsFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vars file %s: %w", path, err)
	}
	return ParseVars(data, path)
}

// ParseVars decodes a mapping of variables. name is only used in error messages
// and to select JSON decoding.
func ParseVars(data []byte, name string) (map[string]interface{}, error) {
	v := map[string]interface{}{}
	if strings.HasSuffix(name, ".json") {
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to parse vars file %s: %w", name, err)
		}
		return v, nil
	}
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse vars file %s: %w", name, err)
	}
	if v == nil {
		v = map[string]interface{}{}
	}
	return v, nil
}

func trimVarsExtension(name string) (string, bool) {
	for _, ext := range varsFileExtensions {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext), true
		}
	}
	return "", false
}
