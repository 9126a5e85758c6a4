package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"

	"github.com/AlexanderGrooff/converge/pkg/common"
)

// scriptGroup is one group entry of ansible-inventory --list output.
type scriptGroup struct {
	Hosts    []string               `json:"hosts,omitempty"`
	Children []string               `json:"children,omitempty"`
	Vars     map[string]interface{} `json:"vars,omitempty"`
}

type scriptMeta struct {
	HostVars map[string]map[string]interface{} `json:"hostvars"`
}

// RunScript executes a dynamic inventory executable with --list and parses its output.
func RunScript(ctx context.Context, path string) (*Inventory, error) {
	common.LogDebug("Running dynamic inventory", map[string]interface{}{"path": path})

	cmd := exec.CommandContext(ctx, path, "--list")
	output, err := cmd.Output()
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("dynamic inventory %s failed: %s", path, string(exitError.Stderr))
		}
		return nil, fmt.Errorf("failed to execute dynamic inventory %s: %w", path, err)
	}

	inv, err := ParseJSON(output)
	if err != nil {
		return nil, fmt.Errorf("failed to parse output of dynamic inventory %s: %w", path, err)
	}
	return inv, nil
}

// ParseJSON reads the JSON format produced by ansible-inventory --list: a
// _meta.hostvars section plus one object per group with hosts, children and vars.
func ParseJSON(data []byte) (*Inventory, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse inventory JSON: %w", err)
	}

	var meta scriptMeta
	if m, ok := raw["_meta"]; ok {
		if err := json.Unmarshal(m, &meta); err != nil {
			return nil, fmt.Errorf("failed to parse _meta: %w", err)
		}
	}

	groupNames := make([]string, 0, len(raw))
	for name := range raw {
		if name != "_meta" {
			groupNames = append(groupNames, name)
		}
	}
	// Keep "all" first so its hosts set the declaration order
	sort.Slice(groupNames, func(i, j int) bool {
		if groupNames[i] == GroupAll || groupNames[j] == GroupAll {
			return groupNames[i] == GroupAll
		}
		return groupNames[i] < groupNames[j]
	})

	inv := New()
	for _, name := range groupNames {
		var g scriptGroup
		if err := json.Unmarshal(raw[name], &g); err != nil {
			// Older scripts may emit a plain list of hosts
			var hosts []string
			if listErr := json.Unmarshal(raw[name], &hosts); listErr != nil {
				return nil, fmt.Errorf("failed to parse group %s: %w", name, err)
			}
			g.Hosts = hosts
		}
		group := inv.ensureGroup(name)
		if g.Vars != nil {
			group.Vars = g.Vars
		}
		for _, hostName := range g.Hosts {
			inv.AddHost(&Host{Name: hostName, Vars: copyOrEmpty(meta.HostVars[hostName])}, name)
		}
		for _, child := range g.Children {
			inv.AddChild(name, child)
		}
	}

	// Hosts that only appear in _meta still exist
	metaHosts := make([]string, 0, len(meta.HostVars))
	for name := range meta.HostVars {
		metaHosts = append(metaHosts, name)
	}
	sort.Strings(metaHosts)
	for _, name := range metaHosts {
		if _, ok := inv.Hosts[name]; !ok {
			inv.AddHost(&Host{Name: name, Vars: copyOrEmpty(meta.HostVars[name])})
		}
	}

	common.LogDebug("Parsed inventory JSON", map[string]interface{}{
		"hosts_count":  len(inv.Hosts),
		"groups_count": len(inv.Groups),
	})
	return inv, nil
}

func copyOrEmpty(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
