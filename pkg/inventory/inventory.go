package inventory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AlexanderGrooff/converge/pkg/common"
	"github.com/AlexanderGrooff/converge/pkg/vars"
	"gopkg.in/yaml.v3"
)

// ErrGroupCycle is returned when groups contain each other through their children.
var ErrGroupCycle = errors.New("group hierarchy contains a cycle")

const (
	GroupAll       = "all"
	GroupUngrouped = "ungrouped"
)

// Host represents a single host in the inventory
type Host struct {
	Name    string
	Address string
	Port    int
	User    string
	// Groups the host was declared in directly
	Groups []string
	Vars   map[string]interface{}
}

func (h *Host) String() string {
	return h.Name
}

// Addr returns the address used to connect to the host.
func (h *Host) Addr() string {
	if h.Address != "" {
		return h.Address
	}
	return h.Name
}

// IsLocal reports whether tasks for this host run on the control node.
func (h *Host) IsLocal() bool {
	if conn, ok := h.Vars["ansible_connection"].(string); ok {
		return conn == "local"
	}
	switch h.Addr() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Group represents a group of hosts in the inventory
type Group struct {
	Name     string
	Hosts    []string
	Children []string
	Vars     map[string]interface{}
}

// ScopeKind identifies which inventory scope VariablesFor reads.
type ScopeKind int

const (
	ScopeAll ScopeKind = iota
	ScopeGroup
	ScopeHost
)

type ScopeKey struct {
	Kind ScopeKind
	Name string
}

// Provider is the read side of an inventory as the engine consumes it.
type Provider interface {
	ListHosts() []*Host
	ListGroups() []*Group
	VariablesFor(scope ScopeKey) map[string]interface{}
}

// Inventory is a static or script-produced set of hosts and groups.
type Inventory struct {
	Hosts  map[string]*Host
	Groups map[string]*Group
	// Files holds group_vars/ and host_vars/ found next to the inventory source.
	Files vars.GroupedVars

	order     []string
	positions map[string]int
}

func New() *Inventory {
	return &Inventory{
		Hosts:  make(map[string]*Host),
		Groups: make(map[string]*Group),
		Files:  vars.NewGroupedVars(),
	}
}

// Localhost returns the implicit inventory used when none is given.
func Localhost() *Inventory {
	inv := New()
	inv.AddHost(&Host{Name: "localhost", Vars: map[string]interface{}{"ansible_connection": "local"}})
	if err := inv.Finalize(); err != nil {
		panic(err)
	}
	return inv
}

// Load reads an inventory from path. YAML files are parsed directly, JSON files
// are read as ansible-inventory output and executables are run with --list.
func Load(ctx context.Context, path string) (*Inventory, error) {
	if path == "" {
		return Localhost(), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory %s: %w", path, err)
	}

	var inv *Inventory
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read inventory %s: %w", path, err)
		}
		inv, err = ParseJSON(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse inventory %s: %w", path, err)
		}
	case ext != ".yml" && ext != ".yaml" && info.Mode()&0111 != 0:
		inv, err = RunScript(ctx, path)
		if err != nil {
			return nil, err
		}
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read inventory %s: %w", path, err)
		}
		inv, err = Parse(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse inventory %s: %w", path, err)
		}
	}

	files, err := LoadGroupedVars(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	inv.Files = files
	if err := inv.Finalize(); err != nil {
		return nil, err
	}
	common.LogDebug("Loaded inventory", map[string]interface{}{
		"path":   path,
		"hosts":  len(inv.Hosts),
		"groups": len(inv.Groups),
	})
	return inv, nil
}

// Parse reads an ansible-style YAML inventory. Top-level keys are groups, each
// with optional hosts, children and vars.
func Parse(data []byte) (*Inventory, error) {
	inv := New()
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return inv, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("inventory root must be a mapping of groups")
	}
	err := eachPair(root, func(name string, value *yaml.Node) error {
		return inv.parseGroup(name, value)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (inv *Inventory) parseGroup(name string, node *yaml.Node) error {
	group := inv.ensureGroup(name)
	if node == nil || node.Kind == yaml.ScalarNode {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("group %s must be a mapping", name)
	}
	return eachPair(node, func(key string, value *yaml.Node) error {
		switch key {
		case "hosts":
			return eachPair(value, func(hostName string, hostNode *yaml.Node) error {
				hostVars := map[string]interface{}{}
				if hostNode != nil && hostNode.Kind == yaml.MappingNode {
					if err := hostNode.Decode(&hostVars); err != nil {
						return fmt.Errorf("failed to decode host %s: %w", hostName, err)
					}
				}
				inv.AddHost(&Host{Name: hostName, Vars: hostVars}, name)
				return nil
			})
		case "children":
			return eachPair(value, func(child string, childNode *yaml.Node) error {
				inv.AddChild(name, child)
				return inv.parseGroup(child, childNode)
			})
		case "vars":
			groupVars := map[string]interface{}{}
			if err := value.Decode(&groupVars); err != nil {
				return fmt.Errorf("failed to decode vars of group %s: %w", name, err)
			}
			group.Vars = vars.DeepMerge(group.Vars, groupVars)
			return nil
		default:
			return fmt.Errorf("unknown key %q in group %s", key, name)
		}
	})
}

// eachPair walks a YAML mapping in document order. A null node is an empty mapping.
func eachPair(node *yaml.Node, fn func(key string, value *yaml.Node) error) error {
	if node == nil || node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if err := fn(node.Content[i].Value, node.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

func (inv *Inventory) ensureGroup(name string) *Group {
	g, ok := inv.Groups[name]
	if !ok {
		g = &Group{Name: name, Vars: map[string]interface{}{}}
		inv.Groups[name] = g
	}
	return g
}

// AddHost adds the host (merging vars if it already exists) and puts it in the given groups.
func (inv *Inventory) AddHost(h *Host, groups ...string) *Host {
	existing, ok := inv.Hosts[h.Name]
	if !ok {
		if h.Vars == nil {
			h.Vars = map[string]interface{}{}
		}
		existing = h
		inv.Hosts[h.Name] = h
		inv.order = append(inv.order, h.Name)
	} else {
		existing.Vars = vars.DeepMerge(existing.Vars, h.Vars)
	}
	applyConnectionVars(existing)

	for _, groupName := range groups {
		if groupName == GroupAll {
			continue
		}
		g := inv.ensureGroup(groupName)
		if !contains(g.Hosts, existing.Name) {
			g.Hosts = append(g.Hosts, existing.Name)
		}
		if !contains(existing.Groups, groupName) {
			existing.Groups = append(existing.Groups, groupName)
		}
	}
	return existing
}

// AddChild makes child a sub-group of parent.
func (inv *Inventory) AddChild(parent, child string) {
	p := inv.ensureGroup(parent)
	inv.ensureGroup(child)
	if parent != GroupAll && !contains(p.Children, child) {
		p.Children = append(p.Children, child)
	}
}

func applyConnectionVars(h *Host) {
	for _, key := range []string{"ansible_host", "host"} {
		if addr, ok := h.Vars[key].(string); ok && addr != "" {
			h.Address = addr
			break
		}
	}
	if port, ok := h.Vars["ansible_port"]; ok {
		if p, err := common.ToInt(port); err == nil {
			h.Port = p
		}
	}
	if user, ok := h.Vars["ansible_user"].(string); ok {
		h.User = user
	}
}

// Finalize checks the group hierarchy and sets up the implicit groups.
// It must be called after all hosts and groups are added.
func (inv *Inventory) Finalize() error {
	if err := inv.checkCycles(); err != nil {
		return err
	}

	all := inv.ensureGroup(GroupAll)
	all.Hosts = append([]string(nil), inv.order...)
	ungrouped := inv.ensureGroup(GroupUngrouped)
	ungrouped.Hosts = nil
	for _, name := range inv.order {
		if len(inv.Hosts[name].Groups) == 0 {
			ungrouped.Hosts = append(ungrouped.Hosts, name)
		}
	}

	parents := inv.parents()
	all.Children = nil
	for name := range inv.Groups {
		if name != GroupAll && len(parents[name]) == 0 {
			all.Children = append(all.Children, name)
		}
	}
	sort.Strings(all.Children)
	inv.positions = inv.traversalPositions()
	return nil
}

func (inv *Inventory) checkCycles() error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		if onStack[name] {
			return fmt.Errorf("%w: %s -> %s", ErrGroupCycle, strings.Join(path, " -> "), name)
		}
		if visited[name] {
			return nil
		}
		visited[name] = true
		onStack[name] = true
		path = append(path, name)
		if g, ok := inv.Groups[name]; ok {
			for _, child := range g.Children {
				if err := visit(child); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		onStack[name] = false
		return nil
	}

	names := make([]string, 0, len(inv.Groups))
	for name := range inv.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

func (inv *Inventory) parents() map[string][]string {
	parents := make(map[string][]string)
	for name, g := range inv.Groups {
		for _, child := range g.Children {
			parents[child] = append(parents[child], name)
		}
	}
	return parents
}

// ListHosts returns all hosts in declaration order.
func (inv *Inventory) ListHosts() []*Host {
	hosts := make([]*Host, 0, len(inv.order))
	for _, name := range inv.order {
		hosts = append(hosts, inv.Hosts[name])
	}
	return hosts
}

// ListGroups returns all groups sorted by name.
func (inv *Inventory) ListGroups() []*Group {
	names := make([]string, 0, len(inv.Groups))
	for name := range inv.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	groups := make([]*Group, 0, len(names))
	for _, name := range names {
		groups = append(groups, inv.Groups[name])
	}
	return groups
}

// VariablesFor returns the variables written inline in the inventory for one scope.
func (inv *Inventory) VariablesFor(scope ScopeKey) map[string]interface{} {
	switch scope.Kind {
	case ScopeAll:
		if g, ok := inv.Groups[GroupAll]; ok {
			return vars.CopyMap(g.Vars)
		}
	case ScopeGroup:
		if g, ok := inv.Groups[scope.Name]; ok {
			return vars.CopyMap(g.Vars)
		}
	case ScopeHost:
		if h, ok := inv.Hosts[scope.Name]; ok {
			return vars.CopyMap(h.Vars)
		}
	}
	return map[string]interface{}{}
}

// InlineVars collects every inline variable scope for the resolver.
func (inv *Inventory) InlineVars() vars.GroupedVars {
	gv := vars.NewGroupedVars()
	gv.All = inv.VariablesFor(ScopeKey{Kind: ScopeAll})
	for name := range inv.Groups {
		if name == GroupAll {
			continue
		}
		gv.Groups[name] = inv.VariablesFor(ScopeKey{Kind: ScopeGroup, Name: name})
	}
	for name := range inv.Hosts {
		gv.Hosts[name] = inv.VariablesFor(ScopeKey{Kind: ScopeHost, Name: name})
	}
	return gv
}

// GroupNames returns the sorted names of every group the host belongs to,
// including inherited parents but excluding the implicit groups.
func (inv *Inventory) GroupNames(host string) []string {
	var names []string
	for name := range inv.memberships(host) {
		if name != GroupAll && name != GroupUngrouped {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// GroupMembers maps each group name to the names of its hosts, children included.
func (inv *Inventory) GroupMembers() map[string][]string {
	members := make(map[string][]string, len(inv.Groups))
	for name := range inv.Groups {
		var hosts []string
		for _, h := range inv.hostsOfGroup(name) {
			hosts = append(hosts, h.Name)
		}
		members[name] = hosts
	}
	return members
}

// memberships returns every group the host is in, directly or through a child group.
func (inv *Inventory) memberships(host string) map[string]bool {
	h, ok := inv.Hosts[host]
	if !ok {
		return nil
	}
	parents := inv.parents()
	groups := map[string]bool{GroupAll: true}
	var climb func(name string)
	climb = func(name string) {
		if groups[name] {
			return
		}
		groups[name] = true
		for _, p := range parents[name] {
			climb(p)
		}
	}
	for _, g := range h.Groups {
		climb(g)
	}
	if len(h.Groups) == 0 {
		groups[GroupUngrouped] = true
	}
	return groups
}

func (inv *Inventory) hostsOfGroup(name string) []*Host {
	if name == GroupAll {
		return inv.ListHosts()
	}
	seen := make(map[string]bool)
	var collect func(group string, depth int)
	collect = func(group string, depth int) {
		g, ok := inv.Groups[group]
		if !ok || depth > len(inv.Groups) {
			return
		}
		for _, h := range g.Hosts {
			seen[h] = true
		}
		for _, child := range g.Children {
			collect(child, depth+1)
		}
	}
	collect(name, 0)

	var hosts []*Host
	for _, hostName := range inv.order {
		if seen[hostName] {
			hosts = append(hosts, inv.Hosts[hostName])
		}
	}
	return hosts
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
