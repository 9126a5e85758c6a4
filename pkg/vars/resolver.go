package vars

// GroupedVars is a set of variables keyed the way inventories and group_vars/host_vars
// directories key them: one mapping for "all", one per group and one per host.
type GroupedVars struct {
	All    map[string]interface{}
	Groups map[string]map[string]interface{}
	Hosts  map[string]map[string]interface{}
}

// NewGroupedVars returns an empty, ready to fill GroupedVars.
func NewGroupedVars() GroupedVars {
	return GroupedVars{
		All:    map[string]interface{}{},
		Groups: map[string]map[string]interface{}{},
		Hosts:  map[string]map[string]interface{}{},
	}
}

// FactSource provides gathered facts per host.
type FactSource interface {
	Get(host string) (map[string]interface{}, bool)
}

// HostInfo identifies the host whose variables are resolved.
type HostInfo struct {
	Name string
	// Groups the host belongs to, excluding "all", in tie-break order: later groups win.
	Groups []string
	// Magic variables such as inventory_hostname. They are shadowed by every other layer.
	Magic map[string]interface{}
}

// TaskScope carries the play and task specific layers for one task invocation.
type TaskScope struct {
	RoleDefaults map[string]interface{}
	Play         map[string]interface{}
	Task         map[string]interface{}
	Role         map[string]interface{}
	// Blocks lists enclosing block vars from the outermost to the innermost block.
	Blocks []map[string]interface{}
}

// Resolver assembles the layers for a host and task from the immutable sources
// loaded at the start of a run.
type Resolver struct {
	// Inline holds variables written directly in the inventory.
	Inline GroupedVars
	// InventoryFiles holds group_vars/ and host_vars/ next to the inventory.
	InventoryFiles GroupedVars
	// PlaybookFiles holds group_vars/ and host_vars/ next to the playbook.
	PlaybookFiles GroupedVars
	Facts         FactSource
	Extra         map[string]interface{}
}

// Layers returns the unsorted layers that apply to the host for the given scope.
func (r *Resolver) Layers(host HostInfo, scope TaskScope) []Layer {
	var layers []Layer
	add := func(rank Rank, order int, source string, vars map[string]interface{}) {
		if len(vars) == 0 {
			return
		}
		layers = append(layers, Layer{Rank: rank, Order: order, Source: source, Vars: vars})
	}

	add(magicRank, 0, "magic", host.Magic)
	add(RoleDefaults, 0, "role defaults", scope.RoleDefaults)

	// Inline inventory vars share one rank: all, then groups in tie-break order, then the host
	add(InventoryVars, 0, "inventory all", r.Inline.All)
	for i, group := range host.Groups {
		add(InventoryVars, i+1, "inventory group "+group, r.Inline.Groups[group])
	}
	add(InventoryVars, len(host.Groups)+1, "inventory host "+host.Name, r.Inline.Hosts[host.Name])

	add(InventoryGroupVarsAll, 0, "inventory group_vars/all", r.InventoryFiles.All)
	add(PlaybookGroupVarsAll, 0, "playbook group_vars/all", r.PlaybookFiles.All)
	for i, group := range host.Groups {
		add(InventoryGroupVars, i, "inventory group_vars/"+group, r.InventoryFiles.Groups[group])
		add(PlaybookGroupVars, i, "playbook group_vars/"+group, r.PlaybookFiles.Groups[group])
	}
	add(InventoryHostVars, 0, "inventory host_vars/"+host.Name, r.InventoryFiles.Hosts[host.Name])
	add(PlaybookHostVars, 0, "playbook host_vars/"+host.Name, r.PlaybookFiles.Hosts[host.Name])

	if r.Facts != nil {
		if facts, ok := r.Facts.Get(host.Name); ok && len(facts) > 0 {
			withNamespace := CopyMap(facts)
			withNamespace["ansible_facts"] = CopyMap(facts)
			add(Facts, 0, "facts", withNamespace)
		}
	}

	add(PlayVars, 0, "play vars", scope.Play)
	add(TaskVars, 0, "task vars", scope.Task)
	add(RoleVars, 0, "role vars", scope.Role)
	for i, block := range scope.Blocks {
		add(BlockVars, i, "block vars", block)
	}
	add(ExtraVars, 0, "extra vars", r.Extra)
	return layers
}

// Resolve returns the effective variables for the host and scope with the host's
// registered results applied on top.
func (r *Resolver) Resolve(host HostInfo, scope TaskScope, overlay *Overlay) map[string]interface{} {
	return Resolve(r.Layers(host, scope), overlay)
}
