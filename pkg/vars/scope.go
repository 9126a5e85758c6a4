package vars

import (
	"fmt"
	"sort"
	"sync"
)

// Rank is the precedence of a variable layer. Higher ranks override lower ones.
type Rank int

const (
	RoleDefaults Rank = iota + 1
	InventoryVars
	InventoryGroupVarsAll
	PlaybookGroupVarsAll
	InventoryGroupVars
	PlaybookGroupVars
	InventoryHostVars
	PlaybookHostVars
	Facts
	PlayVars
	TaskVars
	RoleVars
	BlockVars
	ExtraVars
)

// magicRank sits below every user defined layer so any of them may shadow a magic variable.
const magicRank Rank = 0

var rankNames = map[Rank]string{
	magicRank:             "magic",
	RoleDefaults:          "role defaults",
	InventoryVars:         "inventory vars",
	InventoryGroupVarsAll: "inventory group_vars/all",
	PlaybookGroupVarsAll:  "playbook group_vars/all",
	InventoryGroupVars:    "inventory group_vars/*",
	PlaybookGroupVars:     "playbook group_vars/*",
	InventoryHostVars:     "inventory host_vars/*",
	PlaybookHostVars:      "playbook host_vars/*",
	Facts:                 "facts",
	PlayVars:              "play vars",
	TaskVars:              "task vars",
	RoleVars:              "role vars",
	BlockVars:             "block vars",
	ExtraVars:             "extra vars",
}

func (r Rank) String() string {
	if name, ok := rankNames[r]; ok {
		return name
	}
	return fmt.Sprintf("rank(%d)", int(r))
}

// Ranks returns every user-facing rank in ascending precedence.
func Ranks() []Rank {
	ranks := make([]Rank, 0, int(ExtraVars))
	for r := RoleDefaults; r <= ExtraVars; r++ {
		ranks = append(ranks, r)
	}
	return ranks
}

// Layer is one immutable mapping of variables at a fixed rank. Order breaks ties
// between layers of the same rank: the higher Order wins.
type Layer struct {
	Rank   Rank
	Order  int
	Source string
	Vars   map[string]interface{}
}

// Resolve merges the layers by ascending (Rank, Order) and applies the overlay on top.
// The outcome does not depend on the order of the layers slice.
func Resolve(layers []Layer, overlay *Overlay) map[string]interface{} {
	sorted := make([]Layer, len(layers))
	copy(sorted, layers)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Rank != sorted[j].Rank {
			return sorted[i].Rank < sorted[j].Rank
		}
		if sorted[i].Order != sorted[j].Order {
			return sorted[i].Order < sorted[j].Order
		}
		return sorted[i].Source < sorted[j].Source
	})

	result := make(map[string]interface{})
	hostFactsMerged := overlay == nil
	mergeHostFacts := func() {
		if !hostFactsMerged {
			DeepMerge(result, overlay.HostFacts())
			hostFactsMerged = true
		}
	}
	for _, layer := range sorted {
		if layer.Rank >= ExtraVars {
			mergeHostFacts()
		}
		DeepMerge(result, layer.Vars)
	}
	mergeHostFacts()
	if overlay != nil {
		DeepMerge(result, overlay.Snapshot())
	}
	return result
}

// Overlay holds the values a single host set during a run and is never shared
// between hosts. Registered results sit above extra vars; values from set_fact
// sit just below them, so -e always wins over set_fact. Writing a name in one
// scope removes it from the other.
type Overlay struct {
	mu        sync.RWMutex
	values    map[string]interface{}
	hostFacts map[string]interface{}
}

func NewOverlay() *Overlay {
	return &Overlay{
		values:    make(map[string]interface{}),
		hostFacts: make(map[string]interface{}),
	}
}

// Set stores a copy of a registered value under name, replacing any earlier value.
func (o *Overlay) Set(name string, value interface{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.values[name] = DeepCopy(value)
	delete(o.hostFacts, name)
}

// SetFact stores a copy of a set_fact value under name.
func (o *Overlay) SetFact(name string, value interface{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hostFacts[name] = DeepCopy(value)
	delete(o.values, name)
}

func (o *Overlay) Get(name string) (interface{}, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if v, ok := o.values[name]; ok {
		return DeepCopy(v), true
	}
	v, ok := o.hostFacts[name]
	return DeepCopy(v), ok
}

// Snapshot returns a deep copy of all registered values.
func (o *Overlay) Snapshot() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return CopyMap(o.values)
}

// HostFacts returns a deep copy of the values set with set_fact.
func (o *Overlay) HostFacts() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return CopyMap(o.hostFacts)
}
