package inventory

import "sort"

// traversalPositions walks the group hierarchy depth-first from "all", parents before
// their children and siblings in reverse-alphabetical order. A group reachable through
// several parents keeps the position of its last visit, so it always lands after
// every one of its ancestors.
func (inv *Inventory) traversalPositions() map[string]int {
	positions := make(map[string]int, len(inv.Groups))
	pos := 0
	var walk func(name string, depth int)
	walk = func(name string, depth int) {
		if depth > len(inv.Groups) {
			return
		}
		positions[name] = pos
		pos++
		g, ok := inv.Groups[name]
		if !ok {
			return
		}
		children := append([]string(nil), g.Children...)
		sort.Sort(sort.Reverse(sort.StringSlice(children)))
		for _, child := range children {
			walk(child, depth+1)
		}
	}
	walk(GroupAll, 0)
	return positions
}

// GroupOrder returns the groups of a host, excluding "all", in the order their
// variables are applied: when two groups define the same variable at the same
// precedence, the group later in this list wins. A child group therefore beats
// its ancestors, and among unrelated groups the one visited later by the
// reverse-alphabetical depth-first walk wins.
func (inv *Inventory) GroupOrder(host string) []string {
	if inv.positions == nil {
		inv.positions = inv.traversalPositions()
	}
	var groups []string
	for name := range inv.memberships(host) {
		if name != GroupAll {
			groups = append(groups, name)
		}
	}
	sort.Slice(groups, func(i, j int) bool {
		pi, iok := inv.positions[groups[i]]
		pj, jok := inv.positions[groups[j]]
		if iok != jok {
			return !iok
		}
		if pi != pj {
			return pi < pj
		}
		return groups[i] < groups[j]
	})
	return groups
}
