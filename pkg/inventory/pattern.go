package inventory

import (
	"fmt"
	"path"
	"strings"

	"github.com/AlexanderGrooff/converge/pkg/common"
)

// Match selects hosts with an ansible-style pattern. Terms are separated by ':' or ','.
// A plain term adds hosts, '&term' intersects and '!term' removes. A term is "all",
// "*", a group, a host or a glob over group and host names. The result keeps the
// inventory's host declaration order.
func (inv *Inventory) Match(pattern string) ([]*Host, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("empty host pattern")
	}

	terms := strings.FieldsFunc(pattern, func(r rune) bool { return r == ':' || r == ',' })
	selected := make(map[string]bool)
	first := true
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		switch {
		case strings.HasPrefix(term, "!"):
			for name := range inv.matchTerm(term[1:]) {
				delete(selected, name)
			}
		case strings.HasPrefix(term, "&"):
			matched := inv.matchTerm(term[1:])
			if first {
				// An intersection without a preceding term applies to all hosts
				for _, h := range inv.ListHosts() {
					selected[h.Name] = true
				}
			}
			for name := range selected {
				if !matched[name] {
					delete(selected, name)
				}
			}
		default:
			matched := inv.matchTerm(term)
			if len(matched) == 0 {
				common.LogWarn("Host pattern matched no hosts", map[string]interface{}{"pattern": term})
			}
			for name := range matched {
				selected[name] = true
			}
		}
		first = false
	}

	var hosts []*Host
	for _, h := range inv.ListHosts() {
		if selected[h.Name] {
			hosts = append(hosts, h)
		}
	}
	return hosts, nil
}

func (inv *Inventory) matchTerm(term string) map[string]bool {
	out := make(map[string]bool)
	if term == GroupAll || term == "*" {
		for name := range inv.Hosts {
			out[name] = true
		}
		return out
	}
	if _, ok := inv.Groups[term]; ok {
		for _, h := range inv.hostsOfGroup(term) {
			out[h.Name] = true
		}
		return out
	}
	if _, ok := inv.Hosts[term]; ok {
		out[term] = true
		return out
	}
	if strings.ContainsAny(term, "*?[") {
		for name := range inv.Groups {
			if ok, _ := path.Match(term, name); ok {
				for _, h := range inv.hostsOfGroup(name) {
					out[h.Name] = true
				}
			}
		}
		for name := range inv.Hosts {
			if ok, _ := path.Match(term, name); ok {
				out[name] = true
			}
		}
	}
	return out
}
