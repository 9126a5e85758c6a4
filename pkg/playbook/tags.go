package playbook

const (
	TagAlways   = "always"
	TagNever    = "never"
	TagAll      = "all"
	TagTagged   = "tagged"
	TagUntagged = "untagged"
)

// TagFilter selects nodes by their effective tags. Skip wins over Run.
type TagFilter struct {
	Run  []string
	Skip []string
}

// Selected reports whether a node carrying tags (its own plus inherited) runs.
func (f TagFilter) Selected(tags []string) bool {
	tagged := len(tags) > 0
	for _, s := range f.Skip {
		switch {
		case s == TagAll:
			return false
		case s == TagTagged && tagged:
			return false
		case s == TagUntagged && !tagged:
			return false
		case contains(tags, s):
			return false
		}
	}

	if contains(tags, TagAlways) {
		return true
	}
	if contains(tags, TagNever) {
		for _, r := range f.Run {
			if r != TagAll && contains(tags, r) {
				return true
			}
		}
		return false
	}

	if len(f.Run) == 0 {
		return true
	}
	for _, r := range f.Run {
		switch {
		case r == TagAll:
			return true
		case r == TagTagged && tagged:
			return true
		case r == TagUntagged && !tagged:
			return true
		case contains(tags, r):
			return true
		}
	}
	return false
}

// Filter returns the nodes selected by f. Tags of blocks, imports and roles
// are inherited by their children; inherited is the tag set of the enclosing
// scope. A block is kept when any of its children are. Implicit actions are
// always kept.
func (f TagFilter) Filter(nodes []Node, inherited []string) []Node {
	var out []Node
	for _, n := range nodes {
		tags := union(inherited, n.Base().Tags)
		switch t := n.(type) {
		case *Block:
			body := f.Filter(t.Body, tags)
			rescue := f.Filter(t.Rescue, tags)
			always := f.Filter(t.Always, tags)
			if len(body) == 0 && len(rescue) == 0 && len(always) == 0 {
				continue
			}
			copied := *t
			copied.Body, copied.Rescue, copied.Always = body, rescue, always
			out = append(out, &copied)
		case *Action:
			if t.Implicit || f.Selected(tags) {
				out = append(out, t)
			}
		default:
			if f.Selected(tags) {
				out = append(out, n)
			}
		}
	}
	return out
}

func union(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	for _, s := range b {
		if !contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
