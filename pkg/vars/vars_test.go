package vars

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRanksAreOrderedAndComplete(t *testing.T) {
	ranks := Ranks()
	require.Len(t, ranks, 14)
	assert.Equal(t, RoleDefaults, ranks[0])
	assert.Equal(t, ExtraVars, ranks[13])
	for i := 1; i < len(ranks); i++ {
		assert.Less(t, int(ranks[i-1]), int(ranks[i]))
	}
	assert.Equal(t, "block vars", BlockVars.String())
}

func TestResolveHighestRankWinsRegardlessOfOrder(t *testing.T) {
	var layers []Layer
	for _, r := range Ranks() {
		layers = append(layers, Layer{Rank: r, Vars: map[string]interface{}{
			"x":              r.String(),
			"only_" + r.String(): true,
		}})
	}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 25; i++ {
		shuffled := make([]Layer, len(layers))
		copy(shuffled, layers)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := Resolve(shuffled, nil)
		assert.Equal(t, "extra vars", got["x"])
		assert.Equal(t, true, got["only_role defaults"])
	}
}

func TestResolvePairwisePrecedence(t *testing.T) {
	ranks := Ranks()
	for i := 0; i < len(ranks); i++ {
		for j := i + 1; j < len(ranks); j++ {
			low := Layer{Rank: ranks[i], Vars: map[string]interface{}{"v": "low"}}
			high := Layer{Rank: ranks[j], Vars: map[string]interface{}{"v": "high"}}
			assert.Equal(t, "high", Resolve([]Layer{high, low}, nil)["v"], "%s vs %s", ranks[i], ranks[j])
			assert.Equal(t, "high", Resolve([]Layer{low, high}, nil)["v"], "%s vs %s", ranks[i], ranks[j])
		}
	}
}

func TestResolveDeepMerge(t *testing.T) {
	a := Layer{Rank: PlayVars, Vars: map[string]interface{}{"x": map[string]interface{}{"a": 1, "shared": "a"}}}
	b := Layer{Rank: TaskVars, Vars: map[string]interface{}{"x": map[string]interface{}{"b": 2, "shared": "b"}}}

	got := Resolve([]Layer{b, a}, nil)

	want := map[string]interface{}{"x": map[string]interface{}{"a": 1, "b": 2, "shared": "b"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveNonMappingOverwrites(t *testing.T) {
	a := Layer{Rank: PlayVars, Vars: map[string]interface{}{"x": map[string]interface{}{"a": 1}, "l": []interface{}{1, 2}}}
	b := Layer{Rank: TaskVars, Vars: map[string]interface{}{"x": "scalar", "l": []interface{}{3}}}

	got := Resolve([]Layer{a, b}, nil)
	assert.Equal(t, "scalar", got["x"])
	assert.Equal(t, []interface{}{3}, got["l"])
}

func TestResolveDoesNotMutateLayers(t *testing.T) {
	inner := map[string]interface{}{"a": 1}
	a := Layer{Rank: PlayVars, Vars: map[string]interface{}{"x": inner}}
	b := Layer{Rank: TaskVars, Vars: map[string]interface{}{"x": map[string]interface{}{"b": 2}}}

	got := Resolve([]Layer{a, b}, nil)
	got["x"].(map[string]interface{})["c"] = 3

	assert.Equal(t, map[string]interface{}{"a": 1}, inner)
}

func TestOverlayAboveExtraVars(t *testing.T) {
	overlay := NewOverlay()
	overlay.Set("result", map[string]interface{}{"rc": 0})

	layers := []Layer{{Rank: ExtraVars, Vars: map[string]interface{}{"result": "from extra", "other": 1}}}
	got := Resolve(layers, overlay)

	assert.Equal(t, map[string]interface{}{"rc": 0}, got["result"])
	assert.Equal(t, 1, got["other"])
}

func TestSetFactBelowExtraVars(t *testing.T) {
	tests := []struct {
		name  string
		apply func(o *Overlay)
		want  map[string]interface{}
	}{
		{
			name:  "set_fact loses to extra vars",
			apply: func(o *Overlay) { o.SetFact("env", "from set_fact") },
			want:  map[string]interface{}{"env": "from extra", "task": "t"},
		},
		{
			name:  "set_fact beats task vars",
			apply: func(o *Overlay) { o.SetFact("task", "from set_fact") },
			want:  map[string]interface{}{"env": "from extra", "task": "from set_fact"},
		},
		{
			name: "register replaces set_fact",
			apply: func(o *Overlay) {
				o.SetFact("env", "from set_fact")
				o.Set("env", "registered")
			},
			want: map[string]interface{}{"env": "registered", "task": "t"},
		},
		{
			name: "set_fact replaces register",
			apply: func(o *Overlay) {
				o.Set("env", "registered")
				o.SetFact("env", "from set_fact")
			},
			want: map[string]interface{}{"env": "from extra", "task": "t"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			overlay := NewOverlay()
			tt.apply(overlay)
			layers := []Layer{
				{Rank: TaskVars, Vars: map[string]interface{}{"task": "t"}},
				{Rank: ExtraVars, Vars: map[string]interface{}{"env": "from extra"}},
			}
			assert.Equal(t, tt.want, Resolve(layers, overlay))
		})
	}

	overlay := NewOverlay()
	overlay.SetFact("only", 1)
	got, ok := overlay.Get("only")
	require.True(t, ok)
	assert.Equal(t, 1, got)
	assert.Equal(t, map[string]interface{}{"only": 1}, Resolve(nil, overlay))
}

func TestOverlayCopiesValues(t *testing.T) {
	overlay := NewOverlay()
	value := map[string]interface{}{"rc": 0}
	overlay.Set("r", value)
	value["rc"] = 1

	got, ok := overlay.Get("r")
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"rc": 0}, got)
}

func TestResolverGroupTieBreak(t *testing.T) {
	r := &Resolver{
		Inline: GroupedVars{
			All: map[string]interface{}{"level": "all"},
			Groups: map[string]map[string]interface{}{
				"parent": {"level": "parent", "from_parent": true},
				"child":  {"level": "child"},
			},
		},
		InventoryFiles: GroupedVars{
			Groups: map[string]map[string]interface{}{
				"alpha": {"color": "alpha"},
				"beta":  {"color": "beta"},
			},
		},
	}

	got := r.Resolve(HostInfo{Name: "h1", Groups: []string{"beta", "alpha", "parent", "child"}}, TaskScope{}, nil)
	assert.Equal(t, "child", got["level"])
	assert.Equal(t, true, got["from_parent"])
	assert.Equal(t, "alpha", got["color"])

	got = r.Resolve(HostInfo{Name: "h1", Groups: []string{"alpha", "beta"}}, TaskScope{}, nil)
	assert.Equal(t, "beta", got["color"])
}

type staticFacts map[string]map[string]interface{}

func (s staticFacts) Get(host string) (map[string]interface{}, bool) {
	f, ok := s[host]
	return f, ok
}

func TestResolverLayersFullStack(t *testing.T) {
	r := &Resolver{
		Inline:         GroupedVars{Hosts: map[string]map[string]interface{}{"h1": {"v": "inventory"}}},
		InventoryFiles: GroupedVars{All: map[string]interface{}{"v": "inv group_vars all"}},
		PlaybookFiles:  GroupedVars{Hosts: map[string]map[string]interface{}{"h1": {"v": "pb host_vars"}}},
		Facts:          staticFacts{"h1": {"ansible_system": "Linux", "v": "facts"}},
		Extra:          map[string]interface{}{"extra_only": true},
	}
	host := HostInfo{Name: "h1", Magic: map[string]interface{}{"inventory_hostname": "h1", "v": "magic"}}

	got := r.Resolve(host, TaskScope{RoleDefaults: map[string]interface{}{"v": "default", "d": 1}}, nil)
	assert.Equal(t, "facts", got["v"])
	assert.Equal(t, 1, got["d"])
	assert.Equal(t, "h1", got["inventory_hostname"])
	assert.Equal(t, "Linux", got["ansible_facts"].(map[string]interface{})["ansible_system"])

	got = r.Resolve(host, TaskScope{
		Play:   map[string]interface{}{"v": "play"},
		Task:   map[string]interface{}{"v": "task"},
		Role:   map[string]interface{}{"v": "role"},
		Blocks: []map[string]interface{}{{"v": "outer"}, {"v": "inner"}},
	}, nil)
	assert.Equal(t, "inner", got["v"])
	assert.Equal(t, true, got["extra_only"])

	overlay := NewOverlay()
	overlay.Set("v", "registered")
	got = r.Resolve(host, TaskScope{}, overlay)
	assert.Equal(t, "registered", got["v"])

	// Other hosts never see this host's overlay or host vars
	got = r.Resolve(HostInfo{Name: "h2"}, TaskScope{}, NewOverlay())
	assert.Equal(t, "inv group_vars all", got["v"])
}
