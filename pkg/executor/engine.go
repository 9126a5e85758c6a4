package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/AlexanderGrooff/converge/pkg/common"
	"github.com/AlexanderGrooff/converge/pkg/facts"
	"github.com/AlexanderGrooff/converge/pkg/handlers"
	"github.com/AlexanderGrooff/converge/pkg/inventory"
	"github.com/AlexanderGrooff/converge/pkg/metrics"
	"github.com/AlexanderGrooff/converge/pkg/modules"
	"github.com/AlexanderGrooff/converge/pkg/playbook"
	"github.com/AlexanderGrooff/converge/pkg/template"
	"github.com/AlexanderGrooff/converge/pkg/vars"
)

const (
	StrategyLinear = "linear"
	StrategyFree   = "free"

	defaultForks = 5
)

// GraphBuilder expands plays into task graphs and loads includes at run time.
// playbook.Builder implements it.
type GraphBuilder interface {
	playbook.IncludeLoader
	Build(play *playbook.Play) (*playbook.Graph, error)
}

// Engine drives plays against inventory hosts.
type Engine struct {
	Invoker   modules.Invoker
	Evaluator template.Evaluator
	Facts     facts.Cache
	Builder   GraphBuilder
	Clock     Clock
	Recorder  metrics.Recorder
	Output    *Printer

	// Strategy overrides the strategy of every play when set.
	Strategy    string
	Forks       int
	TaskTimeout time.Duration
	Check       bool
	Diff        bool
	Become      bool
	BecomeUser  string
	// GatherFacts is one of playbook.GatherImplicit, GatherSmart or GatherExplicit.
	GatherFacts string
	// Limit further restricts the hosts of every play.
	Limit string
	RunID string

	ExtraVars map[string]interface{}
	// PlaybookVars holds group_vars/ and host_vars/ next to the playbook.
	PlaybookVars vars.GroupedVars
	PlaybookDir  string

	mu       sync.Mutex
	overlays map[string]*vars.Overlay
	// failed hosts are left out of later plays
	failed map[string]bool
	recap  *Recap
}

func (e *Engine) init() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.overlays == nil {
		e.overlays = make(map[string]*vars.Overlay)
	}
	if e.failed == nil {
		e.failed = make(map[string]bool)
	}
	if e.recap == nil {
		e.recap = NewRecap()
	}
	if e.Clock == nil {
		e.Clock = RealClock{}
	}
	if e.Recorder == nil {
		e.Recorder = metrics.Noop{}
	}
	if e.Facts == nil {
		e.Facts = facts.NewMemoryCache()
	}
	if e.Evaluator == nil {
		e.Evaluator = template.New()
	}
}

// Recap returns the counters collected so far.
func (e *Engine) Recap() *Recap {
	e.init()
	return e.recap
}

func (e *Engine) overlay(host string) *vars.Overlay {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.overlays[host]
	if !ok {
		o = vars.NewOverlay()
		e.overlays[host] = o
	}
	return o
}

func (e *Engine) markFailed(host string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failed[host] = true
}

func (e *Engine) isFailed(host string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed[host]
}

// BuildAll expands every play before any host is contacted. Failures wrap playbook.ErrBuild.
func (e *Engine) BuildAll(pb *playbook.Playbook) ([]*playbook.Graph, error) {
	graphs := make([]*playbook.Graph, 0, len(pb.Plays))
	for _, play := range pb.Plays {
		g, err := e.Builder.Build(play)
		if err != nil {
			return nil, fmt.Errorf("failed to build play %q: %w", play.String(), err)
		}
		graphs = append(graphs, g)
	}
	return graphs, nil
}

// RunPlaybook builds and runs every play in order. The returned error is
// reserved for build failures and cancellation; task failures end up in the recap.
func (e *Engine) RunPlaybook(ctx context.Context, pb *playbook.Playbook, inv *inventory.Inventory) (*Recap, error) {
	e.init()
	graphs, err := e.BuildAll(pb)
	if err != nil {
		return e.recap, err
	}

	for _, g := range graphs {
		res, err := e.RunPlay(ctx, g, inv)
		if err != nil {
			return e.recap, err
		}
		if res.Halted != nil {
			common.LogWarn("Play halted, skipping remaining plays", map[string]interface{}{
				"play":   res.Play,
				"reason": res.Halted.Error(),
			})
			break
		}
	}
	e.Output.Recap(e.recap)
	return e.recap, nil
}

// Hosts returns the hosts a play targets after --limit and earlier failures.
func (e *Engine) Hosts(play *playbook.Play, inv *inventory.Inventory) ([]*inventory.Host, error) {
	hosts, err := inv.Match(play.Hosts)
	if err != nil {
		return nil, err
	}
	if e.Limit != "" {
		limited, err := inv.Match(e.Limit)
		if err != nil {
			return nil, fmt.Errorf("invalid limit %q: %w", e.Limit, err)
		}
		allowed := make(map[string]bool, len(limited))
		for _, h := range limited {
			allowed[h.Name] = true
		}
		var filtered []*inventory.Host
		for _, h := range hosts {
			if allowed[h.Name] {
				filtered = append(filtered, h)
			}
		}
		hosts = filtered
	}
	var active []*inventory.Host
	for _, h := range hosts {
		if !e.isFailed(h.Name) {
			active = append(active, h)
		}
	}
	return active, nil
}

// RunPlay runs one built play over its hosts in serial batches.
func (e *Engine) RunPlay(ctx context.Context, g *playbook.Graph, inv *inventory.Inventory) (*PlayResult, error) {
	e.init()
	play := g.Play
	result := &PlayResult{Play: play.String(), Hosts: map[string]HostStatus{}}
	start := e.Clock.Now()
	e.Output.Play(play.String())

	hosts, err := e.Hosts(play, inv)
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		e.Output.Message("skipping: no hosts matched")
		return result, nil
	}
	sizes, err := Batches(play.Serial, len(hosts))
	if err != nil {
		return nil, fmt.Errorf("play %q: %w", play.String(), err)
	}

	strategy := play.Strategy
	if e.Strategy != "" {
		strategy = e.Strategy
	}
	if strategy == "" {
		strategy = StrategyLinear
	}
	forks := play.Forks
	if forks <= 0 {
		forks = e.Forks
	}
	if forks <= 0 {
		forks = defaultForks
	}

	resolver := &vars.Resolver{
		Inline:         inv.InlineVars(),
		InventoryFiles: inv.Files,
		PlaybookFiles:  e.PlaybookVars,
		Facts:          e.Facts,
		Extra:          e.ExtraVars,
	}
	queue := handlers.New(g.Handlers)
	playStats := NewRecap()

	common.LogInfo("Running play", map[string]interface{}{
		"play":     play.String(),
		"hosts":    len(hosts),
		"batches":  len(sizes),
		"strategy": strategy,
		"forks":    forks,
	})

	offset := 0
	for i, size := range sizes {
		batch := hosts[offset : offset+size]
		offset += size

		run := newPlayRun(e, g, inv, resolver, queue, playStats, batch, forks)
		if err := run.execute(ctx, strategy); err != nil {
			return nil, err
		}

		failedInBatch := 0
		for _, h := range batch {
			if s := playStats.Stats(h.Name); s.Failed > 0 || s.Unreachable > 0 {
				failedInBatch++
			}
		}
		halt := run.halted()
		if halt == nil && play.MaxFailPercentage != nil && len(batch) > 0 {
			pct := float64(failedInBatch) * 100 / float64(len(batch))
			if pct > *play.MaxFailPercentage {
				halt = fmt.Errorf("%w: %.0f%% of batch %d failed, limit is %.0f%%", ErrMaxFailPercentage, pct, i+1, *play.MaxFailPercentage)
			}
		}
		if halt != nil {
			result.Halted = halt
			e.recap.setHalted(halt)
			e.Output.Message("NO MORE HOSTS LEFT: " + halt.Error())
			break
		}
	}

	for _, h := range hosts {
		result.Hosts[h.Name] = playStats.Stats(h.Name).Status()
	}
	e.Recorder.PlayFinished(play.String(), e.Clock.Now().Sub(start))
	return result, nil
}

// magicVars are the per host variables every task can read.
func (e *Engine) magicVars(h *inventory.Host, inv *inventory.Inventory, play *playbook.Play, batch []*inventory.Host) map[string]interface{} {
	playHosts := make([]interface{}, 0, len(batch))
	for _, b := range batch {
		playHosts = append(playHosts, b.Name)
	}
	groups := map[string]interface{}{}
	for name, members := range inv.GroupMembers() {
		list := make([]interface{}, 0, len(members))
		for _, m := range members {
			list = append(list, m)
		}
		groups[name] = list
	}
	groupNames := []interface{}{}
	for _, name := range inv.GroupNames(h.Name) {
		groupNames = append(groupNames, name)
	}
	return map[string]interface{}{
		"inventory_hostname":       h.Name,
		"inventory_hostname_short": strings.SplitN(h.Name, ".", 2)[0],
		"group_names":              groupNames,
		"groups":                   groups,
		"play_hosts":               playHosts,
		"ansible_play_hosts":       playHosts,
		"ansible_play_batch":       playHosts,
		"ansible_play_name":        play.String(),
		"ansible_check_mode":       e.Check,
		"ansible_diff_mode":        e.Diff,
		"ansible_run_id":           e.RunID,
		"playbook_dir":             e.PlaybookDir,
	}
}
