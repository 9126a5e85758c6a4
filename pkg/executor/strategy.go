package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/AlexanderGrooff/converge/pkg/common"
	"github.com/AlexanderGrooff/converge/pkg/handlers"
	"github.com/AlexanderGrooff/converge/pkg/inventory"
	"github.com/AlexanderGrooff/converge/pkg/playbook"
	"github.com/AlexanderGrooff/converge/pkg/vars"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// hostState is the per host interpreter state for one batch. Only the
// goroutine stepping the host touches it.
type hostState struct {
	host    *inventory.Host
	info    vars.HostInfo
	overlay *vars.Overlay
	cursor  *cursor
	done    bool
}

type onceEntry struct {
	once   sync.Once
	result *TaskResult
	err    error
}

// playRun executes one serial batch of a play.
type playRun struct {
	engine   *Engine
	graph    *playbook.Graph
	resolver *vars.Resolver
	queue    *handlers.Queue
	stats    *Recap
	hosts    []*hostState
	sem      *semaphore.Weighted

	endPlay atomic.Bool
	haltErr atomic.Pointer[error]

	onceMu sync.Mutex
	once   map[*playbook.Action]*onceEntry
}

func newPlayRun(e *Engine, g *playbook.Graph, inv *inventory.Inventory, resolver *vars.Resolver, queue *handlers.Queue, stats *Recap, batch []*inventory.Host, forks int) *playRun {
	r := &playRun{
		engine:   e,
		graph:    g,
		resolver: resolver,
		queue:    queue,
		stats:    stats,
		sem:      semaphore.NewWeighted(int64(forks)),
		once:     make(map[*playbook.Action]*onceEntry),
	}
	for _, h := range batch {
		r.hosts = append(r.hosts, &hostState{
			host: h,
			info: vars.HostInfo{
				Name:   h.Name,
				Groups: inv.GroupOrder(h.Name),
				Magic:  e.magicVars(h, inv, g.Play, batch),
			},
			overlay: e.overlay(h.Name),
			cursor:  newCursor(g.Nodes),
		})
		e.recap.track(h.Name)
		stats.track(h.Name)
	}
	return r
}

func (r *playRun) halted() error {
	if p := r.haltErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (r *playRun) halt(err error) {
	r.haltErr.CompareAndSwap(nil, &err)
	r.endPlay.Store(true)
}

func (r *playRun) execute(ctx context.Context, strategy string) error {
	var err error
	switch strategy {
	case StrategyLinear:
		err = r.linear(ctx)
	case StrategyFree:
		err = r.free(ctx)
	default:
		return fmt.Errorf("unknown strategy %q", strategy)
	}
	for _, hs := range r.hosts {
		if hs.cursor.rescued > 0 {
			rescued := hs.cursor.rescued
			r.count(hs.host.Name, func(s *HostStats) { s.Rescued += rescued })
		}
	}
	return err
}

func (r *playRun) active() []*hostState {
	var active []*hostState
	for _, hs := range r.hosts {
		if !hs.done {
			active = append(active, hs)
		}
	}
	return active
}

// linear moves every active host one step and waits for all of them before
// the next step starts.
func (r *playRun) linear(ctx context.Context) error {
	for {
		active := r.active()
		if len(active) == 0 || r.endPlay.Load() {
			return nil
		}
		g, gctx := errgroup.WithContext(ctx)
		for _, hs := range active {
			hs := hs
			g.Go(func() error {
				return r.step(gctx, hs)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
}

// free lets every host run through its tasks on its own.
func (r *playRun) free(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, hs := range r.hosts {
		hs := hs
		g.Go(func() error {
			for !hs.done && !r.endPlay.Load() {
				if err := r.step(gctx, hs); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// step runs the next action or include of hs under the forks limit.
func (r *playRun) step(ctx context.Context, hs *hostState) error {
	node, scope, ok := hs.cursor.next()
	if !ok {
		if hs.cursor.failed {
			r.hostFailed(hs)
		}
		hs.done = true
		return nil
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer r.sem.Release(1)

	var res *TaskResult
	var err error
	switch n := node.(type) {
	case *playbook.Action:
		res, err = r.runStep(ctx, hs, n, scope)
	case *playbook.Include:
		res, err = r.runInclude(ctx, hs, n, scope)
	default:
		return fmt.Errorf("unexpected %s node in task graph", node.Kind())
	}
	if err != nil {
		return err
	}
	r.settle(hs, res)
	return nil
}

// settle moves the host along the state machine after a task.
func (r *playRun) settle(hs *hostState, res *TaskResult) {
	switch {
	case res.Status == TaskUnreachable:
		r.count(hs.host.Name, func(s *HostStats) { s.Unreachable++ })
		r.removeHost(hs)
	case res.Status == TaskFailed && res.Ignored:
		r.count(hs.host.Name, func(s *HostStats) { s.Ignored++ })
	case res.Status == TaskFailed:
		if hs.cursor.fail(&failure{task: res.Task, result: res.Result}) {
			common.LogDebug("Failure intercepted by block", map[string]interface{}{"host": hs.host.Name, "task": res.Task})
			return
		}
		r.hostFailed(hs)
	}
}

func (r *playRun) hostFailed(hs *hostState) {
	r.count(hs.host.Name, func(s *HostStats) { s.Failed++ })
	r.removeHost(hs)
	if r.graph.Play.AnyErrorsFatal {
		r.halt(fmt.Errorf("%w: %s", ErrAnyErrorsFatal, hs.host.Name))
	}
}

func (r *playRun) removeHost(hs *hostState) {
	hs.done = true
	r.queue.Reset(hs.host.Name)
	r.engine.markFailed(hs.host.Name)
	common.LogDebug("Host removed from play", map[string]interface{}{"host": hs.host.Name})
}

// count updates both the run recap and the play counters.
func (r *playRun) count(host string, fn func(*HostStats)) {
	r.engine.recap.update(host, fn)
	r.stats.update(host, fn)
}

func (r *playRun) onceFor(a *playbook.Action) *onceEntry {
	r.onceMu.Lock()
	defer r.onceMu.Unlock()
	entry, ok := r.once[a]
	if !ok {
		entry = &onceEntry{}
		r.once[a] = entry
	}
	return entry
}
