package handlers

import (
	"errors"
	"fmt"
	"sync"

	"github.com/AlexanderGrooff/converge/pkg/common"
	"github.com/AlexanderGrooff/converge/pkg/playbook"
)

// ErrUnknownHandler is returned when a task notifies a name no handler answers to.
var ErrUnknownHandler = errors.New("handler not found")

// Queue tracks notified handlers per host for one play. A handler is queued
// at most once per host between flushes and drains in first-notified order.
type Queue struct {
	mu        sync.RWMutex
	handlers  []*playbook.Action
	byTrigger map[string][]*playbook.Action
	pending   map[string][]*playbook.Action
	queued    map[string]map[*playbook.Action]bool
	notified  map[string]int
	executed  map[string]int
}

// Stats are per-host notification counters.
type Stats struct {
	Notified int
	Executed int
	Pending  int
}

// New indexes handlers by name and by every listen alias.
func New(handlers []*playbook.Action) *Queue {
	q := &Queue{
		handlers:  handlers,
		byTrigger: make(map[string][]*playbook.Action),
		pending:   make(map[string][]*playbook.Action),
		queued:    make(map[string]map[*playbook.Action]bool),
		notified:  make(map[string]int),
		executed:  make(map[string]int),
	}
	for _, h := range handlers {
		triggers := append([]string(nil), h.Listen...)
		if h.Name != "" {
			triggers = append(triggers, h.Name)
		}
		for _, trigger := range triggers {
			if !containsAction(q.byTrigger[trigger], h) {
				q.byTrigger[trigger] = append(q.byTrigger[trigger], h)
			}
		}
		common.LogDebug("Added handler to queue", map[string]interface{}{
			"handler": h.Name,
			"listen":  h.Listen,
		})
	}
	return q
}

// Notify queues every handler answering to name for host. It reports whether
// anything new was queued; notifying an already queued handler is a no-op.
func (q *Queue) Notify(host, name string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	subscribed, ok := q.byTrigger[name]
	if !ok {
		common.LogWarn("Handler not found", map[string]interface{}{
			"handler": name,
			"host":    host,
		})
		return false, fmt.Errorf("%w: %q", ErrUnknownHandler, name)
	}

	if q.queued[host] == nil {
		q.queued[host] = make(map[*playbook.Action]bool)
	}
	added := false
	for _, h := range subscribed {
		if q.queued[host][h] {
			continue
		}
		q.queued[host][h] = true
		q.pending[host] = append(q.pending[host], h)
		q.notified[host]++
		added = true
		common.LogDebug("Handler notified", map[string]interface{}{
			"handler": h.Name,
			"trigger": name,
			"host":    host,
		})
	}
	return added, nil
}

// NotifyAll notifies each name in turn and stops at the first unknown one.
func (q *Queue) NotifyAll(host string, names []string) error {
	for _, name := range names {
		if _, err := q.Notify(host, name); err != nil {
			return err
		}
	}
	return nil
}

// Pending returns the queued handlers of host in first-notified order.
func (q *Queue) Pending(host string) []*playbook.Action {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]*playbook.Action(nil), q.pending[host]...)
}

// Drain returns the queued handlers of host and starts a new flush cycle.
// Handlers notified while the drained ones run are queued for that new cycle.
func (q *Queue) Drain(host string) []*playbook.Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	drained := q.pending[host]
	delete(q.pending, host)
	delete(q.queued, host)
	return drained
}

// MarkExecuted records that a drained handler ran on host.
func (q *Queue) MarkExecuted(host string, h *playbook.Action) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.executed[host]++
	common.LogDebug("Handler marked as executed", map[string]interface{}{
		"handler": h.Name,
		"host":    host,
	})
}

// Reset drops everything queued for host, used when a host leaves the play.
func (q *Queue) Reset(host string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, host)
	delete(q.queued, host)
}

func (q *Queue) Stats(host string) Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return Stats{
		Notified: q.notified[host],
		Executed: q.executed[host],
		Pending:  len(q.pending[host]),
	}
}

// Handlers returns every registered handler.
func (q *Queue) Handlers() []*playbook.Action {
	return q.handlers
}

func containsAction(list []*playbook.Action, a *playbook.Action) bool {
	for _, item := range list {
		if item == a {
			return true
		}
	}
	return false
}
