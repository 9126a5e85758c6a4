package executor

import (
	"sort"
	"sync"

	"github.com/AlexanderGrooff/converge/pkg/modules"
)

// TaskStatus is the terminal state of one task on one host.
type TaskStatus string

const (
	TaskOK          TaskStatus = "ok"
	TaskChanged     TaskStatus = "changed"
	TaskSkipped     TaskStatus = "skipped"
	TaskFailed      TaskStatus = "failed"
	TaskUnreachable TaskStatus = "unreachable"
)

func statusOf(s modules.Status) TaskStatus {
	switch s {
	case modules.StatusChanged:
		return TaskChanged
	case modules.StatusFailed:
		return TaskFailed
	case modules.StatusUnreachable:
		return TaskUnreachable
	case modules.StatusSkipped:
		return TaskSkipped
	default:
		return TaskOK
	}
}

// HostStatus is the state of a host across a play or run.
type HostStatus string

const (
	HostPending     HostStatus = "pending"
	HostOK          HostStatus = "ok"
	HostChanged     HostStatus = "changed"
	HostFailed      HostStatus = "failed"
	HostUnreachable HostStatus = "unreachable"
	HostSkipped     HostStatus = "skipped"
)

// HostStats are the recap counters of one host. OK counts changed tasks too.
type HostStats struct {
	OK          int
	Changed     int
	Unreachable int
	Failed      int
	Skipped     int
	Rescued     int
	Ignored     int
}

// Status derives the host status from its counters.
func (s HostStats) Status() HostStatus {
	switch {
	case s.Unreachable > 0:
		return HostUnreachable
	case s.Failed > 0:
		return HostFailed
	case s.Changed > 0:
		return HostChanged
	case s.OK > 0:
		return HostOK
	case s.Skipped > 0:
		return HostSkipped
	}
	return HostPending
}

// Recap accumulates per host counters over a run.
type Recap struct {
	mu    sync.Mutex
	hosts map[string]*HostStats
	// Halted is set when a play stopped early: ErrMaxFailPercentage or
	// ErrAnyErrorsFatal.
	Halted error
}

func NewRecap() *Recap {
	return &Recap{hosts: make(map[string]*HostStats)}
}

func (r *Recap) update(host string, fn func(*HostStats)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.hosts[host]
	if !ok {
		s = &HostStats{}
		r.hosts[host] = s
	}
	fn(s)
}

func (r *Recap) track(host string) {
	r.update(host, func(*HostStats) {})
}

func (r *Recap) countTask(host string, status TaskStatus) {
	r.update(host, func(s *HostStats) {
		switch status {
		case TaskOK:
			s.OK++
		case TaskChanged:
			s.OK++
			s.Changed++
		case TaskSkipped:
			s.Skipped++
		}
	})
}

func (r *Recap) setHalted(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Halted == nil {
		r.Halted = err
	}
}

// Stats returns a copy of the counters of host.
func (r *Recap) Stats(host string) HostStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.hosts[host]; ok {
		return *s
	}
	return HostStats{}
}

// Hosts returns every host seen during the run in sorted order.
func (r *Recap) Hosts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	hosts := make([]string, 0, len(r.hosts))
	for h := range r.hosts {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

func (r *Recap) any(fn func(HostStats) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.hosts {
		if fn(*s) {
			return true
		}
	}
	return false
}

func (r *Recap) HasFailures() bool {
	return r.any(func(s HostStats) bool { return s.Failed > 0 })
}

func (r *Recap) HasUnreachable() bool {
	return r.any(func(s HostStats) bool { return s.Unreachable > 0 })
}

// PlayResult is the outcome of one play.
type PlayResult struct {
	Play  string
	Hosts map[string]HostStatus
	// Halted is the reason the play stopped before all batches ran.
	Halted error
}
