package executor

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/AlexanderGrooff/converge/pkg/common"
)

const bannerWidth = 80

// Printer writes the user facing play output. In structured mode every event
// is logged through the common logger instead.
type Printer struct {
	mu         sync.Mutex
	w          io.Writer
	structured bool
	// Verbose prints the full result of every task.
	Verbose    bool
	lastBanner string
}

// NewPrinter writes plain text output to w, or logs events when the log
// format is not plain.
func NewPrinter(w io.Writer, logFormat string) *Printer {
	return &Printer{w: w, structured: logFormat != "" && logFormat != "plain"}
}

func (p *Printer) printf(format string, args ...interface{}) {
	if p == nil || p.w == nil {
		return
	}
	fmt.Fprintf(p.w, format, args...)
}

func (p *Printer) banner(kind, name string) {
	title := kind + " "
	if name != "" {
		title = fmt.Sprintf("%s [%s] ", kind, name)
	}
	p.printf("\n%s%s\n", title, strings.Repeat("*", max(3, bannerWidth-len(title))))
}

// Play announces the start of a play.
func (p *Printer) Play(name string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastBanner = ""
	if p.structured {
		common.LogInfo("Starting play", map[string]interface{}{"play": name})
		return
	}
	p.banner("PLAY", name)
}

// Task announces a task. Consecutive announcements of the same task are
// printed once so hosts stepping through it together share a banner.
func (p *Printer) Task(kind, name string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := kind + "\x00" + name
	if p.lastBanner == key {
		return
	}
	p.lastBanner = key
	if p.structured {
		common.LogInfo("Starting task", map[string]interface{}{"task": name, "kind": kind})
		return
	}
	p.banner(kind, name)
}

// HostResult reports one task or loop item outcome for a host.
func (p *Printer) HostResult(host, task string, status TaskStatus, item interface{}, hasItem bool, ignored bool, data map[string]interface{}, showData bool) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.structured {
		fields := map[string]interface{}{"host": host, "task": task, "status": string(status)}
		if hasItem {
			fields["item"] = item
		}
		if ignored {
			fields["ignored"] = true
		}
		if msg, ok := data["msg"]; ok {
			fields["msg"] = msg
		}
		if status == TaskFailed || status == TaskUnreachable {
			common.LogError("Task result", fields)
		} else {
			common.LogInfo("Task result", fields)
		}
		return
	}

	suffix := ""
	if hasItem {
		suffix = fmt.Sprintf(" => (item=%s)", itemLabel(item))
	}
	switch status {
	case TaskFailed:
		p.printf("fatal: [%s]: FAILED!%s => %s\n", host, suffix, compactJSON(failureData(data)))
		if ignored {
			p.printf("...ignoring\n")
		}
	case TaskUnreachable:
		p.printf("fatal: [%s]: UNREACHABLE!%s => %s\n", host, suffix, compactJSON(failureData(data)))
	case TaskSkipped:
		p.printf("skipping: [%s]%s\n", host, suffix)
	default:
		line := fmt.Sprintf("%s: [%s]%s", status, host, suffix)
		if showData || p.Verbose {
			p.printf("%s => %s\n", line, indentJSON(data))
		} else {
			p.printf("%s\n", line)
		}
	}
}

// Included reports a dynamically loaded task file or role.
func (p *Printer) Included(host, target string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.structured {
		common.LogInfo("Included tasks", map[string]interface{}{"host": host, "target": target})
		return
	}
	p.printf("included: %s for %s\n", target, host)
}

// Retry reports a failed until attempt.
func (p *Printer) Retry(host, task string, left int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.structured {
		common.LogInfo("Retrying task", map[string]interface{}{"host": host, "task": task, "retries_left": left})
		return
	}
	p.printf("FAILED - RETRYING: [%s]: %s (%d retries left).\n", host, task, left)
}

// Diff prints a unified diff produced in diff mode.
func (p *Printer) Diff(host, diff string) {
	if p == nil || diff == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.structured {
		common.LogInfo("Diff", map[string]interface{}{"host": host, "diff": diff})
		return
	}
	p.printf("%s", diff)
	if !strings.HasSuffix(diff, "\n") {
		p.printf("\n")
	}
}

// Message prints a play level notice such as a halted play.
func (p *Printer) Message(msg string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.structured {
		common.LogWarn(msg, map[string]interface{}{})
		return
	}
	p.printf("\n%s\n", msg)
}

// Recap prints the per host counters.
func (p *Printer) Recap(recap *Recap) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	hosts := recap.Hosts()
	if p.structured {
		stats := make(map[string]interface{}, len(hosts))
		for _, h := range hosts {
			stats[h] = recap.Stats(h)
		}
		common.LogInfo("Play recap", map[string]interface{}{"stats": stats})
		return
	}

	p.banner("PLAY RECAP", "")
	width := 0
	for _, h := range hosts {
		width = max(width, len(h))
	}
	for _, h := range hosts {
		s := recap.Stats(h)
		p.printf("%-*s : ok=%-4d changed=%-4d unreachable=%-4d failed=%-4d skipped=%-4d rescued=%-4d ignored=%d\n",
			width, h, s.OK, s.Changed, s.Unreachable, s.Failed, s.Skipped, s.Rescued, s.Ignored)
	}
}

func itemLabel(item interface{}) string {
	if s, ok := item.(string); ok {
		return s
	}
	return compactJSON(item)
}

func failureData(data map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for _, key := range []string{"msg", "rc", "stdout", "stderr", "changed"} {
		if v, ok := data[key]; ok {
			out[key] = v
		}
	}
	return out
}

func compactJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func indentJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
