package modules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AlexanderGrooff/converge/pkg/inventory"
	"github.com/AlexanderGrooff/converge/pkg/runtime"
	"github.com/AlexanderGrooff/converge/pkg/template"
	"github.com/pmezard/go-difflib/difflib"
)

// Status is the outcome of one module invocation.
type Status string

const (
	StatusOK          Status = "ok"
	StatusChanged     Status = "changed"
	StatusFailed      Status = "failed"
	StatusUnreachable Status = "unreachable"
	StatusSkipped     Status = "skipped"
)

// Diff holds the before and after state of a changed resource.
type Diff struct {
	Path   string
	Before string
	After  string
}

// Unified renders the diff in unified format.
func (d *Diff) Unified() string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(d.Before),
		B:        difflib.SplitLines(d.After),
		FromFile: "before: " + d.Path,
		ToFile:   "after: " + d.Path,
		Context:  3,
	})
	if err != nil {
		return fmt.Sprintf("failed to render diff for %s: %v", d.Path, err)
	}
	return text
}

// Result is what a module reports back to the engine.
type Result struct {
	Status Status
	Msg    string
	Stdout string
	Stderr string
	RC     *int
	// Data holds module specific return values.
	Data map[string]interface{}
	// Facts are merged into the fact cache for the host.
	Facts map[string]interface{}
	// HostVars are set in the host's run scope, as set_fact does.
	HostVars map[string]interface{}
	Diff     *Diff
}

func (r Result) Changed() bool {
	return r.Status == StatusChanged
}

func (r Result) Failed() bool {
	return r.Status == StatusFailed
}

// AsMap returns the value stored by register.
func (r Result) AsMap() map[string]interface{} {
	m := make(map[string]interface{}, len(r.Data)+8)
	for k, v := range r.Data {
		m[k] = v
	}
	m["changed"] = r.Status == StatusChanged
	m["failed"] = r.Status == StatusFailed
	if r.Status == StatusSkipped {
		m["skipped"] = true
	}
	if r.Status == StatusUnreachable {
		m["unreachable"] = true
	}
	if r.Msg != "" {
		m["msg"] = r.Msg
	}
	if r.RC != nil {
		m["rc"] = *r.RC
		m["stdout"] = r.Stdout
		m["stderr"] = r.Stderr
		m["stdout_lines"] = splitLines(r.Stdout)
		m["stderr_lines"] = splitLines(r.Stderr)
	}
	if len(r.Facts) > 0 {
		m["ansible_facts"] = r.Facts
	}
	return m
}

func splitLines(s string) []interface{} {
	lines := []interface{}{}
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return lines
	}
	for _, line := range strings.Split(s, "\n") {
		lines = append(lines, line)
	}
	return lines
}

func ok() Result {
	return Result{Status: StatusOK}
}

func changed(isChanged bool) Result {
	if isChanged {
		return Result{Status: StatusChanged}
	}
	return ok()
}

func failed(format string, args ...interface{}) Result {
	return Result{Status: StatusFailed, Msg: fmt.Sprintf(format, args...)}
}

func skipped(msg string) Result {
	return Result{Status: StatusSkipped, Msg: msg}
}

// Sleeper pauses for a duration or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Context is what a module sees of the host and task it runs for.
type Context struct {
	Host       *inventory.Host
	Vars       map[string]interface{}
	Check      bool
	Diff       bool
	Become     bool
	BecomeUser string
	// Dir is the directory relative src paths are looked up from.
	Dir       string
	Evaluator template.Evaluator
	Clock     Sleeper

	connect func() (runtime.Connection, error)
	conn    runtime.Connection
}

// Conn opens the host connection on first use.
func (c *Context) Conn() (runtime.Connection, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	if c.connect == nil {
		return nil, fmt.Errorf("no connection available for host %s", c.Host)
	}
	conn, err := c.connect()
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

// CommandOptions returns options carrying the task's privilege escalation and environment.
func (c *Context) CommandOptions(args map[string]interface{}) *runtime.CommandOptions {
	opts := runtime.NewCommandOptions()
	if c.Become {
		opts.WithBecome(c.BecomeUser)
	}
	if env, isMap := args["_environment"].(map[string]interface{}); isMap {
		opts.Env = make(map[string]string, len(env))
		for k, v := range env {
			opts.Env[k] = fmt.Sprint(v)
		}
	}
	return opts
}

// Module is a unit of work executed against one host.
type Module interface {
	Run(ctx context.Context, c *Context, args map[string]interface{}) (Result, error)
}

// ModuleFunc adapts a function to Module.
type ModuleFunc func(ctx context.Context, c *Context, args map[string]interface{}) (Result, error)

func (f ModuleFunc) Run(ctx context.Context, c *Context, args map[string]interface{}) (Result, error) {
	return f(ctx, c, args)
}

// Registry maps module names to implementations.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]Module)}
}

// Register adds a module. Registering a name twice is a programming error.
func (r *Registry) Register(name string, module Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[name]; exists {
		panic(fmt.Sprintf("Module %s already registered", name))
	}
	r.modules[name] = module
}

// Get retrieves a registered module by name.
func (r *Registry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	module, found := r.modules[name]
	return module, found
}

// Names lists registered modules in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builtin returns a registry holding every built-in module.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register("command", ModuleFunc(runCommand))
	r.Register("shell", ModuleFunc(runShell))
	r.Register("raw", ModuleFunc(runRaw))
	r.Register("debug", ModuleFunc(runDebug))
	r.Register("set_fact", ModuleFunc(runSetFact))
	r.Register("fail", ModuleFunc(runFail))
	r.Register("assert", ModuleFunc(runAssert))
	r.Register("copy", ModuleFunc(runCopy))
	r.Register("template", ModuleFunc(runTemplate))
	r.Register("file", ModuleFunc(runFile))
	r.Register("lineinfile", ModuleFunc(runLineInFile))
	r.Register("slurp", ModuleFunc(runSlurp))
	r.Register("stat", ModuleFunc(runStat))
	r.Register("ping", ModuleFunc(runPing))
	r.Register("setup", ModuleFunc(runSetup))
	r.Register("gather_facts", ModuleFunc(runSetup))
	r.Register("pause", ModuleFunc(runPause))
	r.Register("systemd", ModuleFunc(runSystemd))
	r.Register("service", ModuleFunc(runSystemd))
	r.Register("apt", ModuleFunc(runApt))
	r.Register("git", ModuleFunc(runGit))
	return r
}
