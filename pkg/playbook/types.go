package playbook

import (
	"errors"
	"fmt"
)

// ErrBuild marks failures that abort a run before any host is contacted:
// malformed task trees, unresolved imports and invalid plays.
var ErrBuild = errors.New("build error")

func buildErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrBuild, fmt.Sprintf(format, args...))
}

type NodeKind int

const (
	KindAction NodeKind = iota
	KindBlock
	KindImport
	KindInclude
)

func (k NodeKind) String() string {
	switch k {
	case KindAction:
		return "action"
	case KindBlock:
		return "block"
	case KindImport:
		return "import"
	case KindInclude:
		return "include"
	}
	return "unknown"
}

// Node is one element of a play's task tree.
type Node interface {
	Kind() NodeKind
	Base() *Common
}

// Common holds the keywords shared by every node kind.
type Common struct {
	Name         string
	When         []string
	Tags         []string
	Vars         map[string]interface{}
	IgnoreErrors bool
	NoLog        bool
	Become       *bool
	BecomeUser   string
	// Role is set on nodes loaded from a role.
	Role *Role
}

func (c *Common) Base() *Common {
	return c
}

// Action is a single module invocation.
type Action struct {
	Common
	Module      string
	Args        map[string]interface{}
	Register    string
	Notify      []string
	Loop        interface{}
	LoopVar     string
	FailedWhen  []string
	ChangedWhen []string
	Until       []string
	Retries     *int
	Delay       *int
	// Timeout in seconds; zero uses the run default.
	Timeout    int
	DelegateTo string
	Listen     []string
	CheckMode  *bool
	RunOnce    bool
	// Implicit actions are inserted by the builder (fact gathering, handler
	// flushes) and are not subject to tag selection.
	Implicit bool
}

func (a *Action) Kind() NodeKind {
	return KindAction
}

func (a *Action) String() string {
	name := a.Name
	if name == "" {
		name = a.Module
	}
	if a.Role != nil {
		return a.Role.Name + " : " + name
	}
	return name
}

// IsMeta reports whether the action is the given meta directive.
func (a *Action) IsMeta(directive string) bool {
	if a.Module != "meta" {
		return false
	}
	raw, _ := a.Args["_raw_params"].(string)
	return raw == directive
}

// Block groups nodes with rescue and always sections.
type Block struct {
	Common
	Body   []Node
	Rescue []Node
	Always []Node
}

func (b *Block) Kind() NodeKind {
	return KindBlock
}

// Import is a static reference to a task file or role. It only exists before
// Builder.Build replaces it with the imported content.
type Import struct {
	Common
	Path     string
	RoleName string
	Dir      string
}

func (i *Import) Kind() NodeKind {
	return KindImport
}

// Include is a dynamic reference resolved per host at run time. Path and
// RoleName may contain templates.
type Include struct {
	Common
	Path     string
	RoleName string
	// Dir is the directory relative paths are resolved against.
	Dir string
}

func (i *Include) Kind() NodeKind {
	return KindInclude
}

func (i *Include) String() string {
	if i.Name != "" {
		return i.Name
	}
	if i.RoleName != "" {
		return "include_role : " + i.RoleName
	}
	return "include_tasks : " + i.Path
}

// Role is a loaded role directory.
type Role struct {
	Name     string
	Path     string
	Defaults map[string]interface{}
	Vars     map[string]interface{}
	Handlers []*Action
}

// RoleRef is an entry of a play's roles list.
type RoleRef struct {
	Name   string `validate:"required"`
	Params map[string]interface{}
	When   []string
	Tags   []string
}

// Play maps a host pattern to task lists and execution parameters.
type Play struct {
	Name              string
	Hosts             string   `validate:"required"`
	Strategy          string   `validate:"omitempty,oneof=linear free"`
	Serial            []string `validate:"dive,serial"`
	MaxFailPercentage *float64 `validate:"omitempty,min=0,max=100"`
	AnyErrorsFatal    bool
	Forks             int `validate:"min=0"`
	Become            bool
	BecomeUser        string
	GatherFacts       *bool
	Vars              map[string]interface{}
	VarsFiles         []string
	Roles             []RoleRef `validate:"dive"`
	PreTasks          []Node
	Tasks             []Node
	PostTasks         []Node
	Handlers          []Node
	Tags              []string
	// Dir is the directory of the file the play was defined in.
	Dir string
}

func (p *Play) String() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Hosts
}

// Playbook is an ordered list of plays with import_playbook entries expanded.
type Playbook struct {
	Path  string
	Dir   string
	Plays []*Play
}

// Graph is a built play: the task tree the engine walks for every host.
type Graph struct {
	Play     *Play
	Nodes    []Node
	Handlers []*Action
	Roles    []*Role
	// PlayVars are the play vars with vars_files merged over them.
	PlayVars map[string]interface{}
}

// Walk calls fn for every node in depth-first declaration order.
func Walk(nodes []Node, fn func(Node)) {
	for _, n := range nodes {
		fn(n)
		if b, ok := n.(*Block); ok {
			Walk(b.Body, fn)
			Walk(b.Rescue, fn)
			Walk(b.Always, fn)
		}
	}
}

// Actions returns every action of the tree in declaration order.
func Actions(nodes []Node) []*Action {
	var out []*Action
	Walk(nodes, func(n Node) {
		if a, ok := n.(*Action); ok {
			out = append(out, a)
		}
	})
	return out
}
