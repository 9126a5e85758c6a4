package executor

import (
	"github.com/AlexanderGrooff/converge/pkg/playbook"
)

type section int

const (
	sectionBody section = iota
	sectionRescue
	sectionAlways
)

// failure describes the task that sent a host into a rescue section.
type failure struct {
	task   string
	result map[string]interface{}
}

func (f *failure) vars() map[string]interface{} {
	return map[string]interface{}{
		"ansible_failed_task":   map[string]interface{}{"name": f.task},
		"ansible_failed_result": f.result,
	}
}

// frame is one level of the per host interpreter stack: the root task list,
// a block or the tasks of an include.
type frame struct {
	block   *playbook.Block
	nodes   []playbook.Node
	index   int
	section section
	// pending is a failure that is re-raised once the always section is done.
	pending bool
	failure *failure

	vars         map[string]interface{}
	when         []string
	tags         []string
	role         *playbook.Role
	become       *bool
	becomeUser   string
	ignoreErrors bool
}

func blockFrame(b *playbook.Block) *frame {
	return &frame{
		block:        b,
		nodes:        b.Body,
		vars:         b.Vars,
		when:         b.When,
		tags:         b.Tags,
		role:         b.Role,
		become:       b.Become,
		becomeUser:   b.BecomeUser,
		ignoreErrors: b.IgnoreErrors,
	}
}

func includeFrame(inc *playbook.Include, nodes []playbook.Node) *frame {
	return &frame{
		nodes:        nodes,
		vars:         inc.Vars,
		tags:         inc.Tags,
		become:       inc.Become,
		becomeUser:   inc.BecomeUser,
		ignoreErrors: inc.IgnoreErrors,
	}
}

func (f *frame) enter(s section) {
	f.section = s
	f.index = 0
	switch s {
	case sectionRescue:
		f.nodes = f.block.Rescue
	case sectionAlways:
		f.nodes = f.block.Always
	}
}

// taskScope is what the enclosing frames contribute to a task.
type taskScope struct {
	blocks       []map[string]interface{}
	when         []string
	tags         []string
	role         *playbook.Role
	become       *bool
	becomeUser   string
	ignoreErrors bool
}

// cursor walks a task tree for one host. Blocks are entered lazily and a
// failure unwinds the stack to the nearest rescue or always section.
type cursor struct {
	stack []*frame
	// failed is set once a failure unwound the whole stack.
	failed  bool
	rescued int
}

func newCursor(nodes []playbook.Node) *cursor {
	return &cursor{stack: []*frame{{nodes: nodes}}}
}

func (c *cursor) push(f *frame) {
	c.stack = append(c.stack, f)
}

// next returns the next action or include to run. It returns false when the
// tree is exhausted or a failure was not intercepted, in which case failed is set.
func (c *cursor) next() (playbook.Node, taskScope, bool) {
	for len(c.stack) > 0 {
		top := c.stack[len(c.stack)-1]
		if top.index < len(top.nodes) {
			n := top.nodes[top.index]
			top.index++
			if b, ok := n.(*playbook.Block); ok {
				c.push(blockFrame(b))
				continue
			}
			return n, c.scope(), true
		}

		if top.block != nil && top.section != sectionAlways {
			if top.section == sectionRescue {
				top.pending = false
				c.rescued++
			}
			top.enter(sectionAlways)
			continue
		}

		c.stack = c.stack[:len(c.stack)-1]
		if top.pending && !c.fail(top.failure) {
			return nil, taskScope{}, false
		}
	}
	return nil, taskScope{}, false
}

// fail unwinds to the innermost block that can still handle a failure. It
// reports whether the host stays active.
func (c *cursor) fail(info *failure) bool {
	for i := len(c.stack) - 1; i >= 0; i-- {
		f := c.stack[i]
		if f.block == nil {
			continue
		}
		switch f.section {
		case sectionBody:
			if len(f.block.Rescue) > 0 {
				c.stack = c.stack[:i+1]
				f.pending = true
				f.failure = info
				f.enter(sectionRescue)
				return true
			}
			fallthrough
		case sectionRescue:
			if len(f.block.Always) > 0 {
				c.stack = c.stack[:i+1]
				f.pending = true
				if f.failure == nil {
					f.failure = info
				}
				f.enter(sectionAlways)
				return true
			}
		}
	}
	c.stack = nil
	c.failed = true
	return false
}

func (c *cursor) scope() taskScope {
	var s taskScope
	for _, f := range c.stack {
		if len(f.vars) > 0 {
			s.blocks = append(s.blocks, f.vars)
		}
		if f.failure != nil && f.section != sectionBody {
			s.blocks = append(s.blocks, f.failure.vars())
		}
		s.when = append(s.when, f.when...)
		s.tags = append(s.tags, f.tags...)
		if f.role != nil {
			s.role = f.role
		}
		if f.become != nil {
			s.become = f.become
		}
		if f.becomeUser != "" {
			s.becomeUser = f.becomeUser
		}
		s.ignoreErrors = s.ignoreErrors || f.ignoreErrors
	}
	return s
}
