package playbook

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/AlexanderGrooff/converge/pkg/common"
	"github.com/AlexanderGrooff/converge/pkg/vars"
	"gopkg.in/yaml.v3"
)

// Fact gathering modes
const (
	GatherImplicit = "implicit"
	GatherSmart    = "smart"
	GatherExplicit = "explicit"
)

// IncludeLoader resolves include_tasks and include_role at run time.
type IncludeLoader interface {
	LoadInclude(inc *Include, target string, inherited []string) ([]Node, error)
}

// Builder expands plays into graphs: static imports and roles are inlined,
// tags are applied and the implicit fact gathering and handler flush steps
// are inserted.
type Builder struct {
	FS        FileSystem
	RolesPath []string
	Tags      TagFilter
	// GatherFacts is one of implicit, smart or explicit.
	GatherFacts string
}

func NewBuilder(fsys FileSystem, rolesPath []string, tags TagFilter) *Builder {
	return &Builder{FS: fsys, RolesPath: rolesPath, Tags: tags, GatherFacts: GatherImplicit}
}

// FlushHandlers returns the implicit flush step placed after each section.
func FlushHandlers() *Action {
	return &Action{
		Common:   Common{Name: "flush_handlers"},
		Module:   "meta",
		Args:     map[string]interface{}{"_raw_params": "flush_handlers"},
		Implicit: true,
	}
}

// GatherFactsAction returns the implicit setup step run at the start of a play.
func GatherFactsAction() *Action {
	return &Action{
		Common:   Common{Name: "Gathering Facts"},
		Module:   "setup",
		Args:     map[string]interface{}{},
		Implicit: true,
	}
}

// Build expands a play. Every failure wraps ErrBuild.
func (b *Builder) Build(play *Play) (*Graph, error) {
	g := &Graph{Play: play, PlayVars: vars.CopyMap(play.Vars)}

	for _, name := range play.VarsFiles {
		path := resolve(b.FS, play.Dir, name)
		data, err := b.FS.ReadFile(path)
		if err != nil {
			return nil, buildErrorf("failed to read vars file %s: %v", path, err)
		}
		fileVars := map[string]interface{}{}
		if err := yaml.Unmarshal(data, &fileVars); err != nil {
			return nil, buildErrorf("failed to parse vars file %s: %v", path, err)
		}
		vars.DeepMerge(g.PlayVars, fileVars)
	}

	pre, err := b.expand(play.PreTasks, 0, g)
	if err != nil {
		return nil, err
	}

	var roleBlocks []Node
	for _, ref := range play.Roles {
		role, tasks, err := b.loadRole(ref.Name, play.Dir, 0, g)
		if err != nil {
			return nil, err
		}
		roleBlocks = append(roleBlocks, &Block{
			Common: Common{When: ref.When, Tags: ref.Tags, Vars: vars.CopyMap(ref.Params), Role: role},
			Body:   tasks,
		})
	}

	tasks, err := b.expand(play.Tasks, 0, g)
	if err != nil {
		return nil, err
	}
	post, err := b.expand(play.PostTasks, 0, g)
	if err != nil {
		return nil, err
	}

	handlerNodes, err := b.expand(play.Handlers, 0, g)
	if err != nil {
		return nil, err
	}
	playHandlers, err := collectHandlers(handlerNodes, Common{})
	if err != nil {
		return nil, err
	}
	for _, role := range g.Roles {
		g.Handlers = append(g.Handlers, role.Handlers...)
	}
	g.Handlers = append(g.Handlers, playHandlers...)

	var nodes []Node
	if b.shouldGather(play) {
		nodes = append(nodes, GatherFactsAction())
	}
	nodes = append(nodes, pre...)
	nodes = append(nodes, FlushHandlers())
	nodes = append(nodes, roleBlocks...)
	nodes = append(nodes, tasks...)
	nodes = append(nodes, FlushHandlers())
	nodes = append(nodes, post...)
	nodes = append(nodes, FlushHandlers())

	g.Nodes = b.Tags.Filter(nodes, play.Tags)

	common.LogDebug("Built play graph", map[string]interface{}{
		"play":     play.String(),
		"actions":  len(Actions(g.Nodes)),
		"handlers": len(g.Handlers),
		"roles":    len(g.Roles),
	})
	return g, nil
}

func (b *Builder) shouldGather(play *Play) bool {
	if b.GatherFacts == GatherExplicit {
		return play.GatherFacts != nil && *play.GatherFacts
	}
	return play.GatherFacts == nil || *play.GatherFacts
}

// LoadInclude loads the target of an include at run time. target is the
// rendered file path or role name. Tags are filtered with inherited as the
// enclosing tag set.
func (b *Builder) LoadInclude(inc *Include, target string, inherited []string) ([]Node, error) {
	var nodes []Node
	if inc.RoleName != "" {
		role, tasks, err := b.loadRole(target, inc.Dir, 0, nil)
		if err != nil {
			return nil, err
		}
		nodes = []Node{&Block{Common: Common{Role: role}, Body: tasks}}
	} else {
		loaded, err := b.loadTaskFile(resolve(b.FS, inc.Dir, target), inc.Role, 0, nil)
		if err != nil {
			return nil, err
		}
		nodes = loaded
	}
	return b.Tags.Filter(nodes, inherited), nil
}

// expand replaces imports with blocks holding the imported content.
func (b *Builder) expand(nodes []Node, depth int, g *Graph) ([]Node, error) {
	if depth > maxImportDepth {
		return nil, buildErrorf("imports nested deeper than %d", maxImportDepth)
	}
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		switch t := n.(type) {
		case *Import:
			block, err := b.expandImport(t, depth, g)
			if err != nil {
				return nil, err
			}
			out = append(out, block)
		case *Block:
			copied := *t
			var err error
			if copied.Body, err = b.expand(t.Body, depth, g); err != nil {
				return nil, err
			}
			if copied.Rescue, err = b.expand(t.Rescue, depth, g); err != nil {
				return nil, err
			}
			if copied.Always, err = b.expand(t.Always, depth, g); err != nil {
				return nil, err
			}
			out = append(out, &copied)
		default:
			out = append(out, n)
		}
	}
	return out, nil
}

func (b *Builder) expandImport(imp *Import, depth int, g *Graph) (Node, error) {
	if strings.Contains(imp.Path, "{{") || strings.Contains(imp.RoleName, "{{") {
		return nil, buildErrorf("import target %q cannot be templated, use an include instead", imp.Path+imp.RoleName)
	}
	block := &Block{Common: imp.Common}
	if imp.RoleName != "" {
		role, tasks, err := b.loadRole(imp.RoleName, imp.Dir, depth+1, g)
		if err != nil {
			return nil, err
		}
		block.Role = role
		block.Body = tasks
		return block, nil
	}
	tasks, err := b.loadTaskFile(resolve(b.FS, imp.Dir, imp.Path), imp.Role, depth+1, g)
	if err != nil {
		return nil, err
	}
	block.Body = tasks
	return block, nil
}

func (b *Builder) loadTaskFile(path string, role *Role, depth int, g *Graph) ([]Node, error) {
	data, err := b.FS.ReadFile(path)
	if err != nil {
		return nil, buildErrorf("failed to read task file %s: %v", path, err)
	}
	nodes, err := ParseTasks(data, dirOf(b.FS, path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	setRole(nodes, role)
	return b.expand(nodes, depth, g)
}

// findRole searches the roles path, then roles/ next to the play, then the play directory.
func (b *Builder) findRole(name, dir string) (string, error) {
	var candidates []string
	for _, rp := range b.RolesPath {
		candidates = append(candidates, b.FS.Join(resolve(b.FS, dir, rp), name))
	}
	candidates = append(candidates, b.FS.Join(dir, "roles", name), b.FS.Join(dir, name))
	for _, c := range candidates {
		if info, err := b.FS.Stat(c); err == nil && info.IsDir() {
			return c, nil
		}
	}
	return "", buildErrorf("role %q not found in any of %v", name, candidates)
}

// loadRole reads defaults, vars, tasks and handlers of a role. g may be nil
// for roles included at run time, whose handlers are not registered.
func (b *Builder) loadRole(name, dir string, depth int, g *Graph) (*Role, []Node, error) {
	path, err := b.findRole(name, dir)
	if err != nil {
		return nil, nil, err
	}
	role := &Role{Name: name, Path: path}

	if role.Defaults, err = b.readRoleVars(path, "defaults"); err != nil {
		return nil, nil, err
	}
	if role.Vars, err = b.readRoleVars(path, "vars"); err != nil {
		return nil, nil, err
	}

	var tasks []Node
	data, file, err := b.readRoleFile(path, "tasks")
	if err != nil {
		return nil, nil, err
	}
	if data != nil {
		parsed, err := ParseTasks(data, dirOf(b.FS, file))
		if err != nil {
			return nil, nil, fmt.Errorf("role %s: %w", name, err)
		}
		setRole(parsed, role)
		if tasks, err = b.expand(parsed, depth+1, g); err != nil {
			return nil, nil, err
		}
	}

	data, file, err = b.readRoleFile(path, "handlers")
	if err != nil {
		return nil, nil, err
	}
	if data != nil {
		parsed, err := ParseTasks(data, dirOf(b.FS, file))
		if err != nil {
			return nil, nil, fmt.Errorf("role %s handlers: %w", name, err)
		}
		setRole(parsed, role)
		expanded, err := b.expand(parsed, depth+1, g)
		if err != nil {
			return nil, nil, err
		}
		if role.Handlers, err = collectHandlers(expanded, Common{}); err != nil {
			return nil, nil, fmt.Errorf("role %s: %w", name, err)
		}
	}

	if g != nil {
		g.Roles = append(g.Roles, role)
	}
	common.LogDebug("Loaded role", map[string]interface{}{"role": name, "path": path, "tasks": len(tasks)})
	return role, tasks, nil
}

func (b *Builder) readRoleFile(rolePath, section string) ([]byte, string, error) {
	data, file, err := readFirst(b.FS,
		b.FS.Join(rolePath, section, "main.yml"),
		b.FS.Join(rolePath, section, "main.yaml"),
	)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", nil
		}
		return nil, "", buildErrorf("failed to read %s of role %s: %v", section, rolePath, err)
	}
	return data, file, nil
}

func (b *Builder) readRoleVars(rolePath, section string) (map[string]interface{}, error) {
	data, file, err := b.readRoleFile(rolePath, section)
	if err != nil || data == nil {
		return map[string]interface{}{}, err
	}
	out := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, buildErrorf("failed to parse %s: %v", file, err)
	}
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}

// collectHandlers flattens handler lists. Blocks (from imports) pass their
// when and vars down to the handlers they contain.
func collectHandlers(nodes []Node, scope Common) ([]*Action, error) {
	var out []*Action
	for _, n := range nodes {
		switch t := n.(type) {
		case *Action:
			h := *t
			h.When = append(append([]string(nil), scope.When...), t.When...)
			h.Vars = vars.Merge(scope.Vars, t.Vars)
			if h.Name == "" && len(h.Listen) == 0 {
				common.LogWarn("Handler has neither a name nor listen and can never be notified", map[string]interface{}{"module": h.Module})
			}
			out = append(out, &h)
		case *Block:
			if len(t.Rescue) > 0 || len(t.Always) > 0 {
				return nil, buildErrorf("handlers cannot use rescue or always")
			}
			inner := Common{
				When: append(append([]string(nil), scope.When...), t.When...),
				Vars: vars.Merge(scope.Vars, t.Vars),
			}
			nested, err := collectHandlers(t.Body, inner)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		default:
			return nil, buildErrorf("%s is not supported in handlers", n.Kind())
		}
	}
	return out, nil
}

func setRole(nodes []Node, role *Role) {
	if role == nil {
		return
	}
	Walk(nodes, func(n Node) {
		if n.Base().Role == nil {
			n.Base().Role = role
		}
	})
}
