package playbook

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/AlexanderGrooff/converge/pkg/common"
	"github.com/AlexanderGrooff/converge/pkg/vars"
	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// maxImportDepth bounds nested import_playbook, import_tasks and import_role chains.
const maxImportDepth = 32

var commonKeywords = map[string]bool{
	"name": true, "when": true, "tags": true, "vars": true, "ignore_errors": true,
	"become": true, "become_user": true, "no_log": true,
}

var actionKeywords = map[string]bool{
	"register": true, "notify": true, "loop": true, "with_items": true, "with_list": true,
	"loop_control": true, "failed_when": true, "changed_when": true, "until": true,
	"retries": true, "delay": true, "timeout": true, "delegate_to": true, "listen": true,
	"check_mode": true, "run_once": true, "args": true, "environment": true,
}

var blockKeywords = map[string]bool{"block": true, "rescue": true, "always": true}

var playKeywords = map[string]bool{
	"name": true, "hosts": true, "strategy": true, "serial": true, "max_fail_percentage": true,
	"any_errors_fatal": true, "forks": true, "become": true, "become_user": true,
	"gather_facts": true, "vars": true, "vars_files": true, "roles": true, "pre_tasks": true,
	"tasks": true, "post_tasks": true, "handlers": true, "tags": true, "connection": true,
	"remote_user": true,
}

// Modules whose string argument is a free-form command line
var freeFormModules = map[string]bool{
	"command": true, "shell": true, "raw": true, "meta": true, "script": true,
}

var modulePrefixes = []string{"ansible.builtin.", "ansible.legacy."}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Load reads a playbook file and every playbook it imports.
func Load(fsys FileSystem, path string) (*Playbook, error) {
	plays, err := loadPlays(fsys, path, 0)
	if err != nil {
		return nil, err
	}
	common.LogDebug("Loaded playbook", map[string]interface{}{"path": path, "plays": len(plays)})
	return &Playbook{Path: path, Dir: dirOf(fsys, path), Plays: plays}, nil
}

func loadPlays(fsys FileSystem, path string, depth int) ([]*Play, error) {
	if depth > maxImportDepth {
		return nil, buildErrorf("import_playbook nesting deeper than %d at %s", maxImportDepth, path)
	}
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, buildErrorf("failed to read playbook %s: %v", path, err)
	}
	var entries []map[string]interface{}
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, buildErrorf("failed to parse playbook %s: %v", path, err)
	}

	dir := dirOf(fsys, path)
	var plays []*Play
	for i, entry := range entries {
		if imported, ok := entry["import_playbook"]; ok {
			name, ok := imported.(string)
			if !ok || name == "" {
				return nil, buildErrorf("%s: entry %d: import_playbook expects a file name", path, i)
			}
			nested, err := loadPlays(fsys, resolve(fsys, dir, name), depth+1)
			if err != nil {
				return nil, err
			}
			plays = append(plays, nested...)
			continue
		}
		if _, ok := entry["hosts"]; !ok {
			return nil, buildErrorf("%s: entry %d is neither a play nor an import_playbook", path, i)
		}
		play, err := ParsePlay(entry, dir)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		plays = append(plays, play)
	}
	return plays, nil
}

// ParsePlay converts a decoded play mapping. dir is used to resolve relative paths.
func ParsePlay(m map[string]interface{}, dir string) (*Play, error) {
	for _, key := range sortedKeys(m) {
		if !playKeywords[key] {
			return nil, buildErrorf("unknown play keyword %q", key)
		}
	}

	p := &Play{Dir: dir}
	var err error
	p.Name = str(m["name"])
	p.Hosts = strings.Join(common.ToStringSlice(m["hosts"], false), ",")
	p.Strategy = str(m["strategy"])
	p.BecomeUser = str(m["become_user"])
	p.Tags = common.ToStringSlice(m["tags"], true)
	p.VarsFiles = common.ToStringSlice(m["vars_files"], false)

	if p.Become, err = boolKey(m, "become"); err != nil {
		return nil, err
	}
	if p.AnyErrorsFatal, err = boolKey(m, "any_errors_fatal"); err != nil {
		return nil, err
	}
	if v, ok := m["gather_facts"]; ok {
		b, err := common.ToBool(v)
		if err != nil {
			return nil, buildErrorf("gather_facts: %v", err)
		}
		p.GatherFacts = &b
	}
	if v, ok := m["forks"]; ok {
		if p.Forks, err = common.ToInt(v); err != nil {
			return nil, buildErrorf("forks: %v", err)
		}
	}
	if v, ok := m["serial"]; ok {
		p.Serial = common.ToStringSlice(v, false)
	}
	if v, ok := m["max_fail_percentage"]; ok {
		pct, err := toFloat(v)
		if err != nil {
			return nil, buildErrorf("max_fail_percentage: %v", err)
		}
		p.MaxFailPercentage = &pct
	}

	if p.Vars, err = mapKey(m, "vars"); err != nil {
		return nil, err
	}
	if conn := str(m["connection"]); conn != "" {
		p.Vars["ansible_connection"] = conn
	}
	if user := str(m["remote_user"]); user != "" {
		p.Vars["ansible_user"] = user
	}

	if p.Roles, err = parseRoleRefs(m["roles"]); err != nil {
		return nil, err
	}
	if p.PreTasks, err = parseTaskList(m["pre_tasks"], dir, "pre_tasks"); err != nil {
		return nil, err
	}
	if p.Tasks, err = parseTaskList(m["tasks"], dir, "tasks"); err != nil {
		return nil, err
	}
	if p.PostTasks, err = parseTaskList(m["post_tasks"], dir, "post_tasks"); err != nil {
		return nil, err
	}
	if p.Handlers, err = parseTaskList(m["handlers"], dir, "handlers"); err != nil {
		return nil, err
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func parseRoleRefs(raw interface{}) ([]RoleRef, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, buildErrorf("roles must be a list, got %T", raw)
	}
	refs := make([]RoleRef, 0, len(items))
	for i, item := range items {
		switch r := item.(type) {
		case string:
			refs = append(refs, RoleRef{Name: r, Params: map[string]interface{}{}})
		case map[string]interface{}:
			ref := RoleRef{Params: map[string]interface{}{}}
			ref.Name = str(r["role"])
			if ref.Name == "" {
				ref.Name = str(r["name"])
			}
			if ref.Name == "" {
				return nil, buildErrorf("roles[%d]: missing 'role' or 'name'", i)
			}
			ref.When = toConditions(r["when"])
			ref.Tags = common.ToStringSlice(r["tags"], true)
			for k, v := range r {
				switch k {
				case "role", "name", "when", "tags":
				case "vars":
					vm, ok := v.(map[string]interface{})
					if !ok {
						return nil, buildErrorf("roles[%d]: vars must be a mapping", i)
					}
					vars.DeepMerge(ref.Params, vm)
				default:
					ref.Params[k] = vars.DeepCopy(v)
				}
			}
			refs = append(refs, ref)
		default:
			return nil, buildErrorf("roles[%d]: expected a name or a mapping, got %T", i, item)
		}
	}
	return refs, nil
}

// ParseTasks decodes a task file. dir is the directory of the file.
func ParseTasks(data []byte, dir string) ([]Node, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, buildErrorf("failed to parse tasks: %v", err)
	}
	return parseTaskList(raw, dir, "tasks")
}

func parseTaskList(raw interface{}, dir, section string) ([]Node, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, buildErrorf("%s must be a list, got %T", section, raw)
	}
	nodes := make([]Node, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, buildErrorf("%s[%d] must be a mapping, got %T", section, i, item)
		}
		n, err := parseTask(m, dir)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", section, i, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func parseTask(m map[string]interface{}, dir string) (Node, error) {
	c, err := parseCommon(m)
	if err != nil {
		return nil, err
	}
	if _, ok := m["block"]; ok {
		return parseBlock(m, c, dir)
	}
	for _, directive := range []string{"import_tasks", "include_tasks", "include", "import_role", "include_role"} {
		if v, ok := m[directive]; ok {
			return parseReference(m, c, directive, v, dir)
		}
	}
	return parseAction(m, c)
}

func parseCommon(m map[string]interface{}) (Common, error) {
	c := Common{
		Name:       str(m["name"]),
		When:       toConditions(m["when"]),
		Tags:       common.ToStringSlice(m["tags"], true),
		BecomeUser: str(m["become_user"]),
	}
	var err error
	if c.Vars, err = mapKey(m, "vars"); err != nil {
		return c, err
	}
	if c.IgnoreErrors, err = boolKey(m, "ignore_errors"); err != nil {
		return c, err
	}
	if c.NoLog, err = boolKey(m, "no_log"); err != nil {
		return c, err
	}
	if v, ok := m["become"]; ok {
		b, err := common.ToBool(v)
		if err != nil {
			return c, buildErrorf("become: %v", err)
		}
		c.Become = &b
	}
	return c, nil
}

func parseBlock(m map[string]interface{}, c Common, dir string) (Node, error) {
	for _, key := range sortedKeys(m) {
		if !blockKeywords[key] && !commonKeywords[key] {
			return nil, buildErrorf("keyword %q is not valid on a block", key)
		}
	}
	b := &Block{Common: c}
	var err error
	if b.Body, err = parseTaskList(m["block"], dir, "block"); err != nil {
		return nil, err
	}
	if b.Rescue, err = parseTaskList(m["rescue"], dir, "rescue"); err != nil {
		return nil, err
	}
	if b.Always, err = parseTaskList(m["always"], dir, "always"); err != nil {
		return nil, err
	}
	return b, nil
}

func parseReference(m map[string]interface{}, c Common, directive string, v interface{}, dir string) (Node, error) {
	for _, key := range sortedKeys(m) {
		if key != directive && !commonKeywords[key] {
			return nil, buildErrorf("keyword %q is not supported on %s", key, directive)
		}
	}

	var target string
	switch t := v.(type) {
	case string:
		target = t
	case map[string]interface{}:
		if strings.HasSuffix(directive, "_role") {
			target = str(t["name"])
		} else {
			target = str(t["file"])
		}
	}
	if target == "" {
		return nil, buildErrorf("%s requires a target", directive)
	}

	switch directive {
	case "import_tasks":
		return &Import{Common: c, Path: target, Dir: dir}, nil
	case "import_role":
		return &Import{Common: c, RoleName: target, Dir: dir}, nil
	case "include_role":
		return &Include{Common: c, RoleName: target, Dir: dir}, nil
	default:
		return &Include{Common: c, Path: target, Dir: dir}, nil
	}
}

func parseAction(m map[string]interface{}, c Common) (Node, error) {
	var candidates []string
	for _, key := range sortedKeys(m) {
		if !commonKeywords[key] && !actionKeywords[key] {
			candidates = append(candidates, key)
		}
	}
	switch len(candidates) {
	case 0:
		return nil, buildErrorf("no module found in task %q", c.Name)
	case 1:
	default:
		return nil, buildErrorf("conflicting action statements: %s", strings.Join(candidates, ", "))
	}

	a := &Action{Common: c, Module: normalizeModule(candidates[0])}
	var err error
	if a.Args, err = parseArgs(a.Module, m[candidates[0]]); err != nil {
		return nil, err
	}
	if extra, ok := m["args"]; ok {
		em, ok := extra.(map[string]interface{})
		if !ok {
			return nil, buildErrorf("args must be a mapping")
		}
		vars.DeepMerge(a.Args, em)
	}
	if env, ok := m["environment"]; ok {
		em, ok := env.(map[string]interface{})
		if !ok {
			return nil, buildErrorf("environment must be a mapping")
		}
		a.Args["_environment"] = vars.CopyMap(em)
	}

	a.Register = str(m["register"])
	a.Notify = common.ToStringSlice(m["notify"], false)
	a.Listen = common.ToStringSlice(m["listen"], false)
	a.DelegateTo = str(m["delegate_to"])
	a.FailedWhen = toConditions(m["failed_when"])
	a.ChangedWhen = toConditions(m["changed_when"])
	a.Until = toConditions(m["until"])

	for _, key := range []string{"loop", "with_items", "with_list"} {
		if v, ok := m[key]; ok {
			a.Loop = v
			break
		}
	}
	if lc, ok := m["loop_control"]; ok {
		lcm, ok := lc.(map[string]interface{})
		if !ok {
			return nil, buildErrorf("loop_control must be a mapping")
		}
		a.LoopVar = str(lcm["loop_var"])
	}

	if a.Retries, err = intPtrKey(m, "retries"); err != nil {
		return nil, err
	}
	if a.Delay, err = intPtrKey(m, "delay"); err != nil {
		return nil, err
	}
	if v, ok := m["timeout"]; ok {
		if a.Timeout, err = common.ToInt(v); err != nil {
			return nil, buildErrorf("timeout: %v", err)
		}
	}
	if a.RunOnce, err = boolKey(m, "run_once"); err != nil {
		return nil, err
	}
	if v, ok := m["check_mode"]; ok {
		b, err := common.ToBool(v)
		if err != nil {
			return nil, buildErrorf("check_mode: %v", err)
		}
		a.CheckMode = &b
	}
	return a, nil
}

func normalizeModule(name string) string {
	for _, prefix := range modulePrefixes {
		name = strings.TrimPrefix(name, prefix)
	}
	return name
}

// parseArgs turns the value of the module key into an argument mapping.
// Free-form modules keep their string under _raw_params; other modules
// accept "k=v k2='quoted value'" strings.
func parseArgs(module string, v interface{}) (map[string]interface{}, error) {
	switch t := v.(type) {
	case nil:
		return map[string]interface{}{}, nil
	case map[string]interface{}:
		return vars.CopyMap(t), nil
	case string:
		if freeFormModules[module] {
			return map[string]interface{}{"_raw_params": t}, nil
		}
		return parseKeyValue(t)
	default:
		return nil, buildErrorf("invalid arguments for module %s: %T", module, v)
	}
}

func parseKeyValue(s string) (map[string]interface{}, error) {
	tokens, err := shlex.Split(s)
	if err != nil {
		return nil, buildErrorf("failed to split arguments %q: %v", s, err)
	}
	out := map[string]interface{}{}
	last := ""
	for _, tok := range tokens {
		if k, val, ok := strings.Cut(tok, "="); ok && identifier.MatchString(k) {
			out[k] = val
			last = k
			continue
		}
		if last == "" {
			return map[string]interface{}{"_raw_params": s}, nil
		}
		// Unquoted templates like msg={{ x }} are split on spaces
		out[last] = out[last].(string) + " " + tok
	}
	return out, nil
}

// toConditions accepts a string, a boolean or a list of either.
func toConditions(v interface{}) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case bool:
		return []string{strconv.FormatBool(t)}
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return []string{t}
	}
	items, ok := common.InterfaceToSlice(v)
	if !ok {
		return []string{fmt.Sprint(v)}
	}
	var out []string
	for _, item := range items {
		out = append(out, toConditions(item)...)
	}
	return out
}

func str(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func boolKey(m map[string]interface{}, key string) (bool, error) {
	v, ok := m[key]
	if !ok {
		return false, nil
	}
	b, err := common.ToBool(v)
	if err != nil {
		return false, buildErrorf("%s: %v", key, err)
	}
	return b, nil
}

func intPtrKey(m map[string]interface{}, key string) (*int, error) {
	v, ok := m[key]
	if !ok {
		return nil, nil
	}
	i, err := common.ToInt(v)
	if err != nil {
		return nil, buildErrorf("%s: %v", key, err)
	}
	return &i, nil
}

func mapKey(m map[string]interface{}, key string) (map[string]interface{}, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return map[string]interface{}{}, nil
	}
	vm, ok := v.(map[string]interface{})
	if !ok {
		return nil, buildErrorf("%s must be a mapping, got %T", key, v)
	}
	return vars.CopyMap(vm), nil
}

func toFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case int:
		return float64(t), nil
	case float64:
		return t, nil
	case string:
		return strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(t), "%"), 64)
	}
	return 0, fmt.Errorf("expected a number, got %T", v)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
