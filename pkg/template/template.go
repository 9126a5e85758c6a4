package template

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/AlexanderGrooff/converge/pkg/common"
	"github.com/AlexanderGrooff/jinja-go"
)

// maxIterations bounds recursive templating of values that render to new templates.
const maxIterations = 10

// UndefinedError reports a variable referenced by an expression that is missing
// from the effective variable mapping.
type UndefinedError struct {
	Name string
	Expr string
}

func (e *UndefinedError) Error() string {
	return fmt.Sprintf("undefined variable %q in %q", e.Name, e.Expr)
}

// EvalError wraps any other failure to evaluate or render an expression.
type EvalError struct {
	Expr string
	Err  error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("failed to evaluate %q: %v", e.Expr, e.Err)
}

func (e *EvalError) Unwrap() error {
	return e.Err
}

// IsUndefined reports whether err was caused by an undefined variable.
func IsUndefined(err error) bool {
	var u *UndefinedError
	return errors.As(err, &u)
}

// Evaluator evaluates expressions and renders templates against a variable mapping.
type Evaluator interface {
	Evaluate(expr string, vars map[string]interface{}) (interface{}, error)
	Template(s string, vars map[string]interface{}) (string, error)
	Truthy(v interface{}) bool
}

// Jinja is the Evaluator backed by jinja-go.
type Jinja struct{}

func New() *Jinja {
	return &Jinja{}
}

var (
	loneExpression = regexp.MustCompile(`^\s*\{\{\s*((?s).*?)\s*\}\}\s*$`)
	// Expressions that are allowed to reference missing variables
	undefinedGuards = []string{"default(", "| d(", "|d(", "is defined", "is undefined", "is not defined"}
	literals        = map[string]bool{
		"true": true, "false": true, "none": true, "True": true, "False": true, "None": true,
		"null": true, "and": true, "or": true, "not": true, "in": true, "is": true,
	}
)

// Evaluate evaluates a bare expression such as `x > 3 and y is defined`.
// An expression wrapped in "{{ }}" is unwrapped first.
func (j *Jinja) Evaluate(expr string, vars map[string]interface{}) (interface{}, error) {
	expr = strings.TrimSpace(expr)
	if m := loneExpression.FindStringSubmatch(expr); m != nil {
		expr = m[1]
	}
	if expr == "" {
		return nil, &EvalError{Expr: expr, Err: fmt.Errorf("empty expression")}
	}
	if err := checkDefined(expr, vars, jinja.ParseVariablesFromExpression); err != nil {
		return nil, err
	}
	res, err := jinja.EvaluateExpression(expr, vars)
	if err != nil {
		return nil, &EvalError{Expr: expr, Err: err}
	}
	common.DebugOutput("Evaluated expression %q -> %v", expr, res)
	return res, nil
}

// Template renders a string containing "{{ }}" and "{% %}" blocks.
func (j *Jinja) Template(s string, vars map[string]interface{}) (string, error) {
	if !isTemplated(s) {
		return s, nil
	}
	if err := checkDefined(s, vars, jinja.ParseVariables); err != nil {
		return "", err
	}
	res, err := jinja.TemplateString(s, vars)
	if err != nil {
		return "", &EvalError{Expr: s, Err: err}
	}
	if res != s {
		common.DebugOutput("Templated %q into %q", s, res)
	}
	return res, nil
}

func (j *Jinja) Truthy(v interface{}) bool {
	return jinja.IsTruthy(v)
}

func isTemplated(s string) bool {
	return strings.Contains(s, "{{") || strings.Contains(s, "{%")
}

// checkDefined compares the root names referenced by expr against vars. Names
// bound inside the expression itself (for loops, set) and guarded expressions
// are left to the template engine.
func checkDefined(expr string, vars map[string]interface{}, parse func(string) ([]string, error)) error {
	if strings.Contains(expr, "{%") {
		return nil
	}
	for _, guard := range undefinedGuards {
		if strings.Contains(expr, guard) {
			return nil
		}
	}
	names, err := parse(expr)
	if err != nil {
		// Let the evaluation itself report the syntax problem
		return nil
	}
	for _, name := range names {
		root := rootName(name)
		if root == "" {
			continue
		}
		if literals[root] {
			continue
		}
		if _, ok := vars[root]; !ok {
			return &UndefinedError{Name: root, Expr: expr}
		}
	}
	return nil
}

func rootName(name string) string {
	name = strings.TrimSpace(name)
	if idx := strings.IndexAny(name, ".["); idx != -1 {
		name = name[:idx]
	}
	return name
}

// TemplateValue renders every string inside v, walking maps and slices. The
// input is not modified. A string that consists of a single "{{ expr }}"
// evaluates to the expression's native value, so lists and numbers survive.
func TemplateValue(e Evaluator, v interface{}, vars map[string]interface{}) (interface{}, error) {
	switch t := v.(type) {
	case string:
		return templateString(e, t, vars)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			rendered, err := TemplateValue(e, val, vars)
			if err != nil {
				return nil, fmt.Errorf("failed to template key %s: %w", k, err)
			}
			out[k] = rendered
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			rendered, err := TemplateValue(e, val, vars)
			if err != nil {
				return nil, fmt.Errorf("failed to template element %d: %w", i, err)
			}
			out[i] = rendered
		}
		return out, nil
	case []string:
		out := make([]interface{}, len(t))
		for i, val := range t {
			rendered, err := templateString(e, val, vars)
			if err != nil {
				return nil, fmt.Errorf("failed to template element %d: %w", i, err)
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

// TemplateArgs renders module arguments.
func TemplateArgs(e Evaluator, args map[string]interface{}, vars map[string]interface{}) (map[string]interface{}, error) {
	if args == nil {
		return map[string]interface{}{}, nil
	}
	out, err := TemplateValue(e, args, vars)
	if err != nil {
		return nil, err
	}
	return out.(map[string]interface{}), nil
}

func templateString(e Evaluator, s string, vars map[string]interface{}) (interface{}, error) {
	current := s
	for i := 0; i < maxIterations; i++ {
		if !isTemplated(current) {
			return current, nil
		}
		if m := loneExpression.FindStringSubmatch(current); m != nil && !strings.Contains(m[1], "}}") {
			val, err := e.Evaluate(m[1], vars)
			if err != nil {
				return nil, err
			}
			next, ok := val.(string)
			if !ok {
				return val, nil
			}
			if next == current {
				return next, nil
			}
			current = next
			continue
		}
		rendered, err := e.Template(current, vars)
		if err != nil {
			return nil, err
		}
		if rendered == current {
			return rendered, nil
		}
		current = rendered
	}
	return nil, &EvalError{Expr: s, Err: fmt.Errorf("template expansion exceeded %d iterations", maxIterations)}
}

// EvaluateCondition evaluates a list of conditions that must all hold. An empty
// list is true.
func EvaluateCondition(e Evaluator, conditions []string, vars map[string]interface{}) (bool, error) {
	for _, cond := range conditions {
		cond = strings.TrimSpace(cond)
		if cond == "" {
			continue
		}
		val, err := e.Evaluate(cond, vars)
		if err != nil {
			return false, err
		}
		if !e.Truthy(val) {
			common.LogDebug("Condition evaluated false", map[string]interface{}{"condition": cond, "value": val})
			return false, nil
		}
	}
	return true, nil
}
