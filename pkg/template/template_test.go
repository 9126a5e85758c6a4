package template

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVars() map[string]interface{} {
	return map[string]interface{}{
		"name":    "web1",
		"count":   5,
		"enabled": true,
		"ports":   []interface{}{80, 443},
		"nested":  map[string]interface{}{"key": "value"},
		"pointer": "{{ name }}",
	}
}

func TestEvaluate(t *testing.T) {
	j := New()
	tests := []struct {
		name string
		expr string
		want interface{}
	}{
		{"comparison", "count > 3", true},
		{"equality", "name == 'web1'", true},
		{"wrapped", "{{ count > 10 }}", false},
		{"variable", "enabled", true},
		{"attribute", "nested.key", "value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := j.Evaluate(tt.expr, testVars())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateUndefined(t *testing.T) {
	j := New()
	_, err := j.Evaluate("missing == 1", testVars())
	require.Error(t, err)
	assert.True(t, IsUndefined(err))

	var u *UndefinedError
	require.True(t, errors.As(err, &u))
	assert.Equal(t, "missing", u.Name)

	_, err = j.Evaluate("nested.key == 'value'", testVars())
	assert.NoError(t, err)

	_, err = j.Evaluate("   ", testVars())
	require.Error(t, err)
	assert.False(t, IsUndefined(err))
}

func TestCheckDefinedGuards(t *testing.T) {
	parse := func(string) ([]string, error) { return []string{"missing"}, nil }
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"missing", true},
		{"missing | default('x')", false},
		{"missing | d(1)", false},
		{"missing is defined", false},
		{"missing is undefined", false},
		{"{% if missing %}x{% endif %}", false},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := checkDefined(tt.expr, map[string]interface{}{}, parse)
			if tt.wantErr {
				assert.True(t, IsUndefined(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}

	literalParse := func(string) ([]string, error) { return []string{"true", "None", "name.attr", "ports[0]"}, nil }
	assert.NoError(t, checkDefined("x", testVars(), literalParse))
}

func TestTemplate(t *testing.T) {
	j := New()
	out, err := j.Template("Hello {{ name }}!", testVars())
	require.NoError(t, err)
	assert.Equal(t, "Hello web1!", out)

	out, err = j.Template("plain text", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out)

	_, err = j.Template("Hello {{ nobody }}", testVars())
	assert.True(t, IsUndefined(err))
}

func TestTemplateValue(t *testing.T) {
	j := New()
	args := map[string]interface{}{
		"msg":     "host {{ name }}",
		"ports":   "{{ ports }}",
		"count":   "{{ count }}",
		"literal": 42,
		"list":    []interface{}{"{{ name }}", "static"},
		"inner":   map[string]interface{}{"ref": "{{ pointer }}"},
	}

	out, err := TemplateArgs(j, args, testVars())
	require.NoError(t, err)
	assert.Equal(t, "host web1", out["msg"])
	assert.Equal(t, []interface{}{80, 443}, out["ports"])
	assert.Equal(t, 5, out["count"])
	assert.Equal(t, 42, out["literal"])
	assert.Equal(t, []interface{}{"web1", "static"}, out["list"])
	assert.Equal(t, map[string]interface{}{"ref": "web1"}, out["inner"])

	// Input untouched
	assert.Equal(t, "host {{ name }}", args["msg"])

	_, err = TemplateArgs(j, map[string]interface{}{"x": "{{ nope }}"}, testVars())
	assert.True(t, IsUndefined(err))

	empty, err := TemplateArgs(j, nil, testVars())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestEvaluateCondition(t *testing.T) {
	j := New()
	tests := []struct {
		name       string
		conditions []string
		want       bool
	}{
		{"empty", nil, true},
		{"single true", []string{"count == 5"}, true},
		{"all must hold", []string{"count == 5", "name == 'db1'"}, false},
		{"blank entries ignored", []string{"", "enabled"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluateCondition(j, tt.conditions, testVars())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := EvaluateCondition(j, []string{"undefined_thing"}, testVars())
	assert.True(t, IsUndefined(err))
}
