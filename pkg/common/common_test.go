package common

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/AlexanderGrooff/converge/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToStringSlice(t *testing.T) {
	tests := []struct {
		name  string
		value interface{}
		split bool
		want  []string
	}{
		{name: "nil", value: nil, want: nil},
		{name: "single string", value: "web", want: []string{"web"}},
		{name: "comma separated", value: "a, b,,c", split: true, want: []string{"a", "b", "c"}},
		{name: "interface list", value: []interface{}{"a", 1}, want: []string{"a", "1"}},
		{name: "string list", value: []string{"x"}, want: []string{"x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToStringSlice(tt.value, tt.split))
		})
	}
}

func TestToBool(t *testing.T) {
	for _, v := range []interface{}{true, "yes", "True", 1, "on"} {
		b, err := ToBool(v)
		require.NoError(t, err)
		assert.True(t, b, "%v", v)
	}
	for _, v := range []interface{}{false, "no", nil, 0, "off"} {
		b, err := ToBool(v)
		require.NoError(t, err)
		assert.False(t, b, "%v", v)
	}
	_, err := ToBool("maybe")
	assert.Error(t, err)
}

func TestRunIDHook(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	require.NoError(t, SetLogFormat(config.LoggingConfig{Format: "json"}))
	SetLogLevel("info")
	SetRunID("run-123")

	LogInfo("hello", map[string]interface{}{"host": "web1"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "run-123", entry["run_id"])
	assert.Equal(t, "web1", entry["host"])
	assert.Equal(t, "hello", entry["msg"])
}

func TestSetLogFormatRejectsUnknown(t *testing.T) {
	assert.Error(t, SetLogFormat(config.LoggingConfig{Format: "xml"}))
}
