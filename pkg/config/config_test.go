package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "converge.yaml")
	configContent := `
logging:
  level: "debug"
  format: "json"
  file: "test.log"

execution:
  strategy: "free"
  forks: 20
  task_timeout: "90s"

facts:
  cache: "sqlite"
  path: "/tmp/facts.db"
  ttl: "1h"

tags:
  skip_tags: ["slow"]
`
	err := os.WriteFile(configPath, []byte(configContent), 0644)
	require.NoError(t, err)

	tests := []struct {
		name        string
		configPaths []string
		envVars     map[string]string
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name:        "default config",
			configPaths: []string{},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, LoggingConfig{Level: "info", Format: "plain", Timestamps: true}, cfg.Logging)
				assert.Equal(t, "linear", cfg.Execution.Strategy)
				assert.Equal(t, 5, cfg.Execution.Forks)
				assert.Equal(t, time.Duration(0), cfg.Execution.TaskTimeout)
				assert.Equal(t, "memory", cfg.Facts.Cache)
				assert.Equal(t, 24*time.Hour, cfg.Facts.TTL)
				assert.Equal(t, 22, cfg.SSH.Port)
				assert.True(t, cfg.SSH.HostKeyChecking)
				assert.Empty(t, cfg.Tags.Tags)
			},
		},
		{
			name:        "config from file",
			configPaths: []string{configPath},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Logging.Level)
				assert.Equal(t, "json", cfg.Logging.Format)
				assert.Equal(t, "test.log", cfg.Logging.File)
				assert.Equal(t, "free", cfg.Execution.Strategy)
				assert.Equal(t, 20, cfg.Execution.Forks)
				assert.Equal(t, 90*time.Second, cfg.Execution.TaskTimeout)
				assert.Equal(t, "sqlite", cfg.Facts.Cache)
				assert.Equal(t, time.Hour, cfg.Facts.TTL)
				assert.Equal(t, []string{"slow"}, cfg.Tags.SkipTags)
			},
		},
		{
			name:        "environment overrides file",
			configPaths: []string{configPath},
			envVars: map[string]string{
				"CONVERGE_EXECUTION_FORKS":    "3",
				"CONVERGE_LOGGING_LEVEL":      "warn",
				"CONVERGE_EXECUTION_STRATEGY": "linear",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3, cfg.Execution.Forks)
				assert.Equal(t, "warn", cfg.Logging.Level)
				assert.Equal(t, "linear", cfg.Execution.Strategy)
				assert.Equal(t, "json", cfg.Logging.Format)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			cfg, err := Load(tt.configPaths...)
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown strategy", content: "execution:\n  strategy: \"random\"\n"},
		{name: "zero forks", content: "execution:\n  forks: 0\n"},
		{name: "sqlite cache without path", content: "facts:\n  cache: \"sqlite\"\n"},
		{name: "unknown log format", content: "logging:\n  format: \"xml\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "converge.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
