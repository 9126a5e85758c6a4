package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration settings
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Tags      TagsConfig      `mapstructure:"tags"`
	Facts     FactsConfig     `mapstructure:"facts"`
	SSH       SSHConfig       `mapstructure:"ssh"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Inventory string          `mapstructure:"inventory"`
	RolesPath []string        `mapstructure:"roles_path"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
	Format     string `mapstructure:"format" validate:"oneof=plain json yaml"`
	File       string `mapstructure:"file"`
	Timestamps bool   `mapstructure:"timestamps"`
}

// ExecutionConfig controls how plays are scheduled against hosts.
type ExecutionConfig struct {
	Strategy    string        `mapstructure:"strategy" validate:"oneof=linear free"`
	Forks       int           `mapstructure:"forks" validate:"min=1"`
	TaskTimeout time.Duration `mapstructure:"task_timeout" validate:"min=0"`
	Check       bool          `mapstructure:"check"`
	Diff        bool          `mapstructure:"diff"`
	Become      bool          `mapstructure:"become"`
	BecomeUser  string        `mapstructure:"become_user"`
}

// TagsConfig holds the default tag selection.
type TagsConfig struct {
	Tags     []string `mapstructure:"tags"`
	SkipTags []string `mapstructure:"skip_tags"`
}

// FactsConfig controls fact gathering and the fact cache backend.
type FactsConfig struct {
	Gather string        `mapstructure:"gather" validate:"oneof=implicit smart explicit"`
	Cache  string        `mapstructure:"cache" validate:"oneof=memory sqlite"`
	Path   string        `mapstructure:"path" validate:"required_if=Cache sqlite"`
	TTL    time.Duration `mapstructure:"ttl" validate:"min=0"`
}

// SSHConfig holds settings for the SSH transport.
type SSHConfig struct {
	User            string        `mapstructure:"user"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	PrivateKeyFile  string        `mapstructure:"private_key_file"`
	HostKeyChecking bool          `mapstructure:"host_key_checking"`
	KnownHostsFile  string        `mapstructure:"known_hosts_file"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxSessions     int           `mapstructure:"max_sessions" validate:"min=1"`
	MaxConnections  int           `mapstructure:"max_connections" validate:"min=1"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen" validate:"required_if=Enabled true"`
}

var validate = validator.New()

// Load loads configuration from files and environment variables
func Load(configPaths ...string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	for _, path := range configPaths {
		if path == "" {
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("CONVERGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the struct tags of the loaded configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Default returns the configuration that Load produces without any files or environment.
func Default() *Config {
	cfg, err := Load()
	if err != nil {
		// Defaults are static; failing here is a programming error
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "plain")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.timestamps", true)

	v.SetDefault("execution.strategy", "linear")
	v.SetDefault("execution.forks", 5)
	v.SetDefault("execution.task_timeout", "0s")
	v.SetDefault("execution.check", false)
	v.SetDefault("execution.diff", false)
	v.SetDefault("execution.become", false)
	v.SetDefault("execution.become_user", "root")

	v.SetDefault("tags.tags", []string{})
	v.SetDefault("tags.skip_tags", []string{})

	v.SetDefault("facts.gather", "implicit")
	v.SetDefault("facts.cache", "memory")
	v.SetDefault("facts.path", "")
	v.SetDefault("facts.ttl", "24h")

	v.SetDefault("ssh.user", "")
	v.SetDefault("ssh.port", 22)
	v.SetDefault("ssh.private_key_file", "")
	v.SetDefault("ssh.host_key_checking", true)
	v.SetDefault("ssh.known_hosts_file", "~/.ssh/known_hosts")
	v.SetDefault("ssh.connect_timeout", "30s")
	v.SetDefault("ssh.max_sessions", 10)
	v.SetDefault("ssh.max_connections", 5)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")

	v.SetDefault("inventory", "")
	v.SetDefault("roles_path", []string{})
}
