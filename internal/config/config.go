// Package config holds the workspace configuration stored at
// .audit/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"auditkit/internal/output"
)

// Config holds all workspace configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Units     UnitsConfig     `yaml:"units"`
	LLM       LLMConfig       `yaml:"llm"`
	Authoring AuthoringConfig `yaml:"authoring"`
	Logging   LoggingConfig   `yaml:"logging"`
	Output    OutputConfig    `yaml:"output"`
	Watch     WatchConfig     `yaml:"watch"`
}

// StoreConfig locates the ledger database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// UnitsConfig configures unit discovery and execution.
type UnitsConfig struct {
	Dir string `yaml:"dir"`
	// ExecutionTimeout bounds one Execute call. Empty means no limit.
	ExecutionTimeout string `yaml:"execution_timeout,omitempty"`
}

// AuthoringConfig configures the generation pipeline.
type AuthoringConfig struct {
	MaxNameLength int `yaml:"max_name_length"`
}

// OutputConfig selects the default writer.
type OutputConfig struct {
	Format string `yaml:"format"` // json, table, msgpack
}

// WatchConfig configures the units directory watcher.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

const (
	defaultDebounce      = 300 * time.Millisecond
	defaultMaxNameLength = 50
)

// DefaultConfig returns the default configuration. Relative paths are
// resolved against the .audit directory.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: "ledger.db",
		},
		Units: UnitsConfig{
			Dir: "units",
		},
		LLM: LLMConfig{
			Provider: "openai",
			Timeout:  "120s",
		},
		Authoring: AuthoringConfig{
			MaxNameLength: defaultMaxNameLength,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Output: OutputConfig{
			Format: string(output.FormatJSON),
		},
		Watch: WatchConfig{
			Debounce: "300ms",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("AUDITKIT_DB"); path != "" {
		c.Store.Path = path
	}
	if dir := os.Getenv("AUDITKIT_UNITS"); dir != "" {
		c.Units.Dir = dir
	}
	if p := os.Getenv("AUDITKIT_PROVIDER"); p != "" {
		c.LLM.Provider = p
	}
	if m := os.Getenv("AUDITKIT_MODEL"); m != "" {
		c.LLM.Model = m
	}

	// The key follows the selected provider; a key in the file wins.
	if c.LLM.APIKey == "" {
		if env, ok := apiKeyEnv[c.LLM.Provider]; ok {
			c.LLM.APIKey = os.Getenv(env)
		}
	}
}

// ResolvePath returns p joined to base unless p is already absolute.
func ResolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// GetExecutionTimeout returns the unit execution timeout, zero when unset
// or unparseable.
func (c *Config) GetExecutionTimeout() time.Duration {
	if c.Units.ExecutionTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Units.ExecutionTimeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// GetWatchDebounce returns the watcher debounce interval.
func (c *Config) GetWatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil || d <= 0 {
		return defaultDebounce
	}
	return d
}

// GetMaxNameLength returns the generated file name limit.
func (c *Config) GetMaxNameLength() int {
	if c.Authoring.MaxNameLength <= 0 {
		return defaultMaxNameLength
	}
	return c.Authoring.MaxNameLength
}

// Validate validates the configuration. A missing API key is not an error
// here since only generation needs one.
func (c *Config) Validate() error {
	if err := c.LLM.validate(); err != nil {
		return err
	}
	if _, err := output.ParseFormat(c.Output.Format); err != nil {
		return fmt.Errorf("invalid output format: %w", err)
	}
	if err := c.Logging.validate(); err != nil {
		return err
	}
	if c.Units.ExecutionTimeout != "" {
		if _, err := time.ParseDuration(c.Units.ExecutionTimeout); err != nil {
			return fmt.Errorf("invalid execution timeout %q: %w", c.Units.ExecutionTimeout, err)
		}
	}
	return nil
}
