package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditkit/internal/llm"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"AUDITKIT_DB", "AUDITKIT_UNITS", "AUDITKIT_PROVIDER", "AUDITKIT_MODEL",
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY", "AVALAI_API_KEY",
	} {
		t.Setenv(name, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "ledger.db", cfg.Store.Path)
	assert.Equal(t, "units", cfg.Units.Dir)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "json", cfg.Output.Format)
	assert.Equal(t, 50, cfg.Authoring.MaxNameLength)
	assert.False(t, cfg.Logging.DebugMode)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.APIKey = "sk-test"
	cfg.Units.ExecutionTimeout = "5s"
	cfg.Logging.Categories = map[string]bool{"loader": true, "api": false}
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output:\n  format: table\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "table", cfg.Output.Format)
	assert.Equal(t, "ledger.db", cfg.Store.Path)
	assert.Equal(t, 120*time.Second, cfg.GetLLMTimeout())
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [unclosed"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUDITKIT_DB", "/data/ledger.db")
	t.Setenv("AUDITKIT_UNITS", "/data/units")
	t.Setenv("AUDITKIT_PROVIDER", "gemini")
	t.Setenv("AUDITKIT_MODEL", "gemini-2.5-pro")
	t.Setenv("OPENAI_API_KEY", "openai-key")
	t.Setenv("GEMINI_API_KEY", "gemini-key")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "/data/ledger.db", cfg.Store.Path)
	assert.Equal(t, "/data/units", cfg.Units.Dir)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)
	assert.Equal(t, "gemini-key", cfg.LLM.APIKey, "key follows the provider")
}

func TestEnvKeyDoesNotReplaceFileKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("AVALAI_API_KEY", "env-key")

	cfg := DefaultConfig()
	cfg.LLM.Provider = "avalai"
	cfg.LLM.APIKey = "file-key"
	cfg.applyEnvOverrides()
	assert.Equal(t, "file-key", cfg.LLM.APIKey)

	cfg.LLM.APIKey = ""
	cfg.applyEnvOverrides()
	assert.Equal(t, "env-key", cfg.LLM.APIKey)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"zai provider", func(c *Config) { c.LLM.Provider = "zai" }, ""},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "invalid-provider" }, "invalid LLM provider"},
		{"negative retries", func(c *Config) { c.LLM.MaxRetries = -1 }, "max_retries"},
		{"unknown format", func(c *Config) { c.Output.Format = "xml" }, "invalid output format"},
		{"empty format", func(c *Config) { c.Output.Format = "" }, ""},
		{"unknown level", func(c *Config) { c.Logging.Level = "trace" }, "invalid log level"},
		{"bad timeout", func(c *Config) { c.Units.ExecutionTimeout = "soon" }, "invalid execution timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Helpers(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, time.Duration(0), cfg.GetExecutionTimeout())
	cfg.Units.ExecutionTimeout = "2s"
	assert.Equal(t, 2*time.Second, cfg.GetExecutionTimeout())

	assert.Equal(t, 300*time.Millisecond, cfg.GetWatchDebounce())
	cfg.Watch.Debounce = "nope"
	assert.Equal(t, 300*time.Millisecond, cfg.GetWatchDebounce())

	cfg.LLM.Timeout = "bad"
	assert.Equal(t, 120*time.Second, cfg.GetLLMTimeout())

	cfg.Authoring.MaxNameLength = 0
	assert.Equal(t, 50, cfg.GetMaxNameLength())

	assert.Equal(t, "/abs/x.db", ResolvePath("/ws/.audit", "/abs/x.db"))
	assert.Equal(t, filepath.Join("/ws/.audit", "x.db"), ResolvePath("/ws/.audit", "x.db"))
}

func TestLLMClientConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.APIKey = "k"
	cfg.LLM.Timeout = "30s"
	cfg.LLM.MaxRetries = 2

	got := cfg.LLMClientConfig()
	assert.Equal(t, llm.ProviderAnthropic, got.Provider)
	assert.Equal(t, "k", got.APIKey)
	assert.Equal(t, 30*time.Second, got.Timeout)
	assert.Equal(t, 2, got.MaxRetries)
}

func TestLoggingCategories(t *testing.T) {
	l := LoggingConfig{}
	assert.False(t, l.IsCategoryEnabled("loader"), "production mode logs nothing")

	l.DebugMode = true
	assert.True(t, l.IsCategoryEnabled("loader"))

	l.Categories = map[string]bool{"loader": false}
	assert.False(t, l.IsCategoryEnabled("loader"))
	assert.True(t, l.IsCategoryEnabled("api"))

	s := l.Settings()
	assert.True(t, s.DebugMode)
	assert.Equal(t, l.Categories, s.Categories)
}
