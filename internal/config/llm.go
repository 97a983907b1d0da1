package config

import (
	"fmt"
	"time"

	"auditkit/internal/llm"
)

// LLMConfig configures the client used to author units.
type LLMConfig struct {
	Provider   string `yaml:"provider"` // openai, avalai, openrouter, xai, zai, anthropic, gemini
	APIKey     string `yaml:"api_key,omitempty"`
	Model      string `yaml:"model,omitempty"`
	BaseURL    string `yaml:"base_url,omitempty"`
	Timeout    string `yaml:"timeout"`
	MaxRetries int    `yaml:"max_retries,omitempty"`
}

// apiKeyEnv maps a provider to the environment variable holding its key.
var apiKeyEnv = map[string]string{
	string(llm.ProviderOpenAI):    "OPENAI_API_KEY",
	string(llm.ProviderAnthropic): "ANTHROPIC_API_KEY",
	string(llm.ProviderGemini):    "GEMINI_API_KEY",
	string(llm.ProviderAvalAI):    "AVALAI_API_KEY",
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// LLMClientConfig converts the section into a client configuration.
func (c *Config) LLMClientConfig() llm.Config {
	return llm.Config{
		Provider:   llm.Provider(c.LLM.Provider),
		APIKey:     c.LLM.APIKey,
		Model:      c.LLM.Model,
		BaseURL:    c.LLM.BaseURL,
		Timeout:    c.GetLLMTimeout(),
		MaxRetries: c.LLM.MaxRetries,
	}
}

func (l *LLMConfig) validate() error {
	if !llm.Provider(l.Provider).Valid() {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", l.Provider, llm.Providers)
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", l.MaxRetries)
	}
	return nil
}
