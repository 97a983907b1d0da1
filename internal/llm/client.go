// Package llm provides text-generation backends used to author new units.
package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Client is a text-generation backend.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Provider names a backend.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderAvalAI     Provider = "avalai"
	ProviderOpenRouter Provider = "openrouter"
	ProviderXAI        Provider = "xai"
	ProviderZAI        Provider = "zai"
	ProviderAnthropic  Provider = "anthropic"
	ProviderGemini     Provider = "gemini"
)

// Providers lists every supported backend.
var Providers = []Provider{
	ProviderOpenAI, ProviderAvalAI, ProviderOpenRouter, ProviderXAI,
	ProviderZAI, ProviderAnthropic, ProviderGemini,
}

// Valid reports whether p is a supported backend.
func (p Provider) Valid() bool {
	for _, v := range Providers {
		if p == v {
			return true
		}
	}
	return false
}

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrMissingAPIKey   = errors.New("API key not configured")
	ErrEmptyResponse   = errors.New("no completion returned")
)

// Config selects and tunes a backend. Zero fields take the provider's
// defaults.
type Config struct {
	Provider   Provider
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	// MinInterval is the minimum gap between two requests from one client.
	MinInterval time.Duration
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
}

const (
	defaultTimeout     = 2 * time.Minute
	defaultMinInterval = 100 * time.Millisecond
	defaultBackoff     = time.Second
	defaultTemperature = 0.2
	defaultMaxTokens   = 8192
)

type providerDefaults struct {
	baseURL string
	model   string
}

var defaults = map[Provider]providerDefaults{
	ProviderOpenAI:     {"https://api.openai.com/v1", "gpt-4o-mini"},
	ProviderAvalAI:     {"https://api.avalai.ir/v1", "gpt-4o-mini"},
	ProviderOpenRouter: {"https://openrouter.ai/api/v1", "openai/gpt-4o-mini"},
	ProviderXAI:        {"https://api.x.ai/v1", "grok-3-mini"},
	ProviderZAI:        {"https://api.z.ai/api/paas/v4", "glm-4.6"},
	ProviderAnthropic:  {"https://api.anthropic.com/v1", "claude-sonnet-4-5"},
	ProviderGemini:     {"", "gemini-2.5-flash"},
}

// DefaultModel returns the model used for p when none is configured.
func DefaultModel(p Provider) string { return defaults[p].model }

// withDefaults fills the zero fields of c.
func (c Config) withDefaults() Config {
	d := defaults[c.Provider]
	if c.BaseURL == "" {
		c.BaseURL = d.baseURL
	}
	if c.Model == "" {
		c.Model = d.model
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MinInterval <= 0 {
		c.MinInterval = defaultMinInterval
	}
	if c.Backoff <= 0 {
		c.Backoff = defaultBackoff
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// throttle enforces a minimum interval between requests.
type throttle struct {
	mu          sync.Mutex
	lastRequest time.Time
	interval    time.Duration
}

func (t *throttle) wait(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d := t.interval - time.Since(t.lastRequest); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	t.lastRequest = time.Now()
	return nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// withDeadline applies timeout when ctx has no deadline of its own.
func withDeadline(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
