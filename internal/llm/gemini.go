package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"auditkit/internal/logging"
)

// GeminiClient generates text through the Gemini API.
type GeminiClient struct {
	apiKey  string
	baseURL string
	model   string
	timeout time.Duration

	throttle *throttle

	once   sync.Once
	client *genai.Client
	err    error
}

// NewGeminiClient creates a Gemini client. The underlying SDK client is
// created on first use.
func NewGeminiClient(cfg Config) *GeminiClient {
	cfg.Provider = ProviderGemini
	cfg = cfg.withDefaults()
	return &GeminiClient{
		apiKey:   cfg.APIKey,
		baseURL:  cfg.BaseURL,
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		throttle: &throttle{interval: cfg.MinInterval},
	}
}

func (c *GeminiClient) sdk(ctx context.Context) (*genai.Client, error) {
	c.once.Do(func() {
		cc := &genai.ClientConfig{
			APIKey:     c.apiKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: &http.Client{Timeout: c.timeout},
		}
		if c.baseURL != "" {
			cc.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
		}
		c.client, c.err = genai.NewClient(ctx, cc)
	})
	return c.client, c.err
}

// Complete sends a prompt and returns the completion.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system instruction.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := withDeadline(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	logging.APIDebug("[gemini] CompleteWithSystem: model=%s system_len=%d user_len=%d", c.model, len(systemPrompt), len(userPrompt))

	if c.apiKey == "" {
		return "", fmt.Errorf("gemini: %w", ErrMissingAPIKey)
	}
	client, err := c.sdk(ctx)
	if err != nil {
		return "", fmt.Errorf("gemini: create client: %w", err)
	}
	if err := c.throttle.wait(ctx); err != nil {
		return "", err
	}

	temp := float32(defaultTemperature)
	gc := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: defaultMaxTokens,
	}
	if strings.TrimSpace(systemPrompt) != "" {
		gc.SystemInstruction = genai.NewContentFromText(systemPrompt, genai.RoleUser)
	}

	contents := []*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)}
	resp, err := client.Models.GenerateContent(ctx, c.model, contents, gc)
	if err != nil {
		logging.APIWarn("[gemini] CompleteWithSystem failed after %v: %v", time.Since(start), err)
		return "", fmt.Errorf("gemini: %w", err)
	}

	out := strings.TrimSpace(resp.Text())
	if out == "" {
		return "", ErrEmptyResponse
	}
	logging.API("[gemini] CompleteWithSystem: completed in %v response_len=%d", time.Since(start), len(out))
	return out, nil
}
