package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"auditkit/internal/logging"
)

// OpenAIClient talks to any OpenAI-compatible chat-completions endpoint.
// OpenAI, AvalAI, OpenRouter, xAI and Z.AI all use it with different base
// URLs.
type OpenAIClient struct {
	provider   Provider
	apiKey     string
	baseURL    string
	model      string
	retries    int
	backoff    time.Duration
	httpClient *http.Client
	throttle   *throttle
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIClient creates a client for an OpenAI-compatible provider.
func NewOpenAIClient(cfg Config) *OpenAIClient {
	if cfg.Provider == "" {
		cfg.Provider = ProviderOpenAI
	}
	cfg = cfg.withDefaults()
	return &OpenAIClient{
		provider:   cfg.Provider,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		retries:    cfg.MaxRetries,
		backoff:    cfg.Backoff,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		throttle:   &throttle{interval: cfg.MinInterval},
	}
}

// Complete sends a prompt and returns the completion.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system message.
func (c *OpenAIClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := withDeadline(ctx, c.httpClient.Timeout)
	defer cancel()

	start := time.Now()
	logging.APIDebug("[%s] CompleteWithSystem: model=%s system_len=%d user_len=%d", c.provider, c.model, len(systemPrompt), len(userPrompt))

	if c.apiKey == "" {
		return "", fmt.Errorf("%s: %w", c.provider, ErrMissingAPIKey)
	}
	if err := c.throttle.wait(ctx); err != nil {
		return "", err
	}

	var messages []openAIMessage
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: userPrompt})

	req := openAIRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}

	var resp openAIResponse
	if err := postJSON(ctx, c.httpClient, c.baseURL+"/chat/completions", headers, req, &resp, c.retries, c.backoff); err != nil {
		logging.APIWarn("[%s] CompleteWithSystem failed after %v: %v", c.provider, time.Since(start), err)
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("API error: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", ErrEmptyResponse
	}

	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	logging.API("[%s] CompleteWithSystem: completed in %v response_len=%d", c.provider, time.Since(start), len(out))
	return out, nil
}
