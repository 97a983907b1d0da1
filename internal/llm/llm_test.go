package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

func TestOpenAICompatible(t *testing.T) {
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  package main  "}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{Provider: ProviderAvalAI, APIKey: "sk-test", BaseURL: srv.URL + "/", Model: "gpt-4o-mini"})
	out, err := c.CompleteWithSystem(context.Background(), "be terse", "write a unit")
	require.NoError(t, err)
	assert.Equal(t, "package main", out)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "write a unit", got.Messages[1].Content)
}

func TestOpenAIEmptyResponseAndMissingKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{APIKey: "k", BaseURL: srv.URL})
	_, err := c.Complete(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmptyResponse)

	_, err = NewOpenAIClient(Config{BaseURL: srv.URL}).Complete(context.Background(), "x")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestRetriesRateLimits(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	noRetry := NewOpenAIClient(Config{APIKey: "k", BaseURL: srv.URL, MinInterval: time.Millisecond})
	_, err := noRetry.Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	calls.Store(0)
	c := NewOpenAIClient(Config{APIKey: "k", BaseURL: srv.URL, MaxRetries: 2, Backoff: time.Millisecond, MinInterval: time.Millisecond})
	out, err := c.Complete(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{APIKey: "k", BaseURL: srv.URL, MaxRetries: 3, Backoff: time.Millisecond})
	_, err := c.Complete(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestAnthropic(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"content":[{"type":"text","text":"part one "},{"type":"tool_use"},{"type":"text","text":"part two"}]}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient(Config{APIKey: "sk-ant", BaseURL: srv.URL})
	out, err := c.CompleteWithSystem(context.Background(), "system text", "user text")
	require.NoError(t, err)
	assert.Equal(t, "part one part two", out)
	assert.Equal(t, "system text", got.System)
	assert.Equal(t, DefaultModel(ProviderAnthropic), got.Model)
}

func TestThrottleSpacesRequests(t *testing.T) {
	th := &throttle{interval: 30 * time.Millisecond}
	ctx := context.Background()
	start := time.Now()
	require.NoError(t, th.wait(ctx))
	require.NoError(t, th.wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	th.lastRequest = time.Now()
	assert.ErrorIs(t, th.wait(cctx), context.Canceled)
}

func TestNewClientFromConfig(t *testing.T) {
	tests := []struct {
		provider Provider
		want     any
	}{
		{ProviderOpenAI, &OpenAIClient{}},
		{ProviderAvalAI, &OpenAIClient{}},
		{ProviderOpenRouter, &OpenAIClient{}},
		{ProviderXAI, &OpenAIClient{}},
		{ProviderZAI, &OpenAIClient{}},
		{ProviderAnthropic, &AnthropicClient{}},
		{ProviderGemini, &GeminiClient{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.provider), func(t *testing.T) {
			c, err := NewClientFromConfig(Config{Provider: tt.provider, APIKey: "k"})
			require.NoError(t, err)
			assert.IsType(t, tt.want, c)
		})
	}

	c, err := NewClientFromConfig(Config{Provider: "AvalAI", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.avalai.ir/v1", c.(*OpenAIClient).baseURL)

	_, err = NewClientFromConfig(Config{Provider: "bard", APIKey: "k"})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = NewClientFromConfig(Config{Provider: ProviderOpenAI})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
