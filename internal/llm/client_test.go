package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAITestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "gpt-4o"})
}

func anthropicTestClient(t *testing.T, handler http.HandlerFunc) *AnthropicClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAnthropicClient(AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "claude-sonnet-4-5-20250514"})
}

func TestSupportsJSONMode(t *testing.T) {
	cases := map[string]bool{
		"gpt-4-turbo":   true,
		"gpt-3.5-turbo": true,
		"gpt-4o":        true,
		"gpt-4o-mini":   false,
		"gpt-4":         false,
	}
	for model, want := range cases {
		assert.Equal(t, want, supportsJSONMode(model), model)
	}
}

func TestOpenAICompleteSuccess(t *testing.T) {
	temp := PlanningTemperature
	client := openAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req.Model)
		assert.InDelta(t, PlanningTemperature, req.Temperature, 1e-9)
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)

		fmt.Fprint(w, `{
			"model": "gpt-4o-2024-08-06",
			"choices": [{"message": {"role": "assistant", "content": "  {\"ok\": true}  "}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
		}`)
	})

	result, err := client.Complete(context.Background(), []Message{
		{Role: "user", Content: "plan this"},
	}, CompletionOptions{JSONMode: true, Temperature: &temp})
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, result.Content)
	assert.Equal(t, "gpt-4o-2024-08-06", result.Model)
	assert.Equal(t, "stop", result.FinishReason)
	assert.Equal(t, 17, result.Usage.TotalTokens)
}

func TestOpenAIJSONModeFallsBackToPrompt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Nil(t, req.ResponseFormat)
		require.NotEmpty(t, req.Messages)
		last := req.Messages[len(req.Messages)-1]
		assert.True(t, strings.HasSuffix(last.Content, "Respond with JSON only, no prose."))

		fmt.Fprint(w, `{"choices": [{"message": {"content": "{}"}, "finish_reason": "stop"}]}`)
	}))
	defer srv.Close()

	client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL, Model: "gpt-4"})
	_, err := client.Complete(context.Background(), []Message{
		{Role: "user", Content: "plan this"},
	}, CompletionOptions{JSONMode: true})
	require.NoError(t, err)
}

func TestOpenAIRateLimited(t *testing.T) {
	client := openAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, CompletionOptions{})
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 7, rl.RetryAfterSeconds)
}

func TestOpenAIAPIErrorBody(t *testing.T) {
	client := openAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error": {"message": "boom", "type": "server_error"}}`)
	})

	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, CompletionOptions{})
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusInternalServerError, ae.Status)
	assert.Equal(t, "server_error", ae.Code)
	assert.Equal(t, "boom", ae.Message)
}

func TestOpenAIMissingAPIKey(t *testing.T) {
	client := NewOpenAIClient(OpenAIConfig{Model: "gpt-4o"})
	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, CompletionOptions{})
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "missing_api_key", ae.Code)
}

func TestOpenAICompleteStream(t *testing.T) {
	client := openAITestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\": [{\"delta\": {\"content\": \"hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\": [{\"delta\": {\"content\": \"lo\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"usage\": {\"prompt_tokens\": 1, \"completion_tokens\": 2, \"total_tokens\": 3}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	chunkChan, errChan := client.CompleteStream(context.Background(), []Message{{Role: "user", Content: "hi"}}, CompletionOptions{})

	var chunks []StreamChunk
	for c := range chunkChan {
		chunks = append(chunks, c)
	}
	require.NoError(t, <-errChan)
	require.NotEmpty(t, chunks)

	last := chunks[len(chunks)-1]
	assert.True(t, last.IsComplete)
	assert.Equal(t, "hello", last.CumulativeContent)

	var sawUsage bool
	for _, c := range chunks {
		if c.Usage != nil {
			sawUsage = true
			assert.Equal(t, 3, c.Usage.TotalTokens)
		}
	}
	assert.True(t, sawUsage)
}

func TestAnthropicCompleteSplitsSystem(t *testing.T) {
	client := anthropicTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "you are terse", req.System)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.True(t, strings.HasSuffix(req.Messages[0].Content, "Respond with JSON only, no prose, no markdown fences."))

		fmt.Fprint(w, `{
			"model": "claude-sonnet-4-5-20250514",
			"content": [{"type": "text", "text": "hello "}, {"type": "text", "text": "world"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 3, "output_tokens": 2}
		}`)
	})

	result, err := client.Complete(context.Background(), []Message{
		{Role: "system", Content: "you are terse"},
		{Role: "user", Content: "plan this"},
	}, CompletionOptions{JSONMode: true})
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Content)
	assert.Equal(t, "end_turn", result.FinishReason)
	assert.Equal(t, 5, result.Usage.TotalTokens)
}

func TestAnthropicErrorEnvelope(t *testing.T) {
	client := anthropicTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": {"type": "overloaded_error", "message": "busy"}}`)
	})

	_, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "hi"}}, CompletionOptions{})
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "overloaded_error", ae.Code)
	assert.Equal(t, "busy", ae.Message)
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(&TransportTimeoutError{Err: errors.New("dial tcp: i/o timeout")}))
	assert.True(t, IsTimeout(fmt.Errorf("complete: %w", context.DeadlineExceeded)))
	assert.False(t, IsTimeout(errors.New("something else")))
}

func TestEstimateCostByModelFamily(t *testing.T) {
	mini := NewOpenAIClient(OpenAIConfig{APIKey: "k", Model: "gpt-4o-mini"})
	assert.InDelta(t, 0.15, mini.EstimateCost(1_000_000, 0), 1e-9)
	assert.InDelta(t, 0.60, mini.EstimateCost(0, 1_000_000), 1e-9)

	sonnet := NewAnthropicClient(AnthropicConfig{APIKey: "k", Model: "claude-sonnet-4-5-20250514"})
	assert.InDelta(t, 3.00+15.00, sonnet.EstimateCost(1_000_000, 1_000_000), 1e-9)

	unknown := NewOpenAIClient(OpenAIConfig{APIKey: "k", Model: "experimental-model"})
	assert.InDelta(t, 3.00, unknown.EstimateCost(1_000_000, 0), 1e-9)
}
