// Package llm provides chat-completion clients for the two supported API
// families: openai-like (Bearer auth, /chat/completions) and anthropic-like
// (x-api-key, /messages). Both are plain net/http clients so that
// LLM_BASE_URL can point them at any compatible endpoint.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Temperature defaults. Plan generation always runs cold.
const (
	PlanningTemperature = 0.1
	DefaultTemperature  = 0.7
)

// Message is one turn of the conversation.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Usage is token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Add accumulates usage across calls.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// CompletionOptions tune a single call. Zero values fall back to client
// defaults.
type CompletionOptions struct {
	JSONMode    bool
	Temperature *float64
	MaxTokens   int
	TimeoutMs   int
}

// CompletionResult is the outcome of a non-streaming call.
type CompletionResult struct {
	Content      string `json:"content"`
	Usage        Usage  `json:"usage"`
	Model        string `json:"model"`
	FinishReason string `json:"finishReason"`
}

// StreamChunk is one increment of a streaming completion. The sequence is
// restartable only by reissuing the request.
type StreamChunk struct {
	ChunkContent      string `json:"chunkContent"`
	CumulativeContent string `json:"cumulativeContent"`
	Usage             *Usage `json:"usage,omitempty"`
	IsComplete        bool   `json:"isComplete"`
}

// Client is the capability set every provider family implements.
type Client interface {
	Complete(ctx context.Context, messages []Message, opts CompletionOptions) (*CompletionResult, error)
	CompleteStream(ctx context.Context, messages []Message, opts CompletionOptions) (<-chan StreamChunk, <-chan error)
	EstimateCost(promptTokens, completionTokens int) float64
	TestConnection(ctx context.Context) bool
	Model() string
}

// RateLimitedError is returned when the provider sheds load.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfterSeconds > 0 {
		return fmt.Sprintf("RATE_LIMITED: retry after %ds", e.RetryAfterSeconds)
	}
	return "RATE_LIMITED: rate limit exceeded"
}

// TransportTimeoutError is returned on connection failure or deadline.
type TransportTimeoutError struct {
	Err error
}

func (e *TransportTimeoutError) Error() string {
	return fmt.Sprintf("TRANSPORT_TIMEOUT: %v", e.Err)
}

func (e *TransportTimeoutError) Unwrap() error { return e.Err }

// APIError is any other provider-side failure.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API_ERROR: status=%d code=%s: %s", e.Status, e.Code, e.Message)
}

// splitSystem concatenates system messages into one prompt and returns the
// remaining conversation. Anthropic-like APIs take system content as a
// dedicated request field rather than a message role.
func splitSystem(messages []Message) (string, []Message) {
	var sys []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			sys = append(sys, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(sys, "\n\n"), rest
}

func resolveTemperature(opts CompletionOptions, fallback float64) float64 {
	if opts.Temperature != nil {
		return *opts.Temperature
	}
	return fallback
}
