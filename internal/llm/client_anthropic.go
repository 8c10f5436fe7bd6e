package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"pagewatch/internal/logging"
)

// AnthropicClient talks to an anthropic-like messages endpoint. The API has
// no JSON response mode, so JSON output is enforced by an appended
// instruction and callers parse defensively.
type AnthropicClient struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

// AnthropicConfig holds configuration for the anthropic-like client.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// DefaultAnthropicConfig returns sensible defaults.
func DefaultAnthropicConfig(apiKey string) AnthropicConfig {
	return AnthropicConfig{
		APIKey:    apiKey,
		BaseURL:   "https://api.anthropic.com/v1",
		Model:     "claude-sonnet-4-5-20250514",
		MaxTokens: 4096,
		Timeout:   2 * time.Minute,
	}
}

// NewAnthropicClient creates a client with custom config.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return &AnthropicClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Model returns the configured model identifier.
func (c *AnthropicClient) Model() string { return c.model }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *AnthropicClient) buildRequest(messages []Message, opts CompletionOptions, stream bool) anthropicRequest {
	system, rest := splitSystem(messages)

	msgs := make([]anthropicMessage, 0, len(rest))
	for _, m := range rest {
		msgs = append(msgs, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	if len(msgs) == 0 {
		msgs = append(msgs, anthropicMessage{Role: "user", Content: ""})
	}
	if opts.JSONMode {
		last := &msgs[len(msgs)-1]
		last.Content += "\n\nRespond with JSON only, no prose, no markdown fences."
	}

	req := anthropicRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      system,
		Messages:    msgs,
		Temperature: resolveTemperature(opts, DefaultTemperature),
		Stream:      stream,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	return req
}

func (c *AnthropicClient) throttle() {
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()
}

// Complete sends the conversation and returns the completion.
func (c *AnthropicClient) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (*CompletionResult, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout(opts))
		defer cancel()
	}

	startTime := time.Now()
	logging.APIDebug("[anthropic] Complete: model=%s messages=%d json=%v", c.model, len(messages), opts.JSONMode)

	if c.apiKey == "" {
		return nil, &APIError{Code: "missing_api_key", Message: "API key not configured"}
	}

	c.throttle()
	reqBody := c.buildRequest(messages, opts, false)

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.APIErr("[anthropic] Complete: transport failure after %v: %v", time.Since(startTime), err)
		return nil, &TransportTimeoutError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportTimeoutError{Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, rateLimited(resp)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, body)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if parsed.Error != nil {
		return nil, &APIError{Status: resp.StatusCode, Code: parsed.Error.Type, Message: parsed.Error.Message}
	}
	if len(parsed.Content) == 0 {
		return nil, &APIError{Status: resp.StatusCode, Code: "empty_content", Message: "no completion returned"}
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	result := &CompletionResult{
		Content: strings.TrimSpace(text.String()),
		Usage: Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
		Model:        parsed.Model,
		FinishReason: parsed.StopReason,
	}
	logging.API("[anthropic] Complete: done in %v tokens=%d", time.Since(startTime), result.Usage.TotalTokens)
	return result, nil
}

// CompleteStream sends the conversation with streaming enabled.
func (c *AnthropicClient) CompleteStream(ctx context.Context, messages []Message, opts CompletionOptions) (<-chan StreamChunk, <-chan error) {
	chunkChan := make(chan StreamChunk, 100)
	errChan := make(chan error, 1)

	go func() {
		defer close(chunkChan)
		defer close(errChan)

		if _, hasDeadline := ctx.Deadline(); !hasDeadline {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.callTimeout(opts))
			defer cancel()
		}

		if c.apiKey == "" {
			errChan <- &APIError{Code: "missing_api_key", Message: "API key not configured"}
			return
		}

		c.throttle()
		reqBody := c.buildRequest(messages, opts, true)

		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			errChan <- fmt.Errorf("marshal request: %w", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(jsonData))
		if err != nil {
			errChan <- fmt.Errorf("create request: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")
		req.Header.Set("Accept", "text/event-stream")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			errChan <- &TransportTimeoutError{Err: err}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			errChan <- rateLimited(resp)
			return
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			errChan <- apiError(resp.StatusCode, body)
			return
		}

		var cumulative strings.Builder
		var usage *Usage
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				continue
			}

			var evt struct {
				Type  string `json:"type"`
				Delta *struct {
					Type string `json:"type"`
					Text string `json:"text,omitempty"`
				} `json:"delta,omitempty"`
				Usage *struct {
					InputTokens  int `json:"input_tokens"`
					OutputTokens int `json:"output_tokens"`
				} `json:"usage,omitempty"`
				Error *struct {
					Type    string `json:"type"`
					Message string `json:"message"`
				} `json:"error,omitempty"`
			}
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				continue
			}
			if evt.Error != nil {
				errChan <- &APIError{Code: evt.Error.Type, Message: evt.Error.Message}
				return
			}
			if evt.Usage != nil {
				usage = &Usage{
					PromptTokens:     evt.Usage.InputTokens,
					CompletionTokens: evt.Usage.OutputTokens,
					TotalTokens:      evt.Usage.InputTokens + evt.Usage.OutputTokens,
				}
			}
			if evt.Type == "message_stop" {
				chunkChan <- StreamChunk{CumulativeContent: cumulative.String(), Usage: usage, IsComplete: true}
				return
			}
			if evt.Type == "content_block_delta" && evt.Delta != nil && evt.Delta.Text != "" {
				cumulative.WriteString(evt.Delta.Text)
				select {
				case chunkChan <- StreamChunk{ChunkContent: evt.Delta.Text, CumulativeContent: cumulative.String()}:
				case <-ctx.Done():
					errChan <- ctx.Err()
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			errChan <- &TransportTimeoutError{Err: err}
			return
		}
		chunkChan <- StreamChunk{CumulativeContent: cumulative.String(), Usage: usage, IsComplete: true}
	}()

	return chunkChan, errChan
}

// TestConnection performs a minimal completion to verify credentials.
func (c *AnthropicClient) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_, err := c.Complete(ctx, []Message{{Role: "user", Content: "ping"}}, CompletionOptions{MaxTokens: 1})
	return err == nil
}

// EstimateCost returns the dollar cost for the given token counts.
func (c *AnthropicClient) EstimateCost(promptTokens, completionTokens int) float64 {
	return estimateCost(c.model, promptTokens, completionTokens)
}

func (c *AnthropicClient) callTimeout(opts CompletionOptions) time.Duration {
	if opts.TimeoutMs > 0 {
		return time.Duration(opts.TimeoutMs) * time.Millisecond
	}
	return c.httpClient.Timeout
}
