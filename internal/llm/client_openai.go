package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"pagewatch/internal/logging"
)

// OpenAIClient talks to an openai-like chat-completions endpoint.
type OpenAIClient struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	httpClient  *http.Client
	mu          sync.Mutex
	lastRequest time.Time
}

// OpenAIConfig holds configuration for the openai-like client.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// DefaultOpenAIConfig returns sensible defaults.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		APIKey:    apiKey,
		BaseURL:   "https://api.openai.com/v1",
		Model:     "gpt-4o-mini",
		MaxTokens: 4096,
		Timeout:   2 * time.Minute,
	}
}

// NewOpenAIClient creates a client with custom config.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	return &OpenAIClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Model returns the configured model identifier.
func (c *OpenAIClient) Model() string { return c.model }

// supportsJSONMode reports whether the model accepts a strict json_object
// response format. Only turbo variants, "o"-suffixed models and the 3.5
// series do; for everything else JSON is requested via the prompt.
func supportsJSONMode(model string) bool {
	m := strings.ToLower(model)
	return strings.Contains(m, "turbo") || strings.HasSuffix(m, "o") || strings.Contains(m, "3.5")
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIStreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	Temperature    float64               `json:"temperature"`
	Stream         bool                  `json:"stream,omitempty"`
	StreamOptions  *openAIStreamOptions  `json:"stream_options,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		Delta *struct {
			Content string `json:"content,omitempty"`
		} `json:"delta,omitempty"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

func (c *OpenAIClient) buildRequest(messages []Message, opts CompletionOptions, stream bool) openAIRequest {
	msgs := make([]openAIMessage, 0, len(messages)+1)
	for _, m := range messages {
		msgs = append(msgs, openAIMessage{Role: m.Role, Content: m.Content})
	}

	req := openAIRequest{
		Model:       c.model,
		Messages:    msgs,
		MaxTokens:   c.maxTokens,
		Temperature: resolveTemperature(opts, DefaultTemperature),
		Stream:      stream,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.JSONMode {
		if supportsJSONMode(c.model) {
			req.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
		} else if len(req.Messages) > 0 {
			last := &req.Messages[len(req.Messages)-1]
			last.Content += "\n\nRespond with JSON only, no prose."
		}
	}
	if stream {
		req.StreamOptions = &openAIStreamOptions{IncludeUsage: true}
	}
	return req
}

// throttle spaces requests at least 100ms apart.
func (c *OpenAIClient) throttle() {
	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	if elapsed < 100*time.Millisecond {
		time.Sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()
}

// Complete sends the conversation and returns the completion.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (*CompletionResult, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout(opts))
		defer cancel()
	}

	startTime := time.Now()
	logging.APIDebug("[openai] Complete: model=%s messages=%d json=%v", c.model, len(messages), opts.JSONMode)

	if c.apiKey == "" {
		return nil, &APIError{Status: 0, Code: "missing_api_key", Message: "API key not configured"}
	}

	c.throttle()
	reqBody := c.buildRequest(messages, opts, false)

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.APIErr("[openai] Complete: transport failure after %v: %v", time.Since(startTime), err)
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

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if parsed.Error != nil {
		return nil, &APIError{Status: resp.StatusCode, Code: parsed.Error.Code, Message: parsed.Error.Message}
	}
	if len(parsed.Choices) == 0 {
		return nil, &APIError{Status: resp.StatusCode, Code: "empty_choices", Message: "no completion returned"}
	}

	result := &CompletionResult{
		Content:      strings.TrimSpace(parsed.Choices[0].Message.Content),
		Model:        parsed.Model,
		FinishReason: parsed.Choices[0].FinishReason,
	}
	if parsed.Usage != nil {
		result.Usage = Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	logging.API("[openai] Complete: done in %v tokens=%d", time.Since(startTime), result.Usage.TotalTokens)
	return result, nil
}

// CompleteStream sends the conversation with streaming enabled.
func (c *OpenAIClient) CompleteStream(ctx context.Context, messages []Message, opts CompletionOptions) (<-chan StreamChunk, <-chan error) {
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

		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
		if err != nil {
			errChan <- fmt.Errorf("create request: %w", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
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
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}
			if data == "[DONE]" {
				chunkChan <- StreamChunk{CumulativeContent: cumulative.String(), IsComplete: true}
				return
			}

			var chunk openAIResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Error != nil {
				errChan <- &APIError{Code: chunk.Error.Code, Message: chunk.Error.Message}
				return
			}
			out := StreamChunk{}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta != nil {
				out.ChunkContent = chunk.Choices[0].Delta.Content
				cumulative.WriteString(out.ChunkContent)
			}
			out.CumulativeContent = cumulative.String()
			if chunk.Usage != nil {
				out.Usage = &Usage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}
			}
			if out.ChunkContent == "" && out.Usage == nil {
				continue
			}
			select {
			case chunkChan <- out:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errChan <- &TransportTimeoutError{Err: err}
			return
		}
		chunkChan <- StreamChunk{CumulativeContent: cumulative.String(), IsComplete: true}
	}()

	return chunkChan, errChan
}

// TestConnection performs a minimal completion to verify credentials.
func (c *OpenAIClient) TestConnection(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_, err := c.Complete(ctx, []Message{{Role: "user", Content: "ping"}}, CompletionOptions{MaxTokens: 1})
	return err == nil
}

// EstimateCost returns the dollar cost for the given token counts.
func (c *OpenAIClient) EstimateCost(promptTokens, completionTokens int) float64 {
	return estimateCost(c.model, promptTokens, completionTokens)
}

func (c *OpenAIClient) callTimeout(opts CompletionOptions) time.Duration {
	if opts.TimeoutMs > 0 {
		return time.Duration(opts.TimeoutMs) * time.Millisecond
	}
	return c.httpClient.Timeout
}

func rateLimited(resp *http.Response) error {
	retryAfter := 0
	if v := resp.Header.Get("Retry-After"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			retryAfter = n
		}
	}
	return &RateLimitedError{RetryAfterSeconds: retryAfter}
}

func apiError(status int, body []byte) error {
	var parsed struct {
		Error *struct {
			Message string `json:"message"`
			Code    string `json:"code"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		code := parsed.Error.Code
		if code == "" {
			code = parsed.Error.Type
		}
		return &APIError{Status: status, Code: code, Message: parsed.Error.Message}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return &APIError{Status: status, Message: msg}
}

// IsTimeout reports whether err is a transport timeout or deadline.
func IsTimeout(err error) bool {
	var tt *TransportTimeoutError
	return errors.As(err, &tt) || errors.Is(err, context.DeadlineExceeded)
}
