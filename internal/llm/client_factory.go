package llm

import (
	"fmt"

	"pagewatch/internal/config"
)

// NewFromConfig builds the primary client selected by LLM_PROVIDER.
func NewFromConfig(cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case "openai", "":
		c := DefaultOpenAIConfig(cfg.OpenAIKey)
		if cfg.OpenAIModel != "" {
			c.Model = cfg.OpenAIModel
		}
		if cfg.BaseURL != "" {
			c.BaseURL = cfg.BaseURL
		}
		if cfg.MaxTokens > 0 {
			c.MaxTokens = cfg.MaxTokens
		}
		c.Timeout = cfg.Timeout()
		return NewOpenAIClient(c), nil

	case "anthropic":
		c := DefaultAnthropicConfig(cfg.AnthropicKey)
		if cfg.AnthropicModel != "" {
			c.Model = cfg.AnthropicModel
		}
		if cfg.BaseURL != "" {
			c.BaseURL = cfg.BaseURL
		}
		if cfg.MaxTokens > 0 {
			c.MaxTokens = cfg.MaxTokens
		}
		c.Timeout = cfg.Timeout()
		return NewAnthropicClient(c), nil

	default:
		return nil, fmt.Errorf("unknown LLM provider %q (valid: openai, anthropic)", cfg.Provider)
	}
}

// NewPair builds (primary, fallback). The fallback is the other family when
// its API key is configured, nil otherwise. The plan generator consults the
// fallback only when the primary fails or returns low confidence.
func NewPair(cfg config.LLMConfig) (Client, Client, error) {
	primary, err := NewFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	var fallback Client
	switch cfg.Provider {
	case "anthropic":
		if cfg.OpenAIKey != "" {
			alt := cfg
			alt.Provider = "openai"
			fallback, _ = NewFromConfig(alt)
		}
	default:
		if cfg.AnthropicKey != "" {
			alt := cfg
			alt.Provider = "anthropic"
			fallback, _ = NewFromConfig(alt)
		}
	}
	return primary, fallback, nil
}
