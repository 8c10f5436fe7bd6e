package config

import "time"

// LLMConfig configures the language model clients.
type LLMConfig struct {
	// Provider selects the primary family: "openai" or "anthropic".
	Provider string `yaml:"provider"`

	OpenAIKey      string `yaml:"openai_api_key"`
	AnthropicKey   string `yaml:"anthropic_api_key"`
	OpenAIModel    string `yaml:"openai_model"`
	AnthropicModel string `yaml:"anthropic_model"`

	// Temperature override. Nil keeps the per-call defaults (0.1 for
	// planning, 0.7 otherwise).
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
	TimeoutMs   int      `yaml:"timeout_ms"`
	BaseURL     string   `yaml:"base_url"`
}

// DefaultLLMConfig returns sensible defaults.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:       "openai",
		OpenAIModel:    "gpt-4o-mini",
		AnthropicModel: "claude-sonnet-4-5-20250514",
		MaxTokens:      4096,
		TimeoutMs:      120000,
	}
}

// Timeout returns the per-call timeout.
func (c LLMConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}
