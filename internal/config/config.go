// Package config resolves pagewatch configuration from the environment with
// an optional YAML file underneath. Environment variables always win, which
// keeps worker deployments configurable without shipping files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the resolved configuration for one pagewatch process.
type Config struct {
	// DatabaseURL is a SQLite DSN (path or file: URL). Empty means the
	// in-memory plan cache and no result persistence.
	DatabaseURL string `yaml:"database_url"`

	LLM     LLMConfig     `yaml:"llm"`
	Browser BrowserConfig `yaml:"browser"`

	// CacheTTLDays is the plan cache entry lifetime. Default 7.
	CacheTTLDays int `yaml:"cache_ttl_days"`

	// Environment is informational only (development, production, ...).
	Environment string `yaml:"environment"`

	// Debug enables categorized file logging.
	Debug    bool   `yaml:"debug"`
	LogLevel string `yaml:"log_level"`

	// PromptDir overrides the built-in prompt templates when set.
	PromptDir string `yaml:"prompt_dir"`

	// Workspace is the directory for logs and the default SQLite file.
	Workspace string `yaml:"workspace"`
}

// Load resolves configuration: .env file (if present), then the YAML file at
// path (if non-empty and present), then environment variable overrides.
func Load(path string) (*Config, error) {
	// Missing .env is the normal case; only real read failures matter.
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if cfg.CacheTTLDays <= 0 {
		cfg.CacheTTLDays = 7
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		LLM:          DefaultLLMConfig(),
		Browser:      DefaultBrowserConfig(),
		CacheTTLDays: 7,
		Environment:  "development",
		LogLevel:     "info",
		Workspace:    ".",
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.LLM.OpenAIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.LLM.AnthropicKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.LLM.OpenAIModel = v
	}
	if v := os.Getenv("ANTHROPIC_MODEL"); v != "" {
		cfg.LLM.AnthropicModel = v
	}
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LLM.Temperature = &f
		}
	}
	if v := os.Getenv("LLM_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.MaxTokens = n
		}
	}
	if v := os.Getenv("LLM_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.TimeoutMs = n
		}
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("BROWSER_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Browser.DefaultTimeoutMs = n
		}
	}
	if v := os.Getenv("CACHE_TTL_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CacheTTLDays = n
		}
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("PAGEWATCH_DEBUG"); v != "" {
		cfg.Debug = v == "1" || v == "true"
	}
	if v := os.Getenv("PAGEWATCH_PROMPT_DIR"); v != "" {
		cfg.PromptDir = v
	}
}

// CacheTTL returns the plan cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLDays) * 24 * time.Hour
}

// Persistent reports whether a durable store backend is configured.
func (c *Config) Persistent() bool { return c.DatabaseURL != "" }
