package config

import "time"

// BrowserConfig configures the headless browser session.
type BrowserConfig struct {
	Headless         bool   `yaml:"headless"`
	ViewportWidth    int    `yaml:"viewport_width"`
	ViewportHeight   int    `yaml:"viewport_height"`
	DefaultTimeoutMs int    `yaml:"default_timeout_ms"`
	UserAgent        string `yaml:"user_agent"`
	// Bin overrides the browser binary path. Empty lets the launcher decide.
	Bin string `yaml:"bin"`
}

// DefaultBrowserConfig returns sensible defaults.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless:         true,
		ViewportWidth:    1280,
		ViewportHeight:   800,
		DefaultTimeoutMs: 30000,
	}
}

// DefaultTimeout returns the step/navigation timeout.
func (c BrowserConfig) DefaultTimeout() time.Duration {
	if c.DefaultTimeoutMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.DefaultTimeoutMs) * time.Millisecond
}
