package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load consults so ambient shell state cannot
// leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "LLM_PROVIDER", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
		"OPENAI_MODEL", "ANTHROPIC_MODEL", "LLM_TEMPERATURE", "LLM_MAX_TOKENS",
		"LLM_TIMEOUT", "LLM_BASE_URL", "BROWSER_TIMEOUT", "CACHE_TTL_DAYS",
		"APP_ENV", "PAGEWATCH_DEBUG", "PAGEWATCH_PROMPT_DIR",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.OpenAIModel)
	assert.Equal(t, 7, cfg.CacheTTLDays)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Debug)
	assert.False(t, cfg.Persistent())
}

func TestLoadYAMLFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "pagewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_url: file:test.db
cache_ttl_days: 3
debug: true
llm:
  provider: anthropic
  anthropic_api_key: yaml-key
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file:test.db", cfg.DatabaseURL)
	assert.Equal(t, 3, cfg.CacheTTLDays)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "yaml-key", cfg.LLM.AnthropicKey)
	assert.True(t, cfg.Persistent())
}

func TestEnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_TTL_DAYS", "14")
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("LLM_TEMPERATURE", "0.3")

	path := filepath.Join(t.TempDir(), "pagewatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache_ttl_days: 3
llm:
  provider: anthropic
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 14, cfg.CacheTTLDays)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	require.NotNil(t, cfg.LLM.Temperature)
	assert.InDelta(t, 0.3, *cfg.LLM.Temperature, 1e-9)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.CacheTTLDays)
}

func TestLoadMalformedFileFails(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestInvalidTTLFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("CACHE_TTL_DAYS", "-2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.CacheTTLDays)
}
