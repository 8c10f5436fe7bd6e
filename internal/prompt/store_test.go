package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderVariableSubstitution(t *testing.T) {
	out := render("Task: {{instruction}} at {{url}}", map[string]interface{}{
		"instruction": "check stock",
		"url":         "https://example.com",
	})
	assert.Equal(t, "Task: check stock at https://example.com", out)
}

func TestRenderMissingVariableBecomesEmpty(t *testing.T) {
	out := render("a {{missing}} b", map[string]interface{}{})
	assert.Equal(t, "a  b", out)
}

func TestRenderDottedLookup(t *testing.T) {
	out := render("url={{state.url}}", map[string]interface{}{
		"state": map[string]interface{}{"url": "https://example.com/p"},
	})
	assert.Equal(t, "url=https://example.com/p", out)
}

func TestRenderConditionalTruthy(t *testing.T) {
	tmpl := "{{#if pageText}}has text{{else}}no text{{/if}}"

	out := render(tmpl, map[string]interface{}{"pageText": "hello"})
	assert.Equal(t, "has text", out)

	out = render(tmpl, map[string]interface{}{"pageText": ""})
	assert.Equal(t, "no text", out)

	out = render(tmpl, map[string]interface{}{})
	assert.Equal(t, "no text", out)
}

func TestRenderConditionalWithoutElse(t *testing.T) {
	tmpl := "before {{#if x}}inner{{/if}} after"
	assert.Equal(t, "before inner after", render(tmpl, map[string]interface{}{"x": true}))
	assert.Equal(t, "before  after", render(tmpl, map[string]interface{}{"x": false}))
}

func TestRenderNestedConditional(t *testing.T) {
	tmpl := "{{#if a}}A{{#if b}}B{{/if}}{{else}}none{{/if}}"
	assert.Equal(t, "AB", render(tmpl, map[string]interface{}{"a": true, "b": true}))
	assert.Equal(t, "A", render(tmpl, map[string]interface{}{"a": true, "b": false}))
	assert.Equal(t, "none", render(tmpl, map[string]interface{}{"a": false, "b": true}))
}

func TestRenderConditionalBodySubstitutes(t *testing.T) {
	tmpl := "{{#if name}}hello {{name}}{{/if}}"
	assert.Equal(t, "hello ada", render(tmpl, map[string]interface{}{"name": "ada"}))
}

func TestStoreDefaults(t *testing.T) {
	s := NewStore("")

	out, err := s.Render(TemplateSystem, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "browser automation")

	out, err = s.Render(TemplateUserPlan, map[string]interface{}{
		"instruction": "extract the price",
		"url":         "https://shop.example.com",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "extract the price")
	assert.Contains(t, out, "https://shop.example.com")
	assert.NotContains(t, out, "{{instruction}}")
}

func TestStoreUnknownTemplate(t *testing.T) {
	s := NewStore("")
	_, err := s.Render("nope", nil)
	assert.Error(t, err)
}

func TestStoreLoadsFromDirectory(t *testing.T) {
	dir := t.TempDir()
	custom := "custom system prompt"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "system.tmpl"), []byte(custom), 0o644))

	s := NewStore(dir)

	out, err := s.Render(TemplateSystem, nil)
	require.NoError(t, err)
	assert.Equal(t, custom, out)

	// Missing files fall back to defaults.
	out, err = s.Render(TemplateUserPlan, map[string]interface{}{"instruction": "x", "url": "y"})
	require.NoError(t, err)
	assert.Contains(t, out, "execution plan")
}

func TestInteractiveStepDOMTruncation(t *testing.T) {
	s := NewStore("")
	dom := strings.Repeat("x", 10000)

	out, err := s.Render(TemplateInteractiveStep, map[string]interface{}{
		"instruction": "check",
		"url":         "https://example.com",
		"stepNumber":  1,
		"maxSteps":    10,
		"dom":         dom,
	})
	require.NoError(t, err)
	assert.Contains(t, out, strings.Repeat("x", maxDOMChars))
	assert.NotContains(t, out, strings.Repeat("x", maxDOMChars+1))
}

func TestInteractiveStepPreviousSteps(t *testing.T) {
	s := NewStore("")

	out, err := s.Render(TemplateInteractiveStep, map[string]interface{}{
		"instruction": "check",
		"url":         "https://example.com",
		"stepNumber":  1,
		"maxSteps":    10,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "This is the first step.")

	out, err = s.Render(TemplateInteractiveStep, map[string]interface{}{
		"instruction":   "check",
		"url":           "https://example.com",
		"stepNumber":    2,
		"maxSteps":      10,
		"previousSteps": "Step 1: navigate  – Progress: 0.20 – opened page",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Step 1: navigate")
	assert.NotContains(t, out, "This is the first step.")
}

func TestHotReload(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, s.Watch())
	defer s.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "system.tmpl"), []byte("reloaded"), 0o644))

	// Reload is asynchronous; poll briefly.
	deadline := 50
	for i := 0; i < deadline; i++ {
		out, err := s.Render(TemplateSystem, nil)
		require.NoError(t, err)
		if out == "reloaded" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("template was not reloaded")
}
