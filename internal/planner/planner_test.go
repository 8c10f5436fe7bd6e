package planner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagewatch/internal/llm"
	"pagewatch/internal/prompt"
	"pagewatch/internal/types"
)

// fakeClient returns canned completions in order, then repeats the last one.
type fakeClient struct {
	model     string
	responses []fakeResponse
	calls     int
}

type fakeResponse struct {
	content string
	err     error
}

func (f *fakeClient) Complete(ctx context.Context, messages []llm.Message, opts llm.CompletionOptions) (*llm.CompletionResult, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	r := f.responses[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &llm.CompletionResult{
		Content: r.content,
		Usage:   llm.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
		Model:   f.model,
	}, nil
}

func (f *fakeClient) CompleteStream(ctx context.Context, messages []llm.Message, opts llm.CompletionOptions) (<-chan llm.StreamChunk, <-chan error) {
	chunks := make(chan llm.StreamChunk)
	errs := make(chan error, 1)
	close(chunks)
	close(errs)
	return chunks, errs
}

func (f *fakeClient) EstimateCost(promptTokens, completionTokens int) float64 { return 0 }
func (f *fakeClient) TestConnection(ctx context.Context) bool                { return true }
func (f *fakeClient) Model() string                                          { return f.model }

func scaffoldJSON(t *testing.T, confidence float64, steps []map[string]interface{}) string {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"name":            "check price",
		"description":     "extract the product price",
		"url":             "https://shop.example.com/p/1",
		"steps":           steps,
		"successCriteria": []string{"document.querySelector('.price') !== null"},
		"failureCriteria": []string{"document.title.includes('404')"},
		"confidence":      confidence,
		"reasoning":       "simple extraction",
	})
	require.NoError(t, err)
	return string(data)
}

func validSteps() []map[string]interface{} {
	return []map[string]interface{}{
		{"id": "step-1", "type": "navigate", "description": "open page"},
		{"id": "step-2", "type": "waitForSelector", "description": "wait", "selector": ".price"},
		{"id": "step-3", "type": "extract", "description": "read price", "selector": ".price"},
	}
}

func newTestGenerator(primary, fallback llm.Client) *Generator {
	return NewGenerator(primary, fallback, prompt.NewStore(""))
}

func TestGeneratePlan(t *testing.T) {
	client := &fakeClient{model: "gpt-4o-mini", responses: []fakeResponse{
		{content: scaffoldJSON(t, 0.9, validSteps())},
	}}
	g := newTestGenerator(client, nil)

	result := g.GeneratePlan(context.Background(), Input{
		Instruction: "Check the price",
		URL:         "https://shop.example.com/p/1",
	})

	require.True(t, result.Success, result.Error)
	require.NotNil(t, result.Plan)
	assert.Equal(t, 0.9, result.Confidence)
	assert.Equal(t, "simple extraction", result.Reasoning)
	assert.Len(t, result.Plan.Steps, 3)
	assert.Equal(t, types.TaskSignature("Check the price", "https://shop.example.com/p/1"), result.Plan.TaskSignature)
	assert.Equal(t, "gpt-4o-mini", result.Plan.Metadata.ModelID)
	assert.Equal(t, 150, result.Usage.TotalTokens)

	// navigate inherits the plan URL
	assert.Equal(t, "https://shop.example.com/p/1", result.Plan.Steps[0].URL)
	// waitForSelector default
	assert.Equal(t, 10000, result.Plan.Steps[1].WaitTime)
	// navigate 3000 + waitForSelector 10000 + extract 200
	assert.Equal(t, int64(13200), result.Plan.Metadata.EstimatedDurationMs)
}

func TestGeneratePlanFencedJSON(t *testing.T) {
	client := &fakeClient{model: "claude-sonnet-4-5", responses: []fakeResponse{
		{content: "```json\n" + scaffoldJSON(t, 0.8, validSteps()) + "\n```"},
	}}
	g := newTestGenerator(client, nil)

	result := g.GeneratePlan(context.Background(), Input{Instruction: "x", URL: "https://e.com"})
	require.True(t, result.Success, result.Error)
}

func TestGeneratePlanRejectsMissingSelector(t *testing.T) {
	steps := []map[string]interface{}{
		{"id": "step-1", "type": "click", "description": "click buy"},
	}
	client := &fakeClient{model: "m", responses: []fakeResponse{
		{content: scaffoldJSON(t, 0.9, steps)},
	}}
	g := newTestGenerator(client, nil)

	result := g.GeneratePlan(context.Background(), Input{Instruction: "x", URL: "https://e.com"})
	assert.False(t, result.Success)
	assert.Nil(t, result.Plan)
	assert.Equal(t, "validation", result.Error)
}

func TestGeneratePlanRejectsEmptySteps(t *testing.T) {
	client := &fakeClient{model: "m", responses: []fakeResponse{
		{content: scaffoldJSON(t, 0.9, []map[string]interface{}{})},
	}}
	g := newTestGenerator(client, nil)

	result := g.GeneratePlan(context.Background(), Input{Instruction: "x", URL: "https://e.com"})
	assert.False(t, result.Success)
	assert.Equal(t, "validation", result.Error)
}

func TestGeneratePlanUnparseableJSON(t *testing.T) {
	client := &fakeClient{model: "m", responses: []fakeResponse{
		{content: "I cannot help with that."},
	}}
	g := newTestGenerator(client, nil)

	result := g.GeneratePlan(context.Background(), Input{Instruction: "x", URL: "https://e.com"})
	assert.False(t, result.Success)
	assert.Equal(t, "validation", result.Error)
}

func TestGeneratePlanClampsConfidence(t *testing.T) {
	client := &fakeClient{model: "m", responses: []fakeResponse{
		{content: scaffoldJSON(t, 1.7, validSteps())},
	}}
	g := newTestGenerator(client, nil)

	result := g.GeneratePlan(context.Background(), Input{Instruction: "x", URL: "https://e.com"})
	require.True(t, result.Success)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestFallbackOnPrimaryFailure(t *testing.T) {
	primary := &fakeClient{model: "primary", responses: []fakeResponse{
		{err: errors.New("boom")},
	}}
	fallback := &fakeClient{model: "fallback", responses: []fakeResponse{
		{content: scaffoldJSON(t, 0.8, validSteps())},
	}}
	g := newTestGenerator(primary, fallback)

	result := g.GeneratePlanWithFallback(context.Background(), Input{Instruction: "x", URL: "https://e.com"})
	require.True(t, result.Success)
	assert.Equal(t, "fallback", result.Plan.Metadata.ModelID)
}

func TestFallbackOnLowConfidence(t *testing.T) {
	primary := &fakeClient{model: "primary", responses: []fakeResponse{
		{content: scaffoldJSON(t, 0.3, validSteps())},
	}}
	fallback := &fakeClient{model: "fallback", responses: []fakeResponse{
		{content: scaffoldJSON(t, 0.7, validSteps())},
	}}
	g := newTestGenerator(primary, fallback)

	result := g.GeneratePlanWithFallback(context.Background(), Input{Instruction: "x", URL: "https://e.com"})
	require.True(t, result.Success)
	assert.Equal(t, "fallback", result.Plan.Metadata.ModelID)
	assert.Equal(t, 0.7, result.Confidence)
	// usage accumulates across both attempts
	assert.Equal(t, 300, result.Usage.TotalTokens)
}

func TestFallbackKeepsHigherConfidencePrimary(t *testing.T) {
	primary := &fakeClient{model: "primary", responses: []fakeResponse{
		{content: scaffoldJSON(t, 0.45, validSteps())},
	}}
	fallback := &fakeClient{model: "fallback", responses: []fakeResponse{
		{content: scaffoldJSON(t, 0.2, validSteps())},
	}}
	g := newTestGenerator(primary, fallback)

	result := g.GeneratePlanWithFallback(context.Background(), Input{Instruction: "x", URL: "https://e.com"})
	require.True(t, result.Success)
	assert.Equal(t, "primary", result.Plan.Metadata.ModelID)
}

func TestFallbackNotConsultedWhenConfident(t *testing.T) {
	primary := &fakeClient{model: "primary", responses: []fakeResponse{
		{content: scaffoldJSON(t, 0.9, validSteps())},
	}}
	fallback := &fakeClient{model: "fallback", responses: []fakeResponse{
		{content: scaffoldJSON(t, 0.95, validSteps())},
	}}
	g := newTestGenerator(primary, fallback)

	result := g.GeneratePlanWithFallback(context.Background(), Input{Instruction: "x", URL: "https://e.com"})
	require.True(t, result.Success)
	assert.Equal(t, "primary", result.Plan.Metadata.ModelID)
	assert.Zero(t, fallback.calls)
}

func TestEstimateDuration(t *testing.T) {
	steps := []types.Step{
		{Type: types.StepNavigate},
		{Type: types.StepWait, WaitTime: 2500},
		{Type: types.StepWaitForSelector, WaitTime: 30000}, // capped at 10000
		{Type: types.StepClick},
		{Type: types.StepTypeText},
		{Type: types.StepExtract},
		{Type: types.StepEvaluate},
		{Type: types.StepScroll},
		{Type: types.StepScreenshot},
	}
	// 3000 + 2500 + 10000 + 500 + 500 + 200 + 200 + 1000 + 1000
	assert.Equal(t, int64(18900), EstimateDuration(steps))
}

func TestValidateStepWaitDefault(t *testing.T) {
	step := types.Step{ID: "s", Type: types.StepWait}
	require.NoError(t, validateStep(&step, 0, "https://e.com"))
	assert.Equal(t, 1000, step.WaitTime)
}

func TestValidateStepAssignsIDAndDescription(t *testing.T) {
	step := types.Step{Type: types.StepReload}
	require.NoError(t, validateStep(&step, 4, "https://e.com"))
	assert.Equal(t, "step-5", step.ID)
	assert.Equal(t, "reload", step.Description)
}
