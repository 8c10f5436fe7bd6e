package agent

import (
	"context"
	"encoding/json"
	"strings"

	"pagewatch/internal/llm"
	"pagewatch/internal/logging"
	"pagewatch/internal/prompt"
	"pagewatch/internal/types"
)

// decision is one validated model response: the next action plus a progress
// evaluation.
type decision struct {
	Action        types.Step
	Score         float64
	IsComplete    bool
	Reasoning     string
	ExtractedData map[string]interface{}
}

// stepResponse is the raw JSON shape the model produces each iteration.
type stepResponse struct {
	Action *struct {
		Type        string `json:"type"`
		Selector    string `json:"selector"`
		Value       string `json:"value"`
		URL         string `json:"url"`
		Key         string `json:"key"`
		Script      string `json:"script"`
		WaitTime    int    `json:"waitTime"`
		Description string `json:"description"`
	} `json:"action"`
	ProgressEvaluation *struct {
		Score      float64 `json:"score"`
		IsComplete bool    `json:"isComplete"`
		Reasoning  string  `json:"reasoning"`
	} `json:"progressEvaluation"`
	ExtractedData map[string]interface{} `json:"extractedData"`
}

// decide renders the interactive-step prompt and asks the model for the next
// action. Transport failures and malformed responses both degrade to a
// wait(1000) no-op so the loop keeps its cadence instead of aborting.
func (a *Agent) decide(ctx context.Context, task types.TaskInput, state types.BrowserState, stepNumber int, previous []types.InteractiveStep) (decision, llm.Usage) {
	system, err := a.prompts.Render(prompt.TemplateSystem, nil)
	if err != nil {
		logging.AgentError("render system prompt: %v", err)
		return fallbackDecision("prompt render failed"), llm.Usage{}
	}
	user, err := a.prompts.Render(prompt.TemplateInteractiveStep, map[string]interface{}{
		"instruction":   task.Instruction,
		"url":           state.URL,
		"stepNumber":    stepNumber,
		"maxSteps":      a.cfg.MaxSteps,
		"previousSteps": summarizePrevious(previous),
		"dom":           state.DOM,
		"pageError":     state.Error,
	})
	if err != nil {
		logging.AgentError("render step prompt: %v", err)
		return fallbackDecision("prompt render failed"), llm.Usage{}
	}

	completion, err := a.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, llm.CompletionOptions{JSONMode: true})
	if err != nil {
		logging.AgentWarn("step %d: model call failed, waiting: %v", stepNumber, err)
		return fallbackDecision("model call failed"), llm.Usage{}
	}

	parsed, ok := parseStepResponse(completion.Content)
	if !ok {
		logging.AgentWarn("step %d: malformed model response, waiting", stepNumber)
		return fallbackDecision("malformed model response"), completion.Usage
	}
	return parsed, completion.Usage
}

// parseStepResponse validates that both action and progressEvaluation are
// present and maps the raw shape onto a Step.
func parseStepResponse(content string) (decision, bool) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}

	var resp stepResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return decision{}, false
	}
	if resp.Action == nil || resp.ProgressEvaluation == nil || resp.Action.Type == "" {
		return decision{}, false
	}

	d := decision{
		Action: types.Step{
			Type:        types.StepType(resp.Action.Type),
			Description: resp.Action.Description,
			Selector:    resp.Action.Selector,
			Value:       resp.Action.Value,
			URL:         resp.Action.URL,
			Key:         resp.Action.Key,
			Script:      resp.Action.Script,
			WaitTime:    resp.Action.WaitTime,
			Retries:     1,
		},
		Score:         clamp01(resp.ProgressEvaluation.Score),
		IsComplete:    resp.ProgressEvaluation.IsComplete,
		Reasoning:     resp.ProgressEvaluation.Reasoning,
		ExtractedData: resp.ExtractedData,
	}
	if d.Action.ID == "" {
		d.Action.ID = "interactive"
	}
	return d, true
}

// fallbackDecision is the degenerate wait action used when the model cannot
// be consulted this iteration.
func fallbackDecision(reason string) decision {
	return decision{
		Action: types.Step{
			ID:          "interactive",
			Type:        types.StepWait,
			Description: "wait and retry after " + reason,
			WaitTime:    1000,
			Retries:     1,
		},
		Score:      0,
		IsComplete: false,
		Reasoning:  reason,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
