// Package planner turns a natural-language instruction into a replayable
// browser plan by prompting an LLM in JSON mode and validating the result.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"pagewatch/internal/llm"
	"pagewatch/internal/logging"
	"pagewatch/internal/prompt"
	"pagewatch/internal/types"
)

// fallbackThreshold is the confidence below which the fallback client is
// consulted.
const fallbackThreshold = 0.5

// Input describes one plan-generation request.
type Input struct {
	Instruction string
	URL         string
	// PageText is optional sanitized page content, supplied during
	// failure-driven regeneration so the model sees the live page.
	PageText string
}

// Result is the outcome of a generation attempt. Success is false when the
// model call failed or the scaffold did not validate; Plan is nil in that
// case and Error names the cause.
type Result struct {
	Success    bool
	Plan       *types.Plan
	Confidence float64
	Reasoning  string
	Error      string
	Usage      llm.Usage
}

// Generator generates plans with a primary client and an optional fallback
// of the other model family.
type Generator struct {
	client   llm.Client
	fallback llm.Client
	prompts  *prompt.Store
}

// NewGenerator creates a Generator. fallback may be nil.
func NewGenerator(client, fallback llm.Client, prompts *prompt.Store) *Generator {
	return &Generator{client: client, fallback: fallback, prompts: prompts}
}

// GeneratePlan asks the primary client for a plan and validates it.
func (g *Generator) GeneratePlan(ctx context.Context, in Input) *Result {
	return g.generate(ctx, g.client, in)
}

// GeneratePlanWithFallback tries the primary client, then the fallback when
// the primary fails outright or returns confidence below 0.5. The higher
// confidence result wins.
func (g *Generator) GeneratePlanWithFallback(ctx context.Context, in Input) *Result {
	primary := g.generate(ctx, g.client, in)
	if g.fallback == nil {
		return primary
	}
	if primary.Success && primary.Confidence >= fallbackThreshold {
		return primary
	}

	logging.Planner("primary plan unsatisfactory (success=%v confidence=%.2f), trying fallback %s",
		primary.Success, primary.Confidence, g.fallback.Model())
	secondary := g.generate(ctx, g.fallback, in)
	secondary.Usage.Add(primary.Usage)

	if !secondary.Success {
		return primary
	}
	if !primary.Success || secondary.Confidence > primary.Confidence {
		return secondary
	}
	return primary
}

func (g *Generator) generate(ctx context.Context, client llm.Client, in Input) *Result {
	timer := logging.StartTimer(logging.CategoryPlanner, "generate plan")
	defer timer.Stop()

	system, err := g.prompts.Render(prompt.TemplateSystem, nil)
	if err != nil {
		return &Result{Error: err.Error()}
	}
	user, err := g.prompts.Render(prompt.TemplateUserPlan, map[string]interface{}{
		"instruction": in.Instruction,
		"url":         in.URL,
		"pageText":    in.PageText,
	})
	if err != nil {
		return &Result{Error: err.Error()}
	}

	temperature := llm.PlanningTemperature
	completion, err := client.Complete(ctx, []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, llm.CompletionOptions{
		JSONMode:    true,
		Temperature: &temperature,
	})
	if err != nil {
		logging.PlannerError("completion failed: %v", err)
		return &Result{Error: err.Error()}
	}

	result := &Result{Usage: completion.Usage}

	var scaffold planScaffold
	if err := json.Unmarshal([]byte(stripFences(completion.Content)), &scaffold); err != nil {
		logging.PlannerError("unparseable plan JSON: %v", err)
		result.Error = "validation"
		return result
	}

	plan, confidence, err := g.buildPlan(scaffold, in, client.Model())
	if err != nil {
		logging.PlannerError("plan rejected: %v", err)
		result.Error = "validation"
		result.Reasoning = scaffold.Reasoning
		return result
	}

	result.Success = true
	result.Plan = plan
	result.Confidence = confidence
	result.Reasoning = scaffold.Reasoning
	logging.Planner("generated plan %s: %d steps confidence=%.2f model=%s",
		plan.ID, len(plan.Steps), confidence, client.Model())
	return result
}

// planScaffold is the raw JSON shape the model produces.
type planScaffold struct {
	Name            string       `json:"name"`
	Description     string       `json:"description"`
	URL             string       `json:"url"`
	Steps           []types.Step `json:"steps"`
	ExpectedResults []string     `json:"expectedResults"`
	SuccessCriteria []string     `json:"successCriteria"`
	FailureCriteria []string     `json:"failureCriteria"`
	Confidence      float64      `json:"confidence"`
	Reasoning       string       `json:"reasoning"`
}

// buildPlan validates the scaffold and assembles the final plan.
func (g *Generator) buildPlan(scaffold planScaffold, in Input, model string) (*types.Plan, float64, error) {
	if len(scaffold.Steps) == 0 {
		return nil, 0, fmt.Errorf("plan has no steps")
	}

	planURL := scaffold.URL
	if planURL == "" {
		planURL = in.URL
	}

	steps := make([]types.Step, len(scaffold.Steps))
	copy(steps, scaffold.Steps)
	for i := range steps {
		if err := validateStep(&steps[i], i, planURL); err != nil {
			return nil, 0, err
		}
	}

	confidence := clamp01(scaffold.Confidence)

	return &types.Plan{
		ID:              uuid.NewString(),
		TaskSignature:   types.TaskSignature(in.Instruction, in.URL),
		Instruction:     in.Instruction,
		URL:             planURL,
		Steps:           steps,
		ExpectedResults: scaffold.ExpectedResults,
		ErrorHandling:   types.ErrorHandling{RetryCount: 3, TimeoutMs: 30000},
		Validation: types.Validation{
			SuccessCriteria: scaffold.SuccessCriteria,
			FailureCriteria: scaffold.FailureCriteria,
		},
		Metadata: types.PlanMetadata{
			CreatedAt:           time.Now(),
			ModelID:             model,
			Confidence:          confidence,
			EstimatedDurationMs: EstimateDuration(steps),
		},
	}, confidence, nil
}

// stripFences removes a markdown code fence wrapper if present. Family-B
// models sometimes fence JSON despite being told not to.
func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
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
