// Package agent implements the interactive browser loop: capture state, ask
// the model for one action, execute it, evaluate progress, repeat. Successful
// traces are promoted to replayable plans.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pagewatch/internal/llm"
	"pagewatch/internal/logging"
	"pagewatch/internal/prompt"
	"pagewatch/internal/types"
)

// Loop defaults.
const (
	DefaultMaxSteps          = 10
	DefaultProgressThreshold = 0.10
	DefaultStagnationLimit   = 3
)

// Config tunes the interactive loop.
type Config struct {
	MaxSteps          int
	ProgressThreshold float64
	StagnationLimit   int
	ScreenshotEnabled bool
	DOMCaptureEnabled bool
}

// DefaultConfig returns the standard loop settings.
func DefaultConfig() Config {
	return Config{
		MaxSteps:          DefaultMaxSteps,
		ProgressThreshold: DefaultProgressThreshold,
		StagnationLimit:   DefaultStagnationLimit,
		ScreenshotEnabled: true,
		DOMCaptureEnabled: true,
	}
}

// Browser is the session capability the agent needs. The agent owns the tab
// lifecycle: it starts the session and the caller decides when to stop it.
type Browser interface {
	Start(ctx context.Context) error
	CaptureState(ctx context.Context) types.BrowserState
	ExecuteStep(ctx context.Context, step types.Step) types.StepOutcome
	CurrentURL() string
}

// Metadata summarizes how the loop ended.
type Metadata struct {
	MaxStepsReached      bool    `json:"maxStepsReached"`
	StagnationDetected   bool    `json:"stagnationDetected"`
	AverageProgressScore float64 `json:"averageProgressScore"`
}

// Result is the outcome of one interactive run.
type Result struct {
	Success             bool                    `json:"success"`
	Steps               []types.InteractiveStep `json:"steps"`
	GeneratedPlan       *types.Plan             `json:"generatedPlan,omitempty"`
	EscalatedToHuman    bool                    `json:"escalatedToHuman"`
	EscalationReason    string                  `json:"escalationReason,omitempty"`
	ProgressImprovement float64                 `json:"progressImprovement,omitempty"`
	TotalDurationMs     int64                   `json:"totalDurationMs"`
	ExtractedData       map[string]interface{}  `json:"extractedData,omitempty"`
	Usage               llm.Usage               `json:"usage"`
	Metadata            Metadata                `json:"metadata"`
}

// Agent drives the interactive loop.
type Agent struct {
	browser Browser
	client  llm.Client
	prompts *prompt.Store
	cfg     Config
}

// New creates an Agent.
func New(b Browser, client llm.Client, prompts *prompt.Store, cfg Config) *Agent {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.ProgressThreshold <= 0 {
		cfg.ProgressThreshold = DefaultProgressThreshold
	}
	if cfg.StagnationLimit <= 0 {
		cfg.StagnationLimit = DefaultStagnationLimit
	}
	return &Agent{browser: b, client: client, prompts: prompts, cfg: cfg}
}

// ExecuteInteractively runs the loop for one task. The browser session is
// left open so the orchestrator can capture page text afterwards; callers
// stop it when done.
func (a *Agent) ExecuteInteractively(ctx context.Context, task types.TaskInput) (*Result, error) {
	started := time.Now()
	result := &Result{}

	defer func() {
		result.TotalDurationMs = time.Since(started).Milliseconds()
		result.Metadata.AverageProgressScore = averageScore(result.Steps)
		if n := len(result.Steps); n > 0 {
			result.ProgressImprovement = result.Steps[n-1].ProgressScore - result.Steps[0].ProgressScore
		}
	}()

	if err := a.browser.Start(ctx); err != nil {
		return result, fmt.Errorf("start browser: %w", err)
	}

	// First action is always reaching the target page.
	nav := a.browser.ExecuteStep(ctx, types.Step{
		ID:          "nav-initial",
		Type:        types.StepNavigate,
		Description: "navigate to target url",
		URL:         task.URL,
	})
	if !nav.Success {
		return result, fmt.Errorf("initial navigation: %s", nav.Error)
	}

	extracted := make(map[string]interface{})
	scores := make([]float64, 0, a.cfg.MaxSteps)

	for stepNumber := 1; stepNumber <= a.cfg.MaxSteps; stepNumber++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		state := a.browser.CaptureState(ctx)
		if state.Error != "" {
			logging.AgentWarn("step %d: partial state capture: %s", stepNumber, state.Error)
		}
		if !a.cfg.DOMCaptureEnabled {
			state.DOM = ""
		}
		if !a.cfg.ScreenshotEnabled {
			state.Screenshot = ""
		}

		decision, usage := a.decide(ctx, task, state, stepNumber, result.Steps)
		result.Usage.Add(usage)

		outcome := a.browser.ExecuteStep(ctx, decision.Action)
		if !outcome.Success {
			logging.AgentWarn("step %d action %s failed: %s", stepNumber, decision.Action.Type, outcome.Error)
		}

		mergeExtracted(extracted, decision.ExtractedData)
		if outcome.Success && decision.Action.Type == types.StepExtract {
			if text, ok := outcome.Result.(string); ok {
				mergeExtracted(extracted, ParseExtracted(task.Instruction, text))
			}
		}

		step := types.InteractiveStep{
			StepNumber:      stepNumber,
			BrowserState:    state,
			Action:          decision.Action,
			ExecutionResult: outcome,
			ProgressScore:   decision.Score,
			IsComplete:      decision.IsComplete,
			Reasoning:       decision.Reasoning,
		}
		result.Steps = append(result.Steps, step)
		scores = append(scores, decision.Score)
		logging.Agent("step %d: %s score=%.2f complete=%v", stepNumber, decision.Action.Type, decision.Score, decision.IsComplete)

		if decision.IsComplete {
			result.Success = true
			break
		}

		if stagnated(scores, a.cfg.StagnationLimit, a.cfg.ProgressThreshold) {
			recent := scores[len(scores)-a.cfg.StagnationLimit:]
			result.EscalatedToHuman = true
			result.EscalationReason = fmt.Sprintf("stagnation detected: no progress over last %d steps (scores %s)",
				a.cfg.StagnationLimit, formatScores(recent))
			result.Metadata.StagnationDetected = true
			logging.AgentWarn("stagnation: %s", result.EscalationReason)
			break
		}
	}

	if !result.Success && !result.EscalatedToHuman {
		result.EscalatedToHuman = true
		result.EscalationReason = fmt.Sprintf("max steps reached (%d)", a.cfg.MaxSteps)
		result.Metadata.MaxStepsReached = true
	}

	if len(extracted) > 0 {
		result.ExtractedData = extracted
	}

	if result.Success && !result.EscalatedToHuman {
		result.GeneratedPlan = PromoteTrace(task, result.Steps)
		logging.Agent("promoted trace to plan %s (%d steps)", result.GeneratedPlan.ID, len(result.GeneratedPlan.Steps))
	}
	return result, nil
}

// stagnated reports whether the last limit scores span less than threshold.
func stagnated(scores []float64, limit int, threshold float64) bool {
	if len(scores) < limit {
		return false
	}
	recent := scores[len(scores)-limit:]
	min, max := recent[0], recent[0]
	for _, s := range recent[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return max-min < threshold
}

func averageScore(steps []types.InteractiveStep) float64 {
	if len(steps) == 0 {
		return 0
	}
	var sum float64
	for _, s := range steps {
		sum += s.ProgressScore
	}
	return sum / float64(len(steps))
}

func formatScores(scores []float64) string {
	parts := make([]string, len(scores))
	for i, s := range scores {
		parts[i] = fmt.Sprintf("%.2f", s)
	}
	return strings.Join(parts, ", ")
}

func mergeExtracted(dst map[string]interface{}, src map[string]interface{}) {
	for k, v := range src {
		if v != nil {
			dst[k] = v
		}
	}
}

// summarizePrevious renders prior steps for the prompt.
func summarizePrevious(steps []types.InteractiveStep) string {
	lines := make([]string, len(steps))
	for i, s := range steps {
		lines[i] = fmt.Sprintf("Step %d: %s %s – Progress: %.2f – %s",
			s.StepNumber, s.Action.Type, s.Action.Selector, s.ProgressScore, s.Reasoning)
	}
	return strings.Join(lines, "\n")
}
