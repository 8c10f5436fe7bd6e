package orchestrator

import (
	"fmt"
	"time"

	"pagewatch/internal/agent"
	"pagewatch/internal/llm"
	"pagewatch/internal/types"
)

// Response modes. Empty means the traditional replay shape.
const (
	ModeInteractive = "interactive"
	ModePlanOnly    = "plan_only"
)

// StepSummary is the abbreviated step shape in plan-only responses.
type StepSummary struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Selector    string `json:"selector,omitempty"`
}

// PlanDetails describes a generated-but-not-executed plan.
type PlanDetails struct {
	Steps               []StepSummary `json:"steps"`
	EstimatedDurationMs int64         `json:"estimatedDuration"`
	Confidence          float64       `json:"confidence"`
	Reasoning           string        `json:"reasoning"`
}

// Escalation reports whether the interactive loop handed the task back.
type Escalation struct {
	Escalated bool   `json:"escalated"`
	Reason    string `json:"reason,omitempty"`
}

// Metrics is the concise per-invocation metrics bag.
type Metrics struct {
	ExecutionTimeMs      int64   `json:"totalTime"`
	StepsCompleted       int     `json:"stepsCompleted"`
	StepsTotal           int     `json:"stepsTotal"`
	RetryCount           int     `json:"retryCount"`
	CacheHit             bool    `json:"cacheHit"`
	PlanGenerated        bool    `json:"planGenerated"`
	Regenerated          bool    `json:"regenerated,omitempty"`
	AverageProgressScore float64 `json:"averageProgressScore,omitempty"`
	MaxStepsReached      bool    `json:"maxStepsReached,omitempty"`
	StagnationDetected   bool    `json:"stagnationDetected,omitempty"`
}

// Response is the orchestrator's mode-independent result. The api package
// maps it onto the wire shapes.
type Response struct {
	Success       bool
	Mode          string
	PlanID        string
	ExecutionID   string
	TaskSignature string
	Status        types.ExecutionStatus

	ExtractedData map[string]interface{}
	Screenshots   int
	Logs          []string
	Error         *types.ExecutionError

	Steps      []types.InteractiveStep
	Escalation Escalation

	PlanDetails *PlanDetails
	Message     string

	Metrics         Metrics
	ExecutionTimeMs int64
	PlanGenerated   bool
	Usage           llm.Usage
}

func replayResponse(plan *types.Plan, result *types.ExecutionResult, executionID string, cacheHit, regenerated bool) *Response {
	return &Response{
		Success:       result.Status == types.StatusSuccess,
		PlanID:        plan.ID,
		ExecutionID:   executionID,
		Status:        result.Status,
		ExtractedData: result.ExtractedData,
		Screenshots:   len(result.Screenshots),
		Logs:          result.Logs,
		Error:         result.Error,
		Metrics: Metrics{
			ExecutionTimeMs: result.Metrics.ExecutionTimeMs,
			StepsCompleted:  result.Metrics.StepsCompleted,
			StepsTotal:      result.Metrics.StepsTotal,
			RetryCount:      result.Metrics.RetryCount,
			CacheHit:        cacheHit,
			Regenerated:     regenerated,
		},
	}
}

func interactiveResponse(result *agent.Result, planID string, status types.ExecutionStatus) *Response {
	resp := &Response{
		Success:       result.Success,
		Mode:          ModeInteractive,
		PlanID:        planID,
		Status:        status,
		ExtractedData: result.ExtractedData,
		Steps:         result.Steps,
		Escalation: Escalation{
			Escalated: result.EscalatedToHuman,
			Reason:    result.EscalationReason,
		},
		Usage: result.Usage,
		Metrics: Metrics{
			ExecutionTimeMs:      result.TotalDurationMs,
			StepsCompleted:       len(result.Steps),
			StepsTotal:           len(result.Steps),
			AverageProgressScore: result.Metadata.AverageProgressScore,
			MaxStepsReached:      result.Metadata.MaxStepsReached,
			StagnationDetected:   result.Metadata.StagnationDetected,
		},
	}
	return resp
}

// interactiveExecutionResult converts an agent run into the persistence
// shape shared with plan replays.
func interactiveExecutionResult(task types.TaskInput, result *agent.Result) *types.ExecutionResult {
	status := types.StatusSuccess
	if !result.Success {
		status = types.StatusFailed
	}
	planID := ""
	if result.GeneratedPlan != nil {
		planID = result.GeneratedPlan.ID
	}

	logs := make([]string, 0, len(result.Steps))
	for _, s := range result.Steps {
		logs = append(logs, stepTraceLine(s))
	}

	execResult := &types.ExecutionResult{
		PlanID:        planID,
		TaskID:        task.TaskID,
		Status:        status,
		ExtractedData: result.ExtractedData,
		Logs:          logs,
		Metrics: types.ExecutionMetrics{
			ExecutionTimeMs: result.TotalDurationMs,
			StepsCompleted:  len(result.Steps),
			StepsTotal:      len(result.Steps),
		},
		CreatedAt: time.Now(),
	}
	if result.EscalatedToHuman {
		execResult.Error = &types.ExecutionError{Message: result.EscalationReason}
	}
	return execResult
}

func stepTraceLine(s types.InteractiveStep) string {
	state := "ok"
	if !s.ExecutionResult.Success {
		state = "failed: " + s.ExecutionResult.Error
	}
	return fmt.Sprintf("step %d %s %s", s.StepNumber, s.Action.Type, state)
}

func summarizeSteps(steps []types.Step) []StepSummary {
	out := make([]StepSummary, len(steps))
	for i, s := range steps {
		out[i] = StepSummary{
			ID:          s.ID,
			Type:        string(s.Type),
			Description: s.Description,
			Selector:    s.Selector,
		}
	}
	return out
}
