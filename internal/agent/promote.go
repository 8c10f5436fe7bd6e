package agent

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"pagewatch/internal/types"
)

// Fixed criteria strings for promoted plans. These are markers, not page
// expressions; the replay engine recognizes and skips them.
const (
	promotedSuccessCriterion = "All steps executed successfully"
	promotedFailureCriterion = "Any step failed with error"
)

// PromoteTrace converts a successful interactive trace into a replayable
// plan: same actions with sequential ids, confidence taken from the final
// progress score and the duration estimate from the measured step times.
func PromoteTrace(task types.TaskInput, steps []types.InteractiveStep) *types.Plan {
	planSteps := make([]types.Step, 0, len(steps)+1)

	// The loop navigates before its first iteration; the replay needs that
	// as an explicit step.
	planSteps = append(planSteps, types.Step{
		ID:          "step-1",
		Type:        types.StepNavigate,
		Description: "navigate to target url",
		URL:         task.URL,
	})
	for _, s := range steps {
		step := s.Action
		step.ID = fmt.Sprintf("step-%d", len(planSteps)+1)
		planSteps = append(planSteps, step)
	}

	var totalMs int64
	for _, s := range steps {
		totalMs += s.ExecutionResult.DurationMs
	}

	confidence := 0.0
	if n := len(steps); n > 0 {
		confidence = steps[n-1].ProgressScore
	}

	return &types.Plan{
		ID:            uuid.NewString(),
		TaskSignature: types.TaskSignature(task.Instruction, task.URL),
		Instruction:   task.Instruction,
		URL:           task.URL,
		Steps:         planSteps,
		ErrorHandling: types.ErrorHandling{RetryCount: 3, TimeoutMs: 30000},
		Validation: types.Validation{
			SuccessCriteria: []string{promotedSuccessCriterion},
			FailureCriteria: []string{promotedFailureCriterion},
		},
		Metadata: types.PlanMetadata{
			CreatedAt:           time.Now(),
			Confidence:          confidence,
			EstimatedDurationMs: totalMs,
		},
	}
}
