package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"pagewatch/internal/browser"
	"pagewatch/internal/logging"
	"pagewatch/internal/types"
)

// regenTriggers are the error-text substrings that mark a replay failure as
// plausibly caused by a stale plan rather than a broken site.
var regenTriggers = []string{
	"timeout",
	"selector",
	"element not found",
	"not visible",
	"waitforselector",
	"waitforelement",
	"locator",
	"exceeded",
}

type replayOptions struct {
	cacheHit   bool
	allowRegen bool
}

// replayAndPersist replays a plan, optionally regenerating it once when the
// failure looks selector- or timing-shaped, then persists the outcome.
func (o *Orchestrator) replayAndPersist(ctx context.Context, task types.TaskInput, plan *types.Plan, opts replayOptions) (*Response, error) {
	session := o.newSession(task)
	defer session.Stop()

	result, err := session.Execute(ctx, plan, browser.ExecuteOptions{SkipCleanup: true})
	if err != nil {
		return nil, types.NewBrowserExecutionError("", "replay failed", err)
	}
	result.TaskID = task.TaskID

	cacheHit := opts.cacheHit
	regenerated := false

	if opts.allowRegen && shouldRegenerate(result) {
		if newPlan, newResult, ok := o.regenerate(ctx, task, plan, session); ok {
			plan, result = newPlan, newResult
			result.TaskID = task.TaskID
			cacheHit = false
			regenerated = true
		}
	}

	executionID := uuid.NewString()
	o.persist(ctx, task, result, executionID)

	return replayResponse(plan, result, executionID, cacheHit, regenerated), nil
}

// regenerate captures the live page text, asks the planner for a fresh plan
// with that context, and replays it. The cache is overwritten only when the
// new replay succeeds. One pass per invocation.
func (o *Orchestrator) regenerate(ctx context.Context, task types.TaskInput, stale *types.Plan, session Session) (*types.Plan, *types.ExecutionResult, bool) {
	logging.Orchestrator("replay of plan %s failed with a stale-plan signature, regenerating", stale.ID)

	pageText, err := session.PageText(ctx)
	if err != nil {
		logging.OrchestratorError("page text capture for regeneration failed: %v", err)
	}

	gen, err := o.generatePlan(ctx, task, stale.TaskSignature, pageText)
	if err != nil {
		logging.OrchestratorError("regeneration failed: %v", err)
		return nil, nil, false
	}

	newResult, err := session.Execute(ctx, gen.Plan, browser.ExecuteOptions{SkipCleanup: true})
	if err != nil {
		logging.OrchestratorError("regenerated plan replay failed: %v", err)
		return nil, nil, false
	}
	if newResult.Status != types.StatusSuccess {
		logging.Orchestrator("regenerated plan %s did not succeed (%s), keeping original result", gen.Plan.ID, newResult.Status)
		return nil, nil, false
	}

	if err := o.cache.Refresh(ctx, stale.TaskSignature, gen.Plan); err != nil {
		logging.OrchestratorError("cache refresh after regeneration failed: %v", err)
	}
	logging.Orchestrator("regeneration succeeded, plan %s replaces %s", gen.Plan.ID, stale.ID)
	return gen.Plan, newResult, true
}

// shouldRegenerate applies the substring heuristic over the error message,
// logs and stack.
func shouldRegenerate(result *types.ExecutionResult) bool {
	if result.Status != types.StatusFailed && result.Status != types.StatusError {
		return false
	}
	if result.Error != nil {
		if containsTrigger(result.Error.Message) {
			return true
		}
		stack := strings.ToLower(result.Error.Stack)
		if strings.Contains(stack, "timeout") || strings.Contains(stack, "selector") {
			return true
		}
	}
	for _, line := range result.Logs {
		if containsTrigger(line) {
			return true
		}
	}
	return false
}

func containsTrigger(msg string) bool {
	lower := strings.ToLower(msg)
	for _, trigger := range regenTriggers {
		if strings.Contains(lower, trigger) {
			return true
		}
	}
	return false
}

// persist writes the execution record, then the monitoring sample, then the
// change record. A sample is appended only for successful runs with data and
// a task id; the previous sample is read first so the diff baseline is not
// the sample being written.
func (o *Orchestrator) persist(ctx context.Context, task types.TaskInput, result *types.ExecutionResult, executionID string) {
	if o.results == nil {
		return
	}

	var prev map[string]interface{}
	monitorable := result.Status == types.StatusSuccess && len(result.ExtractedData) > 0 && task.TaskID != ""
	if monitorable {
		sample, err := o.results.LatestSample(ctx, task.TaskID)
		if err != nil {
			logging.OrchestratorError("baseline sample load failed: %v", err)
			monitorable = false
		} else if sample != nil {
			prev = sample.ExtractedData
		}
	}

	if err := o.results.SaveResult(ctx, result); err != nil {
		logging.OrchestratorError("execution result persist failed: %v", err)
	}
	if !monitorable {
		return
	}

	if err := o.results.AppendSample(ctx, types.MonitoringSample{
		TaskID:        task.TaskID,
		URL:           task.URL,
		ExtractedData: result.ExtractedData,
		ExecutionID:   executionID,
		CapturedAt:    time.Now(),
	}); err != nil {
		logging.OrchestratorError("monitoring sample persist failed: %v", err)
		return
	}

	change := o.detector.HasChanged(prev, result.ExtractedData)
	if !change.Changed {
		return
	}
	if err := o.results.AppendChange(ctx, types.ChangeRecord{
		TaskID:        task.TaskID,
		ExecutionID:   executionID,
		ChangedFields: change.ChangedFields,
		IsRestock:     change.IsRestock,
		DetectedAt:    change.DetectedAt,
	}); err != nil {
		logging.OrchestratorError("change record persist failed: %v", err)
	}
}
