package api

import (
	"pagewatch/internal/orchestrator"
)

// bodyFor renders the mode-specific response body: interactive, plan_only, or
// the traditional replay shape.
func bodyFor(resp *orchestrator.Response) map[string]interface{} {
	switch resp.Mode {
	case orchestrator.ModeInteractive:
		return interactiveBody(resp)
	case orchestrator.ModePlanOnly:
		return planOnlyBody(resp)
	default:
		return traditionalBody(resp)
	}
}

func interactiveBody(resp *orchestrator.Response) map[string]interface{} {
	steps := make([]map[string]interface{}, len(resp.Steps))
	for i, s := range resp.Steps {
		steps[i] = map[string]interface{}{
			"stepNumber":    s.StepNumber,
			"action":        s.Action,
			"progressScore": s.ProgressScore,
			"isComplete":    s.IsComplete,
			"reasoning":     s.Reasoning,
		}
	}

	body := map[string]interface{}{
		"success":          resp.Success,
		"mode":             orchestrator.ModeInteractive,
		"planId":           resp.PlanID,
		"status":           resp.Status,
		"extractedData":    resp.ExtractedData,
		"interactiveSteps": steps,
		"metrics":          metricsBody(resp),
		"escalation":       resp.Escalation,
	}
	if resp.ExecutionID != "" {
		body["executionId"] = resp.ExecutionID
	}
	if resp.Error != nil {
		body["error"] = resp.Error
	}
	return body
}

func planOnlyBody(resp *orchestrator.Response) map[string]interface{} {
	return map[string]interface{}{
		"success":       resp.Success,
		"mode":          orchestrator.ModePlanOnly,
		"planId":        resp.PlanID,
		"taskSignature": resp.TaskSignature,
		"planDetails":   resp.PlanDetails,
		"executionTime": resp.ExecutionTimeMs,
		"message":       resp.Message,
	}
}

func traditionalBody(resp *orchestrator.Response) map[string]interface{} {
	body := map[string]interface{}{
		"success":       resp.Success,
		"planId":        resp.PlanID,
		"executionId":   resp.ExecutionID,
		"status":        resp.Status,
		"extractedData": resp.ExtractedData,
		"screenshots":   resp.Screenshots,
		"metrics":       metricsBody(resp),
		"logs":          resp.Logs,
	}
	if body["logs"] == nil {
		body["logs"] = []string{}
	}
	if resp.Error != nil {
		body["error"] = resp.Error
	}
	return body
}

// metricsBody flattens the metrics bag; the traditional shape carries
// planGenerated and cacheHit, the interactive shape carries the loop fields.
func metricsBody(resp *orchestrator.Response) map[string]interface{} {
	m := map[string]interface{}{
		"totalTime":      resp.ExecutionTimeMs,
		"stepsCompleted": resp.Metrics.StepsCompleted,
		"stepsTotal":     resp.Metrics.StepsTotal,
		"retryCount":     resp.Metrics.RetryCount,
	}
	if resp.Mode == orchestrator.ModeInteractive {
		m["averageProgressScore"] = resp.Metrics.AverageProgressScore
		m["maxStepsReached"] = resp.Metrics.MaxStepsReached
		m["stagnationDetected"] = resp.Metrics.StagnationDetected
	} else {
		m["cacheHit"] = resp.Metrics.CacheHit
		m["planGenerated"] = resp.PlanGenerated
		if resp.Metrics.Regenerated {
			m["regenerated"] = true
		}
	}
	if resp.Usage.TotalTokens > 0 {
		m["tokensUsed"] = resp.Usage.TotalTokens
	}
	return m
}
