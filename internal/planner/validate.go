package planner

import (
	"fmt"
	"strings"

	"pagewatch/internal/logging"
	"pagewatch/internal/types"
)

// Per-type duration estimates in milliseconds.
const (
	durationNavigate    = 3000
	durationInteraction = 500
	durationExtract     = 200
	durationMove        = 1000
	durationScreenshot  = 1000
	maxWaitForSelector  = 10000
)

// validateStep enforces per-type field requirements and fills defaults.
// Mutates the step in place.
func validateStep(step *types.Step, index int, planURL string) error {
	if step.ID == "" {
		step.ID = fmt.Sprintf("step-%d", index+1)
	}
	if step.Type == "" {
		return fmt.Errorf("step %s has no type", step.ID)
	}
	if step.Description == "" {
		step.Description = string(step.Type)
	}

	switch step.Type {
	case types.StepNavigate:
		if step.URL == "" {
			step.URL = planURL
		}
		if step.URL == "" {
			return fmt.Errorf("step %s: navigate requires a url", step.ID)
		}

	case types.StepClick, types.StepHover:
		if step.Selector == "" {
			return fmt.Errorf("step %s: %s requires a selector", step.ID, step.Type)
		}
		warnImplausibleSelector(step)

	case types.StepTypeText, types.StepSelect:
		if step.Selector == "" || step.Value == "" {
			return fmt.Errorf("step %s: %s requires selector and value", step.ID, step.Type)
		}
		warnImplausibleSelector(step)

	case types.StepExtract:
		if step.Selector == "" {
			return fmt.Errorf("step %s: extract requires a selector", step.ID)
		}
		warnImplausibleSelector(step)

	case types.StepWaitForSelector:
		if step.Selector == "" {
			return fmt.Errorf("step %s: waitForSelector requires a selector", step.ID)
		}
		if step.WaitTime <= 0 {
			step.WaitTime = 10000
		}
		warnImplausibleSelector(step)

	case types.StepWait:
		if step.WaitTime <= 0 {
			step.WaitTime = 1000
		}

	case types.StepKeyPress:
		if step.Key == "" {
			return fmt.Errorf("step %s: keyPress requires a key", step.ID)
		}

	case types.StepEvaluate:
		if step.Script == "" {
			return fmt.Errorf("step %s: evaluate requires a script", step.ID)
		}

	case types.StepScroll, types.StepScreenshot, types.StepReload,
		types.StepGoBack, types.StepGoForward:
		// no required fields

	default:
		return fmt.Errorf("step %s: unknown type %q", step.ID, step.Type)
	}
	return nil
}

// warnImplausibleSelector logs selectors that look like prose rather than
// CSS. Plausibility is a warning, never a rejection.
func warnImplausibleSelector(step *types.Step) {
	sel := step.Selector
	if sel == "" {
		return
	}
	looksLikeCSS := strings.ContainsAny(sel, ".#[]>:*=") ||
		!strings.Contains(strings.TrimSpace(sel), " ")
	if !looksLikeCSS {
		logging.Planner("step %s selector %q looks implausible", step.ID, sel)
	}
}

// EstimateDuration sums per-type duration constants over the steps.
func EstimateDuration(steps []types.Step) int64 {
	var total int64
	for _, step := range steps {
		switch step.Type {
		case types.StepNavigate:
			total += durationNavigate
		case types.StepWait:
			total += int64(step.WaitTime)
		case types.StepWaitForSelector:
			wait := step.WaitTime
			if wait > maxWaitForSelector {
				wait = maxWaitForSelector
			}
			total += int64(wait)
		case types.StepClick, types.StepTypeText, types.StepSelect,
			types.StepHover, types.StepKeyPress:
			total += durationInteraction
		case types.StepExtract, types.StepEvaluate:
			total += durationExtract
		case types.StepScroll, types.StepReload, types.StepGoBack, types.StepGoForward:
			total += durationMove
		case types.StepScreenshot:
			total += durationScreenshot
		}
	}
	return total
}
