package browser

import (
	"context"
	"testing"

	"pagewatch/internal/config"
	"pagewatch/internal/types"
)

func TestClassifyFailure(t *testing.T) {
	tests := []struct {
		errMsg string
		want   types.ExecutionStatus
	}{
		{"navigation timeout: context deadline exceeded", types.StatusTimeout},
		{"context deadline exceeded", types.StatusTimeout},
		{"element not found: .price", types.StatusFailed},
		{"waitForSelector .stock: cannot find element", types.StatusFailed},
	}
	for _, tt := range tests {
		if got := classifyFailure(tt.errMsg); got != tt.want {
			t.Errorf("classifyFailure(%q) = %v, want %v", tt.errMsg, got, tt.want)
		}
	}
}

func TestIsTitleSelector(t *testing.T) {
	tests := []struct {
		selector string
		want     bool
	}{
		{"title", true},
		{"head > title", true},
		{".product-title", true},
		{"h1", false},
		{".price", false},
	}
	for _, tt := range tests {
		if got := isTitleSelector(tt.selector); got != tt.want {
			t.Errorf("isTitleSelector(%q) = %v, want %v", tt.selector, got, tt.want)
		}
	}
}

func TestIsPageExpression(t *testing.T) {
	// Promoted plans carry human-readable criteria that must not be sent to
	// the page for evaluation.
	if isPageExpression("All steps executed successfully") {
		t.Error("promoted success criterion should not be a page expression")
	}
	if isPageExpression("Any step failed with error") {
		t.Error("promoted failure criterion should not be a page expression")
	}
	if !isPageExpression("document.querySelector('.price') !== null") {
		t.Error("JS expression should count as a page expression")
	}
	if !isPageExpression("document.title.length > 0") {
		t.Error("JS expression should count as a page expression")
	}
}

func TestStepLogLine(t *testing.T) {
	step := types.Step{ID: "step-1", Type: types.StepClick}

	line := stepLogLine(step, types.StepOutcome{StepID: "step-1", Success: true, DurationMs: 42})
	if line != "step step-1 (click) ok in 42ms" {
		t.Errorf("unexpected log line: %q", line)
	}

	line = stepLogLine(step, types.StepOutcome{StepID: "step-1", Error: "element not found"})
	if line != "step step-1 (click) failed: element not found" {
		t.Errorf("unexpected log line: %q", line)
	}

	line = stepLogLine(step, types.StepOutcome{StepID: "step-1", Skipped: true})
	if line != "step step-1 (click) skipped by condition" {
		t.Errorf("unexpected log line: %q", line)
	}
}

func TestExecuteRejectsEmptyPlan(t *testing.T) {
	s := NewSession(config.DefaultBrowserConfig(), SessionOptions{})
	if _, err := s.Execute(context.Background(), nil, ExecuteOptions{}); err == nil {
		t.Error("expected error for nil plan")
	}
	if _, err := s.Execute(context.Background(), &types.Plan{}, ExecuteOptions{}); err == nil {
		t.Error("expected error for plan with no steps")
	}
}
