// Package types holds the shared data model for pagewatch: task inputs,
// browser steps, plans, execution results and monitoring records. Components
// depend on this package instead of each other to avoid import cycles.
package types

import (
	"fmt"
	"net/url"
	"strings"
)

// ExecutionMode selects how the orchestrator runs a task.
type ExecutionMode string

const (
	ModePlan        ExecutionMode = "plan"
	ModeInteractive ExecutionMode = "interactive"
	ModeAuto        ExecutionMode = "auto"
)

// Viewport is the browser viewport size in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// TaskOptions is the fully enumerated option bag on a TaskInput.
type TaskOptions struct {
	ExecutionMode     ExecutionMode     `json:"executionMode,omitempty"`
	PlanOnly          bool              `json:"planOnly,omitempty"`
	ExecutionOnly     bool              `json:"executionOnly,omitempty"`
	PlanID            string            `json:"planId,omitempty"`
	ForceNewPlan      bool              `json:"forceNewPlan,omitempty"`
	TimeoutMs         int               `json:"timeoutMs,omitempty"`
	ScreenshotEnabled *bool             `json:"screenshotEnabled,omitempty"`
	Viewport          *Viewport         `json:"viewport,omitempty"`
	UserAgent         string            `json:"userAgent,omitempty"`
	Headers           map[string]string `json:"headers,omitempty"`
}

// TaskInput is the single structure the engine consumes per invocation.
type TaskInput struct {
	Instruction string       `json:"instruction"`
	URL         string       `json:"url"`
	TaskID      string       `json:"taskId,omitempty"`
	Options     *TaskOptions `json:"options,omitempty"`
}

// Mode returns the effective execution mode, defaulting to interactive.
func (t *TaskInput) Mode() ExecutionMode {
	if t.Options == nil || t.Options.ExecutionMode == "" {
		return ModeInteractive
	}
	return t.Options.ExecutionMode
}

// Validate checks the input against the up-front rules: non-empty instruction,
// absolute http(s) URL, and mutually exclusive planOnly/executionOnly flags.
func (t *TaskInput) Validate(maxInstructionLen int) error {
	if strings.TrimSpace(t.Instruction) == "" {
		return NewValidationError("instruction is required")
	}
	if maxInstructionLen > 0 && len(t.Instruction) > maxInstructionLen {
		return NewValidationError(fmt.Sprintf("instruction exceeds %d characters", maxInstructionLen))
	}
	u, err := url.Parse(t.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return NewValidationError("url must be an absolute http(s) URL")
	}
	if t.Options != nil && t.Options.PlanOnly && t.Options.ExecutionOnly {
		return NewValidationError("planOnly and executionOnly are mutually exclusive")
	}
	switch m := t.Mode(); m {
	case ModePlan, ModeInteractive, ModeAuto:
	default:
		return NewValidationError(fmt.Sprintf("unknown executionMode %q", m))
	}
	return nil
}
