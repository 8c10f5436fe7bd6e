package types

import (
	"errors"
	"fmt"
)

// Stable machine codes for the error taxonomy. LLM transport errors carry
// their own codes in the llm package.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodePlanGeneration    = "PLAN_GENERATION_ERROR"
	CodeBrowserExecution  = "BROWSER_EXECUTION_ERROR"
	CodeNavigationTimeout = "NAVIGATION_TIMEOUT"
	CodeCacheBackend      = "CACHE_BACKEND_ERROR"
	CodeNoCachedPlan      = "NO_CACHED_PLAN"
)

// AppError is an error with a stable machine code and an optional details bag.
type AppError struct {
	Code    string
	Message string
	StepID  string
	Details map[string]interface{}
	Err     error
}

func (e *AppError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("%s: %s (step %s)", e.Code, e.Message, e.StepID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// NewValidationError reports bad caller input.
func NewValidationError(msg string) *AppError {
	return &AppError{Code: CodeValidation, Message: msg}
}

// NewPlanGenerationError reports an LLM failure or invalid plan JSON.
func NewPlanGenerationError(msg string, err error) *AppError {
	return &AppError{Code: CodePlanGeneration, Message: msg, Err: err}
}

// NewBrowserExecutionError reports a step failure during a replay.
func NewBrowserExecutionError(stepID, msg string, err error) *AppError {
	return &AppError{Code: CodeBrowserExecution, Message: msg, StepID: stepID, Err: err}
}

// NewNavigationTimeout reports a page navigation deadline.
func NewNavigationTimeout(url string, err error) *AppError {
	return &AppError{
		Code:    CodeNavigationTimeout,
		Message: "navigation timed out",
		Details: map[string]interface{}{"url": url},
		Err:     err,
	}
}

// NewCacheBackendError reports a plan cache backend failure.
func NewCacheBackendError(op string, err error) *AppError {
	return &AppError{Code: CodeCacheBackend, Message: op, Err: err}
}

// NewNoCachedPlan reports an executionOnly run without a usable plan.
func NewNoCachedPlan(taskSignature string) *AppError {
	return &AppError{
		Code:    CodeNoCachedPlan,
		Message: "no cached plan for task",
		Details: map[string]interface{}{"taskSignature": taskSignature},
	}
}

// CodeOf extracts the machine code from an error chain, or "" if none.
func CodeOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
