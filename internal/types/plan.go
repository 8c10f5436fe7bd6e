package types

import "time"

// ErrorHandling controls retry behavior during a plan replay.
type ErrorHandling struct {
	RetryCount    int    `json:"retryCount"`
	TimeoutMs     int    `json:"timeoutMs"`
	FallbackSteps []Step `json:"fallbackSteps,omitempty"`
}

// Validation holds the page-context boolean expressions checked after all
// steps have run. Every success criterion must be truthy and every failure
// criterion falsy for the run to count as a success.
type Validation struct {
	SuccessCriteria []string `json:"successCriteria"`
	FailureCriteria []string `json:"failureCriteria"`
}

// PlanMetadata is audit information attached to a generated plan.
type PlanMetadata struct {
	CreatedAt           time.Time `json:"createdAt"`
	ModelID             string    `json:"modelId,omitempty"`
	Confidence          float64   `json:"confidence"`
	EstimatedDurationMs int64     `json:"estimatedDurationMs"`
}

// Plan is an ordered sequence of browser steps plus validation expressions,
// replayable without consulting the model.
type Plan struct {
	ID              string        `json:"id"`
	TaskSignature   string        `json:"taskSignature"`
	Instruction     string        `json:"instruction"`
	URL             string        `json:"url"`
	Steps           []Step        `json:"steps"`
	ExpectedResults []string      `json:"expectedResults,omitempty"`
	ErrorHandling   ErrorHandling `json:"errorHandling"`
	Validation      Validation    `json:"validation"`
	Metadata        PlanMetadata  `json:"metadata"`
}

// ExecutionStatus classifies a replay outcome.
type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusFailed  ExecutionStatus = "failed"
	StatusTimeout ExecutionStatus = "timeout"
	StatusError   ExecutionStatus = "error"
)

// ExecutionError describes what went wrong during a replay.
type ExecutionError struct {
	Message string `json:"message"`
	Step    string `json:"step,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

// ExecutionMetrics is the concise metrics bag attached to every result.
type ExecutionMetrics struct {
	ExecutionTimeMs int64 `json:"executionTimeMs"`
	StepsCompleted  int   `json:"stepsCompleted"`
	StepsTotal      int   `json:"stepsTotal"`
	RetryCount      int   `json:"retryCount"`
}

// ExecutionResult is the record of one plan replay.
type ExecutionResult struct {
	PlanID        string                 `json:"planId"`
	TaskID        string                 `json:"taskId,omitempty"`
	Status        ExecutionStatus        `json:"status"`
	ExtractedData map[string]interface{} `json:"extractedData,omitempty"`
	Screenshots   []string               `json:"screenshots,omitempty"`
	Logs          []string               `json:"logs"`
	Error         *ExecutionError        `json:"error,omitempty"`
	Metrics       ExecutionMetrics       `json:"metrics"`
	CreatedAt     time.Time              `json:"createdAt"`
}

// BrowserState is a point-in-time capture of the tab.
type BrowserState struct {
	URL        string    `json:"url"`
	DOM        string    `json:"dom"`
	Screenshot string    `json:"screenshot,omitempty"` // JPEG, base64
	Viewport   Viewport  `json:"viewport"`
	CapturedAt time.Time `json:"capturedAt"`
	Error      string    `json:"error,omitempty"`
}

// InteractiveStep is one iteration of the interactive loop.
type InteractiveStep struct {
	StepNumber      int          `json:"stepNumber"`
	BrowserState    BrowserState `json:"browserState"`
	Action          Step         `json:"action"`
	ExecutionResult StepOutcome  `json:"executionResult"`
	ProgressScore   float64      `json:"progressScore"`
	IsComplete      bool         `json:"isComplete"`
	Reasoning       string       `json:"reasoning"`
}
