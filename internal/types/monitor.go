package types

import "time"

// MonitoringSample is one successful extraction for a task, the baseline for
// the next change detection pass. Append-only.
type MonitoringSample struct {
	ID            string                 `json:"id"`
	TaskID        string                 `json:"taskId"`
	URL           string                 `json:"url"`
	ExtractedData map[string]interface{} `json:"extractedData"`
	ExecutionID   string                 `json:"executionId,omitempty"`
	CapturedAt    time.Time              `json:"capturedAt"`
}

// ChangeRecord is one detected change between successive samples. Append-only.
type ChangeRecord struct {
	ID            string    `json:"id"`
	TaskID        string    `json:"taskId"`
	ExecutionID   string    `json:"executionId,omitempty"`
	ChangedFields []string  `json:"changedFields"`
	IsRestock     bool      `json:"isRestock"`
	DetectedAt    time.Time `json:"detectedAt"`
}
