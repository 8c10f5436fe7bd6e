package types

// StepType tags a browser step.
type StepType string

const (
	StepNavigate        StepType = "navigate"
	StepClick           StepType = "click"
	StepTypeText        StepType = "type"
	StepSelect          StepType = "select"
	StepHover           StepType = "hover"
	StepKeyPress        StepType = "keyPress"
	StepScroll          StepType = "scroll"
	StepWait            StepType = "wait"
	StepWaitForSelector StepType = "waitForSelector"
	StepExtract         StepType = "extract"
	StepEvaluate        StepType = "evaluate"
	StepScreenshot      StepType = "screenshot"
	StepReload          StepType = "reload"
	StepGoBack          StepType = "goBack"
	StepGoForward       StepType = "goForward"
)

// ExtractKind selects what an extract step reads from matched elements.
type ExtractKind string

const (
	ExtractText      ExtractKind = "text"
	ExtractHTML      ExtractKind = "html"
	ExtractValue     ExtractKind = "value"
	ExtractAttribute ExtractKind = "attribute"
)

// WaitState selects what waitForSelector waits for.
type WaitState string

const (
	WaitAttached WaitState = "attached"
	WaitVisible  WaitState = "visible"
)

// Step is one unit of browser action. The Type field discriminates which of
// the optional fields apply; plan validation enforces the per-type rules.
type Step struct {
	ID          string   `json:"id"`
	Type        StepType `json:"type"`
	Description string   `json:"description"`

	Selector string `json:"selector,omitempty"`
	Value    string `json:"value,omitempty"`
	URL      string `json:"url,omitempty"`
	Key      string `json:"key,omitempty"`
	Script   string `json:"script,omitempty"`

	// WaitTime is milliseconds for wait / waitForSelector steps.
	WaitTime int `json:"waitTime,omitempty"`

	// Scroll target. Direction takes precedence when set.
	ScrollX   *int   `json:"scrollX,omitempty"`
	ScrollY   *int   `json:"scrollY,omitempty"`
	Direction string `json:"direction,omitempty"`

	// Extraction options.
	Multiple  bool        `json:"multiple,omitempty"`
	Attribute string      `json:"attribute,omitempty"`
	Kind      ExtractKind `json:"kind,omitempty"`

	// Screenshot options.
	FullPage bool `json:"fullPage,omitempty"`

	// waitForSelector state, attached or visible.
	State WaitState `json:"state,omitempty"`

	// Common control fields.
	Optional    bool   `json:"optional,omitempty"`
	Retries     int    `json:"retries,omitempty"`
	Condition   string `json:"condition,omitempty"`
	WaitAfterMs int    `json:"waitAfterMs,omitempty"`
}

// StepOutcome is the result of executing a single step.
type StepOutcome struct {
	StepID     string      `json:"stepId"`
	Success    bool        `json:"success"`
	Skipped    bool        `json:"skipped,omitempty"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	DurationMs int64       `json:"durationMs"`
	Retries    int         `json:"retries,omitempty"`
}
