// Package api maps the orchestrator onto the wire: it parses a TaskInput from
// a raw JSON payload (optionally wrapped in an API-gateway envelope), runs it,
// and renders a LambdaResponse with the mode-specific body shape.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"pagewatch/internal/llm"
	"pagewatch/internal/logging"
	"pagewatch/internal/orchestrator"
	"pagewatch/internal/types"
)

// Runner is the execution capability the handler needs. orchestrator.Orchestrator
// satisfies it.
type Runner interface {
	Run(ctx context.Context, task types.TaskInput) (*orchestrator.Response, error)
}

// Envelope is the API-gateway wrapping. The core only reads Body; the rest is
// kept for request logging.
type Envelope struct {
	Body           string            `json:"body"`
	Headers        map[string]string `json:"headers,omitempty"`
	HTTPMethod     string            `json:"httpMethod,omitempty"`
	RequestContext json.RawMessage   `json:"requestContext,omitempty"`
}

// LambdaResponse is the wire-level return shape.
type LambdaResponse struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// Handler turns raw payloads into orchestrator runs.
type Handler struct {
	runner Runner
}

// NewHandler creates a Handler over a runner.
func NewHandler(runner Runner) *Handler {
	return &Handler{runner: runner}
}

// ParseTaskInput decodes a TaskInput from raw JSON, unwrapping a gateway
// envelope when one is present. An envelope is recognized by a string-typed
// "body" field.
func ParseTaskInput(raw []byte) (types.TaskInput, error) {
	var task types.TaskInput

	var env Envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Body != "" {
		raw = []byte(env.Body)
	}
	if err := json.Unmarshal(raw, &task); err != nil {
		return task, types.NewValidationError("request body is not valid JSON")
	}
	return task, nil
}

// Handle runs one invocation end to end and always returns a renderable
// response; errors are folded into the status code and error body.
func (h *Handler) Handle(ctx context.Context, raw []byte) LambdaResponse {
	task, err := ParseTaskInput(raw)
	if err != nil {
		return errorResponse(err)
	}
	logging.API("task %q url=%s", task.TaskID, task.URL)

	resp, err := h.runner.Run(ctx, task)
	if err != nil {
		logging.APIErr("run failed: %v", err)
		return errorResponse(err)
	}

	status := http.StatusOK
	if resp.Status == types.StatusTimeout {
		status = http.StatusRequestTimeout
	}
	return jsonResponse(status, bodyFor(resp))
}

// ServeHTTP exposes the handler on POST. GET /healthz answers without
// touching the orchestrator.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && r.URL.Path == "/healthz" {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
		return
	}
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	lr := h.Handle(r.Context(), raw)
	for k, v := range lr.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(lr.StatusCode)
	_, _ = io.WriteString(w, lr.Body)
}

// statusForError maps the error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch types.CodeOf(err) {
	case types.CodeValidation:
		return http.StatusBadRequest
	case types.CodeNoCachedPlan:
		return http.StatusNotFound
	case types.CodePlanGeneration:
		return http.StatusUnprocessableEntity
	case types.CodeNavigationTimeout:
		return http.StatusRequestTimeout
	}
	var rate *llm.RateLimitedError
	if errors.As(err, &rate) {
		return http.StatusTooManyRequests
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func errorResponse(err error) LambdaResponse {
	body := map[string]interface{}{
		"success": false,
		"error":   errorObject(err),
	}
	return jsonResponse(statusForError(err), body)
}

func errorObject(err error) map[string]interface{} {
	obj := map[string]interface{}{"message": err.Error()}
	var ae *types.AppError
	if errors.As(err, &ae) {
		obj["code"] = ae.Code
		obj["message"] = ae.Message
		if ae.StepID != "" {
			obj["stepId"] = ae.StepID
		}
		if len(ae.Details) > 0 {
			obj["details"] = ae.Details
		}
	}
	return obj
}

func jsonResponse(status int, body interface{}) LambdaResponse {
	data, err := json.Marshal(body)
	if err != nil {
		logging.APIErr("response marshal failed: %v", err)
		return LambdaResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `{"success":false,"error":{"message":"response encoding failed"}}`,
		}
	}
	return LambdaResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(data),
	}
}
