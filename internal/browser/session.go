// Package browser owns one logical Chrome tab: deterministic step primitives,
// plan replay with retries and validation, and point-in-time state capture for
// the interactive loop.
package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"pagewatch/internal/config"
	"pagewatch/internal/logging"
	"pagewatch/internal/types"
)

const (
	// maxDOMBytes bounds captureState's DOM snapshot.
	maxDOMBytes = 100 * 1024
	// maxPageTextBytes bounds pageText output.
	maxPageTextBytes = 3 * 1024
	// screenshotQuality for JPEG viewport captures.
	screenshotQuality = 80
)

// SessionOptions carries per-task overrides on top of the static config.
type SessionOptions struct {
	Viewport  *types.Viewport
	UserAgent string
	Headers   map[string]string
}

// ExecuteOptions modifies plan replay behavior.
type ExecuteOptions struct {
	// SkipCleanup leaves the tab open after the run. The interactive agent
	// sets this because it owns the tab lifecycle across iterations.
	SkipCleanup bool
}

// Session is one browser tab. Start is idempotent; Stop must run on every
// exit path including timeouts.
type Session struct {
	cfg  config.BrowserConfig
	opts SessionOptions

	mu       sync.Mutex
	launched *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	viewport types.Viewport
}

// NewSession creates a session. Nothing is launched until Start.
func NewSession(cfg config.BrowserConfig, opts SessionOptions) *Session {
	return &Session{cfg: cfg, opts: opts}
}

// Start launches (or reuses) the browser and opens the tab. Subsequent calls
// reuse the existing tab.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page != nil {
		// Verify the connection is still alive before reusing it.
		if _, err := s.browser.Version(); err == nil {
			return nil
		}
		logging.BrowserWarn("stale browser connection, relaunching")
		s.closeLocked()
	}

	launch := launcher.New().Headless(s.cfg.Headless)
	if s.cfg.Bin != "" {
		launch = launch.Bin(s.cfg.Bin)
	}
	controlURL, err := launch.Launch()
	if err != nil {
		return &types.AppError{
			Code:    types.CodeBrowserExecution,
			Message: "browser launch failed",
			Err:     err,
		}
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		launch.Cleanup()
		return &types.AppError{
			Code:    types.CodeBrowserExecution,
			Message: "browser connect failed",
			Err:     err,
		}
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		launch.Cleanup()
		return &types.AppError{
			Code:    types.CodeBrowserExecution,
			Message: "create page failed",
			Err:     err,
		}
	}

	vp := types.Viewport{Width: s.cfg.ViewportWidth, Height: s.cfg.ViewportHeight}
	if s.opts.Viewport != nil && s.opts.Viewport.Width > 0 && s.opts.Viewport.Height > 0 {
		vp = *s.opts.Viewport
	}
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.BrowserWarn("set viewport: %v", err)
	}

	ua := s.opts.UserAgent
	if ua == "" {
		ua = s.cfg.UserAgent
	}
	if ua != "" {
		if err := (proto.NetworkSetUserAgentOverride{UserAgent: ua}).Call(page); err != nil {
			logging.BrowserWarn("set user agent: %v", err)
		}
	}
	if len(s.opts.Headers) > 0 {
		headers := make([]string, 0, len(s.opts.Headers)*2)
		for k, v := range s.opts.Headers {
			headers = append(headers, k, v)
		}
		if _, err := page.SetExtraHeaders(headers); err != nil {
			logging.BrowserWarn("set extra headers: %v", err)
		}
	}

	s.launched = launch
	s.browser = browser
	s.page = page
	s.viewport = vp
	logging.Browser("session started headless=%v viewport=%dx%d", s.cfg.Headless, vp.Width, vp.Height)
	return nil
}

// Stop releases the tab, browser connection and process.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if s.page != nil {
		_ = s.page.Close()
		s.page = nil
	}
	if s.browser != nil {
		_ = s.browser.Close()
		s.browser = nil
	}
	if s.launched != nil {
		s.launched.Cleanup()
		s.launched = nil
	}
}

func (s *Session) currentPage() (*rod.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return nil, errors.New("session not started")
	}
	return s.page, nil
}

// CurrentURL returns the tab's URL, or "" when unavailable.
func (s *Session) CurrentURL() string {
	page, err := s.currentPage()
	if err != nil {
		return ""
	}
	info, err := page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Viewport returns the active viewport.
func (s *Session) Viewport() types.Viewport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewport
}

// Execute replays a plan. The returned ExecutionResult always has Status set;
// the error return is reserved for programming errors (nil plan, no steps).
func (s *Session) Execute(ctx context.Context, plan *types.Plan, opts ExecuteOptions) (*types.ExecutionResult, error) {
	if plan == nil || len(plan.Steps) == 0 {
		return nil, errors.New("plan has no steps")
	}

	timer := logging.StartTimer(logging.CategoryBrowser, fmt.Sprintf("execute plan %s", plan.ID))
	started := time.Now()

	result := &types.ExecutionResult{
		PlanID:    plan.ID,
		Status:    types.StatusSuccess,
		Logs:      []string{},
		CreatedAt: started,
		Metrics:   types.ExecutionMetrics{StepsTotal: len(plan.Steps)},
	}

	defer func() {
		if r := recover(); r != nil {
			result.Status = types.StatusError
			result.Error = &types.ExecutionError{Message: fmt.Sprintf("panic: %v", r)}
			logging.BrowserError("panic during plan replay: %v", r)
		}
		result.Metrics.ExecutionTimeMs = time.Since(started).Milliseconds()
		if !opts.SkipCleanup {
			s.Stop()
		}
		timer.Stop()
	}()

	if err := s.Start(ctx); err != nil {
		result.Status = types.StatusError
		result.Error = &types.ExecutionError{Message: err.Error()}
		result.Logs = append(result.Logs, "browser start failed: "+err.Error())
		return result, nil
	}

	extracted := make(map[string]interface{})

	for _, step := range plan.Steps {
		if ctx.Err() != nil {
			result.Status = types.StatusTimeout
			result.Error = &types.ExecutionError{Message: "deadline exceeded", Step: step.ID}
			result.Logs = append(result.Logs, "deadline exceeded before step "+step.ID)
			return result, nil
		}

		outcome := s.runStepWithRetries(ctx, step, plan.ErrorHandling)
		result.Metrics.RetryCount += outcome.Retries
		result.Logs = append(result.Logs, stepLogLine(step, outcome))

		if outcome.Skipped {
			result.Metrics.StepsCompleted++
			continue
		}
		if !outcome.Success {
			if step.Optional {
				logging.BrowserWarn("optional step %s failed: %s", step.ID, outcome.Error)
				result.Metrics.StepsCompleted++
				continue
			}
			result.Status = classifyFailure(outcome.Error)
			result.Error = &types.ExecutionError{Message: outcome.Error, Step: step.ID}
			return result, nil
		}

		result.Metrics.StepsCompleted++
		if step.Type == types.StepExtract && outcome.Result != nil {
			key := step.ID
			if step.Selector != "" {
				key = step.Selector
			}
			extracted[key] = outcome.Result
		}
		if step.Type == types.StepScreenshot {
			if shot, ok := outcome.Result.(string); ok && shot != "" {
				result.Screenshots = append(result.Screenshots, shot)
			}
		}
	}

	if len(extracted) > 0 {
		result.ExtractedData = extracted
	}

	if violated, err := s.validate(ctx, plan.Validation); err != nil {
		result.Status = types.StatusError
		result.Error = &types.ExecutionError{Message: "validation error: " + err.Error()}
	} else if violated != "" {
		result.Status = types.StatusFailed
		result.Error = &types.ExecutionError{Message: "validation failed: " + violated}
		result.Logs = append(result.Logs, "validation failed: "+violated)
	}
	return result, nil
}

// ExecuteStep runs one step with retries, for the interactive loop. The
// session must already be started.
func (s *Session) ExecuteStep(ctx context.Context, step types.Step) types.StepOutcome {
	return s.runStepWithRetries(ctx, step, types.ErrorHandling{})
}

// runStepWithRetries applies the condition check, then the retry loop with a
// 1000*attempt ms backoff between attempts.
func (s *Session) runStepWithRetries(ctx context.Context, step types.Step, eh types.ErrorHandling) types.StepOutcome {
	started := time.Now()
	outcome := types.StepOutcome{StepID: step.ID}

	if step.Condition != "" {
		ok, err := s.evalCondition(ctx, step.Condition)
		if err != nil {
			logging.BrowserWarn("condition for step %s errored, treating as falsy: %v", step.ID, err)
		}
		if !ok {
			outcome.Skipped = true
			outcome.Success = true
			outcome.DurationMs = time.Since(started).Milliseconds()
			logging.BrowserDebug("step %s skipped by condition", step.ID)
			return outcome
		}
	}

	retries := step.Retries
	if retries <= 0 {
		retries = eh.RetryCount
	}
	if retries <= 0 {
		retries = 3
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		result, err := s.runStep(ctx, step)
		if err == nil {
			outcome.Success = true
			outcome.Result = result
			outcome.Retries = attempt - 1
			break
		}
		lastErr = err
		outcome.Retries = attempt - 1
		logging.BrowserDebug("step %s attempt %d/%d failed: %v", step.ID, attempt, retries, err)
		if attempt < retries {
			select {
			case <-time.After(time.Duration(1000*attempt) * time.Millisecond):
			case <-ctx.Done():
				lastErr = ctx.Err()
				attempt = retries
			}
		}
	}

	if !outcome.Success && lastErr != nil {
		outcome.Error = lastErr.Error()
	}

	if outcome.Success && step.WaitAfterMs > 0 {
		select {
		case <-time.After(time.Duration(step.WaitAfterMs) * time.Millisecond):
		case <-ctx.Done():
		}
	}
	outcome.DurationMs = time.Since(started).Milliseconds()
	return outcome
}

// validate evaluates success and failure criteria in page context. Returns
// the first violated criterion, or "". Failure-criterion evaluation errors
// are treated as falsy.
func (s *Session) validate(ctx context.Context, v types.Validation) (string, error) {
	for _, criterion := range v.SuccessCriteria {
		if !isPageExpression(criterion) {
			continue
		}
		ok, err := s.evalCondition(ctx, criterion)
		if err != nil {
			return "", fmt.Errorf("success criterion %q: %w", criterion, err)
		}
		if !ok {
			return criterion, nil
		}
	}
	for _, criterion := range v.FailureCriteria {
		if !isPageExpression(criterion) {
			continue
		}
		ok, err := s.evalCondition(ctx, criterion)
		if err != nil {
			continue
		}
		if ok {
			return criterion, nil
		}
	}
	return "", nil
}

// isPageExpression distinguishes evaluable JS expressions from the
// human-readable criteria strings that promoted plans carry.
func isPageExpression(criterion string) bool {
	return strings.ContainsAny(criterion, "().!=<>[]") &&
		!strings.Contains(criterion, " steps ") &&
		!strings.HasPrefix(criterion, "All ") &&
		!strings.HasPrefix(criterion, "Any ")
}

func (s *Session) evalCondition(ctx context.Context, expr string) (bool, error) {
	page, err := s.currentPage()
	if err != nil {
		return false, err
	}
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      fmt.Sprintf("() => { try { return !!(%s); } catch (e) { return false; } }", expr),
		ByValue: true,
	})
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

// CaptureState snapshots url, DOM, screenshot and viewport. Failures never
// abort the capture: partial state is returned with Error set.
func (s *Session) CaptureState(ctx context.Context) types.BrowserState {
	state := types.BrowserState{
		Viewport:   s.Viewport(),
		CapturedAt: time.Now(),
	}

	page, err := s.currentPage()
	if err != nil {
		state.Error = err.Error()
		return state
	}
	page = page.Context(ctx)

	if info, err := page.Info(); err == nil {
		state.URL = info.URL
	} else {
		state.Error = appendCaptureError(state.Error, "url: "+err.Error())
	}

	dom, err := s.captureDOM(page)
	if err != nil {
		state.Error = appendCaptureError(state.Error, "dom: "+err.Error())
	} else {
		state.DOM = dom
	}

	quality := screenshotQuality
	shot, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: &quality,
	})
	if err != nil {
		state.Error = appendCaptureError(state.Error, "screenshot: "+err.Error())
	} else {
		state.Screenshot = base64.StdEncoding.EncodeToString(shot)
	}
	return state
}

// captureDOM prefers the body's HTML and bounds the snapshot at 100kB.
func (s *Session) captureDOM(page *rod.Page) (string, error) {
	res, err := page.Evaluate(&rod.EvalOptions{
		JS: `() => {
			const el = document.body || document.documentElement;
			return el ? el.outerHTML : '';
		}`,
		ByValue: true,
	})
	if err != nil {
		return "", err
	}
	dom := res.Value.Str()
	if len(dom) > maxDOMBytes {
		dom = dom[:maxDOMBytes]
	}
	return dom, nil
}

// PageText returns sanitized visible text, scripts and styles stripped,
// bounded at 3kB. Used as regeneration context for the planner.
func (s *Session) PageText(ctx context.Context) (string, error) {
	page, err := s.currentPage()
	if err != nil {
		return "", err
	}
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:      `() => document.documentElement ? document.documentElement.outerHTML : ''`,
		ByValue: true,
	})
	if err != nil {
		return "", err
	}
	return sanitizeHTML(res.Value.Str(), maxPageTextBytes), nil
}

func appendCaptureError(existing, msg string) string {
	if existing == "" {
		return msg
	}
	return existing + "; " + msg
}

func stepLogLine(step types.Step, outcome types.StepOutcome) string {
	switch {
	case outcome.Skipped:
		return fmt.Sprintf("step %s (%s) skipped by condition", step.ID, step.Type)
	case outcome.Success:
		return fmt.Sprintf("step %s (%s) ok in %dms", step.ID, step.Type, outcome.DurationMs)
	default:
		return fmt.Sprintf("step %s (%s) failed: %s", step.ID, step.Type, outcome.Error)
	}
}

// classifyFailure maps a step error message to an execution status. Network
// navigation timeouts are a distinct status so the gateway can answer 408.
func classifyFailure(errMsg string) types.ExecutionStatus {
	lower := strings.ToLower(errMsg)
	if strings.Contains(lower, "context deadline exceeded") ||
		strings.Contains(lower, "navigation timeout") {
		return types.StatusTimeout
	}
	return types.StatusFailed
}
