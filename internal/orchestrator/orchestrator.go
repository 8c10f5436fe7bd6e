// Package orchestrator routes a task through the execution modes: cached
// replay, the interactive loop, plan generation, and failure-driven
// regeneration. It owns the browser session lifecycle and the persistence
// ordering (result, then sample, then change record).
package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"pagewatch/internal/agent"
	"pagewatch/internal/browser"
	"pagewatch/internal/config"
	"pagewatch/internal/llm"
	"pagewatch/internal/logging"
	"pagewatch/internal/monitor"
	"pagewatch/internal/planner"
	"pagewatch/internal/prompt"
	"pagewatch/internal/store"
	"pagewatch/internal/types"
)

const (
	// DefaultDeadline bounds an invocation when the task carries no timeout.
	DefaultDeadline = 60 * time.Second
	// MaxInstructionLen caps the instruction length accepted from callers.
	MaxInstructionLen = 2000
)

// Session is the browser capability the orchestrator needs. browser.Session
// satisfies it.
type Session interface {
	agent.Browser
	Execute(ctx context.Context, plan *types.Plan, opts browser.ExecuteOptions) (*types.ExecutionResult, error)
	PageText(ctx context.Context) (string, error)
	Stop()
}

// PlanSource generates plans. planner.Generator satisfies it.
type PlanSource interface {
	GeneratePlanWithFallback(ctx context.Context, in planner.Input) *planner.Result
}

// InteractiveRunner drives the interactive loop. agent.Agent satisfies it.
type InteractiveRunner interface {
	ExecuteInteractively(ctx context.Context, task types.TaskInput) (*agent.Result, error)
}

// Config tunes the orchestrator.
type Config struct {
	CacheTTL time.Duration
	Agent    agent.Config
	Browser  config.BrowserConfig
}

// Orchestrator coordinates one task invocation at a time.
type Orchestrator struct {
	cache    store.PlanCache
	results  store.ResultStore // nil when running without a database
	planner  PlanSource
	detector *monitor.Detector
	cfg      Config
	group    singleflight.Group

	newSession func(task types.TaskInput) Session
	newAgent   func(s Session) InteractiveRunner
}

// New wires an orchestrator with real browser sessions and agents.
func New(cache store.PlanCache, results store.ResultStore, gen PlanSource, client llm.Client, prompts *prompt.Store, cfg Config) *Orchestrator {
	o := &Orchestrator{
		cache:    cache,
		results:  results,
		planner:  gen,
		detector: monitor.NewDetector(),
		cfg:      cfg,
	}
	o.newSession = func(task types.TaskInput) Session {
		opts := browser.SessionOptions{}
		if task.Options != nil {
			opts.Viewport = task.Options.Viewport
			opts.UserAgent = task.Options.UserAgent
			opts.Headers = task.Options.Headers
		}
		return browser.NewSession(cfg.Browser, opts)
	}
	o.newAgent = func(s Session) InteractiveRunner {
		agentCfg := cfg.Agent
		return agent.New(s, client, prompts, agentCfg)
	}
	return o
}

// Run executes one task end to end. Errors are returned only for input
// problems (validation, missing plan) and fatal internal failures; browser
// and escalation outcomes come back inside the Response.
func (o *Orchestrator) Run(ctx context.Context, task types.TaskInput) (*Response, error) {
	started := time.Now()

	if err := task.Validate(MaxInstructionLen); err != nil {
		return nil, err
	}

	if _, has := ctx.Deadline(); !has {
		deadline := DefaultDeadline
		if task.Options != nil && task.Options.TimeoutMs > 0 {
			deadline = time.Duration(task.Options.TimeoutMs) * time.Millisecond
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	sig := types.TaskSignature(task.Instruction, task.URL)
	mode := task.Mode()
	logging.Orchestrator("task %q mode=%s signature=%q", task.TaskID, mode, sig)

	resp, err := o.route(ctx, task, sig, mode)
	if resp != nil {
		resp.TaskSignature = sig
		resp.ExecutionTimeMs = time.Since(started).Milliseconds()
	}
	return resp, err
}

func (o *Orchestrator) route(ctx context.Context, task types.TaskInput, sig string, mode types.ExecutionMode) (*Response, error) {
	opts := task.Options
	if opts != nil && opts.PlanOnly {
		return o.runPlanOnly(ctx, task, sig)
	}
	if opts != nil && opts.ExecutionOnly {
		return o.runExecutionOnly(ctx, task, sig)
	}

	// A cached plan short-circuits the interactive loop in interactive and
	// auto modes.
	if mode == types.ModeInteractive || mode == types.ModeAuto {
		forceNew := opts != nil && opts.ForceNewPlan
		if !forceNew {
			if plan := o.cache.Get(ctx, sig); plan != nil {
				logging.Orchestrator("cache hit, replaying plan %s", plan.ID)
				return o.replayAndPersist(ctx, task, plan, replayOptions{cacheHit: true, allowRegen: true})
			}
		}

		resp, fellThrough := o.runInteractive(ctx, task, sig, mode)
		if !fellThrough {
			return resp, nil
		}
		logging.Orchestrator("interactive run escalated, falling back to plan mode")
	}

	return o.runPlanMode(ctx, task, sig)
}

// runPlanOnly generates and caches a plan without executing it.
func (o *Orchestrator) runPlanOnly(ctx context.Context, task types.TaskInput, sig string) (*Response, error) {
	gen, err := o.generatePlan(ctx, task, sig, "")
	if err != nil {
		return nil, err
	}
	o.cache.Put(ctx, gen.Plan, o.cfg.CacheTTL)

	return &Response{
		Success: true,
		Mode:    ModePlanOnly,
		PlanID:  gen.Plan.ID,
		PlanDetails: &PlanDetails{
			Steps:               summarizeSteps(gen.Plan.Steps),
			EstimatedDurationMs: gen.Plan.Metadata.EstimatedDurationMs,
			Confidence:          gen.Confidence,
			Reasoning:           gen.Reasoning,
		},
		Usage:         gen.Usage,
		PlanGenerated: true,
		Message:       "plan generated and cached",
	}, nil
}

// runExecutionOnly replays an existing plan; it never generates one.
func (o *Orchestrator) runExecutionOnly(ctx context.Context, task types.TaskInput, sig string) (*Response, error) {
	var plan *types.Plan
	if task.Options != nil && task.Options.PlanID != "" {
		plan = o.cache.GetByID(ctx, task.Options.PlanID)
	} else {
		plan = o.cache.Get(ctx, sig)
	}
	if plan == nil {
		return nil, types.NewNoCachedPlan(sig)
	}
	return o.replayAndPersist(ctx, task, plan, replayOptions{cacheHit: true, allowRegen: false})
}

// runInteractive drives the agent loop. Returns fellThrough=true when the
// run escalated and auto mode should continue into plan mode.
func (o *Orchestrator) runInteractive(ctx context.Context, task types.TaskInput, sig string, mode types.ExecutionMode) (*Response, bool) {
	session := o.newSession(task)
	defer session.Stop()

	runner := o.newAgent(session)
	result, err := runner.ExecuteInteractively(ctx, task)
	if err != nil {
		if ctx.Err() != nil {
			return interactiveResponse(result, "", types.StatusTimeout), false
		}
		logging.OrchestratorError("interactive run failed: %v", err)
		result.EscalatedToHuman = true
		if result.EscalationReason == "" {
			result.EscalationReason = err.Error()
		}
	}

	if result.Success && result.GeneratedPlan != nil {
		o.cache.Put(ctx, result.GeneratedPlan, o.cfg.CacheTTL)
		executionID := uuid.NewString()
		o.persist(ctx, task, interactiveExecutionResult(task, result), executionID)
		resp := interactiveResponse(result, result.GeneratedPlan.ID, types.StatusSuccess)
		resp.ExecutionID = executionID
		return resp, false
	}

	if mode == types.ModeAuto {
		return nil, true
	}

	// escalation: recoverable from the caller's perspective
	executionID := uuid.NewString()
	o.persist(ctx, task, interactiveExecutionResult(task, result), executionID)
	resp := interactiveResponse(result, "", types.StatusFailed)
	resp.ExecutionID = executionID
	return resp, false
}

// runPlanMode looks up or generates a plan, then replays it.
func (o *Orchestrator) runPlanMode(ctx context.Context, task types.TaskInput, sig string) (*Response, error) {
	forceNew := task.Options != nil && task.Options.ForceNewPlan

	var plan *types.Plan
	cacheHit := false
	planGenerated := false
	var usage llm.Usage

	if !forceNew {
		if plan = o.cache.Get(ctx, sig); plan != nil {
			cacheHit = true
		}
	}
	if plan == nil {
		gen, err := o.generatePlan(ctx, task, sig, "")
		if err != nil {
			return nil, err
		}
		plan = gen.Plan
		usage = gen.Usage
		planGenerated = true
		o.cache.Put(ctx, plan, o.cfg.CacheTTL)
	}

	resp, err := o.replayAndPersist(ctx, task, plan, replayOptions{cacheHit: cacheHit, allowRegen: true})
	if resp != nil {
		resp.PlanGenerated = planGenerated
		resp.Usage.Add(usage)
	}
	return resp, err
}

// generatePlan runs the planner behind a singleflight group so concurrent
// invocations for the same signature share one LLM call.
func (o *Orchestrator) generatePlan(ctx context.Context, task types.TaskInput, sig, pageText string) (*planner.Result, error) {
	key := sig
	if pageText != "" {
		// regeneration carries page context; don't share its flight
		key = sig + "#regen"
	}
	v, err, _ := o.group.Do(key, func() (interface{}, error) {
		return o.planner.GeneratePlanWithFallback(ctx, planner.Input{
			Instruction: task.Instruction,
			URL:         task.URL,
			PageText:    pageText,
		}), nil
	})
	if err != nil {
		return nil, types.NewPlanGenerationError("plan generation failed", err)
	}
	gen := v.(*planner.Result)
	if !gen.Success || gen.Plan == nil {
		return nil, types.NewPlanGenerationError(gen.Error, nil)
	}
	return gen, nil
}
