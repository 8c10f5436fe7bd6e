package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"pagewatch/internal/agent"
	"pagewatch/internal/api"
	"pagewatch/internal/config"
	"pagewatch/internal/llm"
	"pagewatch/internal/logging"
	"pagewatch/internal/orchestrator"
	"pagewatch/internal/planner"
	"pagewatch/internal/prompt"
	"pagewatch/internal/store"
)

// Engine bundles the wired components for one process.
type Engine struct {
	Config  *config.Config
	Handler *api.Handler
	Cache   store.PlanCache
	Prompts *prompt.Store

	local *store.LocalStore
}

// Close releases the engine's resources.
func (e *Engine) Close() {
	if e.Prompts != nil {
		_ = e.Prompts.Close()
	}
	if e.local != nil {
		if err := e.local.Close(); err != nil {
			logger.Warn("closing store", zap.Error(err))
		}
	}
}

// buildEngine loads configuration and wires the full pipeline. DATABASE_URL
// selects the durable SQLite backend; without it the plan cache lives in
// memory and results are not persisted.
func buildEngine() (*Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if workspace != "" {
		cfg.Workspace = workspace
	}

	if err := logging.Initialize(cfg.Workspace, cfg.Debug || verbose, cfg.LogLevel); err != nil {
		logger.Warn("file logging unavailable", zap.Error(err))
	}
	logging.Boot("pagewatch starting, env=%s persistent=%v", cfg.Environment, cfg.Persistent())

	primary, fallback, err := llm.NewPair(cfg.LLM)
	if err != nil {
		return nil, err
	}

	prompts := prompt.NewStore(cfg.PromptDir)
	if cfg.PromptDir != "" {
		if err := prompts.Watch(); err != nil {
			logger.Warn("prompt hot reload unavailable", zap.Error(err))
		}
	}

	engine := &Engine{Config: cfg, Prompts: prompts}

	var cache store.PlanCache
	var results store.ResultStore
	if cfg.Persistent() {
		dbPath := cfg.DatabaseURL
		if dbPath == "auto" {
			dbPath = filepath.Join(cfg.Workspace, ".pagewatch", "pagewatch.db")
		}
		local, err := store.Open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		engine.local = local
		cache = local
		results = local
	} else {
		cache = store.NewMemoryCache()
	}
	engine.Cache = cache

	gen := planner.NewGenerator(primary, fallback, prompts)
	orch := orchestrator.New(cache, results, gen, primary, prompts, orchestrator.Config{
		CacheTTL: cfg.CacheTTL(),
		Agent:    agent.DefaultConfig(),
		Browser:  cfg.Browser,
	})
	engine.Handler = api.NewHandler(orch)
	return engine, nil
}

// signalContext derives a context cancelled by SIGINT/SIGTERM or the timeout.
func signalContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
