package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"

	"github.com/ledgerline/patternd/internal/capability"
	"github.com/ledgerline/patternd/internal/handlers"
	"github.com/ledgerline/patternd/internal/loader"
	"github.com/ledgerline/patternd/internal/logging"
	"github.com/ledgerline/patternd/internal/orchestrator"
	"github.com/ledgerline/patternd/internal/store"
	"github.com/ledgerline/patternd/pkg/schema"
)

// App bundles the wired engine components for the CLI commands.
type App struct {
	cfg         *Config
	logger      *slog.Logger
	library     *loader.Loader
	registry    *capability.Registry
	interpreter *orchestrator.Interpreter

	// audit persistence, nil when db_path is unset
	auditStore *store.LibSQLStore
	eventLog   *store.EventLog
}

// newApp wires the engine: logger, pattern library, capability registry with
// builtins, runtime, optional audit store, and the interpreter.
func newApp(ctx context.Context, cfg *Config) (*App, error) {
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	lib, err := loader.New(cfg.PatternsDir, logger)
	if err != nil {
		return nil, err
	}
	if err := lib.Load(); err != nil {
		return nil, err
	}

	registry := capability.NewRegistry()
	if err := handlers.RegisterBuiltin(registry); err != nil {
		return nil, err
	}

	runtime := capability.NewRuntime(registry, capability.RuntimeConfig{
		Retry: capability.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		},
		Logger: logger,
	})

	app := &App{
		cfg:      cfg,
		logger:   logger,
		library:  lib,
		registry: registry,
	}

	var events orchestrator.EventSink
	if cfg.DBPath != "" {
		auditStore, err := store.NewLibSQLStore(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		if err := auditStore.Migrate(ctx); err != nil {
			auditStore.Close()
			return nil, err
		}
		app.auditStore = auditStore
		app.eventLog = store.NewEventLog(auditStore)
		events = app.eventLog
	}

	interpreter, err := orchestrator.New(runtime, lib, orchestrator.Options{
		StrictValidation:  cfg.StrictValidation,
		InvocationTimeout: cfg.InvocationTimeout,
		RedactKeys:        cfg.RedactKeys,
		Logger:            logger,
		Events:            events,
	})
	if err != nil {
		if app.auditStore != nil {
			app.auditStore.Close()
		}
		return nil, err
	}
	app.interpreter = interpreter
	return app, nil
}

// Close releases held resources.
func (a *App) Close() {
	if a.auditStore != nil {
		if err := a.auditStore.Close(); err != nil {
			a.logger.Warn("closing audit store", slog.String("error", err.Error()))
		}
	}
}

// Run executes one pattern invocation and records the audit row when
// persistence is configured.
func (a *App) Run(ctx context.Context, patternID string, inputs map[string]any, req *schema.RequestContext) (*orchestrator.Result, error) {
	result, err := a.interpreter.Run(ctx, patternID, inputs, req)
	if err != nil {
		return nil, err
	}
	a.recordInvocation(ctx, result, inputs, req)
	return result, nil
}

// RunPattern satisfies scheduler.PatternRunner.
func (a *App) RunPattern(ctx context.Context, patternID string, inputs map[string]any, req *schema.RequestContext) error {
	result, err := a.Run(ctx, patternID, inputs, req)
	if err != nil {
		return err
	}
	if result.Error != nil {
		return schema.NewError(result.Error.Code, result.Error.Message).
			WithDetails(map[string]any{"step": result.Error.Step, "capability": result.Error.Capability})
	}
	return nil
}

// recordInvocation persists the invocation summary row, best-effort.
func (a *App) recordInvocation(ctx context.Context, result *orchestrator.Result, inputs map[string]any, req *schema.RequestContext) {
	if a.auditStore == nil {
		return
	}

	inv := &store.Invocation{
		ID:        result.InvocationID,
		PatternID: result.PatternID,
		Status:    result.Status,
		Inputs:    inputs,
		StartedAt: result.StartedAt,
	}
	if req != nil {
		inv.TraceID = req.TraceID
	}
	if !result.CompletedAt.IsZero() {
		completed := result.CompletedAt
		inv.CompletedAt = &completed
	}
	if result.Outputs != nil {
		if raw, err := json.Marshal(result.Outputs); err == nil {
			inv.Outputs = raw
		}
	}
	if result.Error != nil {
		if raw, err := json.Marshal(result.Error); err == nil {
			inv.Error = raw
		}
	}

	if err := a.auditStore.CreateInvocation(ctx, inv); err != nil {
		a.logger.Warn("recording invocation failed",
			slog.String("invocation_id", result.InvocationID),
			slog.String("error", err.Error()))
	}
}

// newLogger builds the process logger: leveled, text or JSON, with correlation
// ids injected from the request context.
func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if strings.ToLower(cfg.LogFormat) == "json" {
		inner = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		inner = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(logging.NewCorrelationHandler(inner))
}
