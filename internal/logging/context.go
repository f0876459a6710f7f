package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	patternIDKey ctxKey = iota
	stepAliasKey
	traceIDKey
)

// WithPatternID returns a context with the pattern ID set.
func WithPatternID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, patternIDKey, id)
}

// WithStepAlias returns a context with the step alias set.
func WithStepAlias(ctx context.Context, alias string) context.Context {
	return context.WithValue(ctx, stepAliasKey, alias)
}

// WithTraceID returns a context with the trace ID set.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

// PatternID extracts the pattern ID from the context, or "" if absent.
func PatternID(ctx context.Context) string {
	v, _ := ctx.Value(patternIDKey).(string)
	return v
}

// StepAlias extracts the step alias from the context, or "" if absent.
func StepAlias(ctx context.Context) string {
	v, _ := ctx.Value(stepAliasKey).(string)
	return v
}

// TraceID extracts the trace ID from the context, or "" if absent.
func TraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record. Use with
// slog.New(NewCorrelationHandler(inner)) so callers can log with
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := PatternID(ctx); v != "" {
		r.AddAttrs(slog.String("pattern_id", v))
	}
	if v := StepAlias(ctx); v != "" {
		r.AddAttrs(slog.String("step", v))
	}
	if v := TraceID(ctx); v != "" {
		r.AddAttrs(slog.String("trace_id", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
