package capability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ledgerline/patternd/pkg/schema"
)

// Invocation wraps a capability result with execution metadata. The handler's
// payload shape is carried through untouched.
type Invocation struct {
	Capability string        `json:"capability"`
	HandlerID  string        `json:"handlerId"`
	Payload    any           `json:"payload"`
	Attempts   int           `json:"attempts"`
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"duration"`
}

// RuntimeConfig holds configuration for the Runtime.
type RuntimeConfig struct {
	Retry  RetryPolicy  // zero value = defaults
	Logger *slog.Logger // nil = slog.Default()
}

// RetryObserver is notified before each backoff wait when a transient
// failure is about to be retried.
type RetryObserver func(capability string, attempt int, delay time.Duration, err error)

type retryObserverKey struct{}

// WithRetryObserver returns a context whose capability invocations report
// retry attempts to obs. Used by the orchestrator to surface retries in the
// audit event log.
func WithRetryObserver(ctx context.Context, obs RetryObserver) context.Context {
	return context.WithValue(ctx, retryObserverKey{}, obs)
}

func retryObserverFrom(ctx context.Context) RetryObserver {
	obs, _ := ctx.Value(retryObserverKey{}).(RetryObserver)
	return obs
}

// Runtime executes single capability invocations uniformly: lookup, timing,
// bounded retry with exponential backoff, and error normalization.
type Runtime struct {
	registry *Registry
	policy   RetryPolicy
	logger   *slog.Logger
}

// NewRuntime creates a Runtime over a registry.
func NewRuntime(registry *Registry, cfg RuntimeConfig) *Runtime {
	policy := cfg.Retry
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultBaseDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{registry: registry, policy: policy, logger: logger}
}

// Registry exposes the underlying registry for listing and validation.
func (rt *Runtime) Registry() *Registry {
	return rt.registry
}

// Invoke executes one capability call. An unregistered capability fails
// immediately with CAPABILITY_NOT_FOUND and no handler is invoked. Transient
// handler failures are retried up to the policy bound; any other failure
// surfaces at once. Errors raised by handlers that are not EngineErrors are
// normalized as non-retryable handler failures.
func (rt *Runtime) Invoke(ctx context.Context, name string, req *schema.RequestContext, state schema.RunState, args map[string]any) (*Invocation, error) {
	binding, ok := rt.registry.Lookup(name)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeCapabilityNotFound,
			"capability %q not registered", name).
			WithDetails(map[string]any{"capability": name})
	}

	inv := &Invocation{
		Capability: name,
		HandlerID:  binding.HandlerID,
		StartedAt:  time.Now().UTC(),
	}

	var lastErr error
	for attempt := 1; attempt <= rt.policy.MaxAttempts; attempt++ {
		inv.Attempts = attempt

		payload, err := binding.Fn(ctx, req, state, args)
		if err == nil {
			inv.Payload = payload
			inv.Duration = time.Since(inv.StartedAt)
			return inv, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			break
		}
		if attempt == rt.policy.MaxAttempts {
			break
		}

		delay := rt.policy.Backoff(attempt)
		if obs := retryObserverFrom(ctx); obs != nil {
			obs(name, attempt, delay, err)
		}
		rt.logger.WarnContext(ctx, "capability invocation failed, retrying",
			slog.String("capability", name),
			slog.String("handler_id", binding.HandlerID),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()))

		if waitErr := WaitForBackoff(ctx, delay); waitErr != nil {
			inv.Duration = time.Since(inv.StartedAt)
			return inv, schema.NewErrorf(schema.ErrCodeCancelled,
				"invocation cancelled while backing off before retry of %q", name).
				WithCause(waitErr)
		}
	}

	inv.Duration = time.Since(inv.StartedAt)
	return inv, rt.normalizeFailure(name, lastErr)
}

// normalizeFailure converts the terminal handler error into the structured
// form surfaced to the interpreter.
func (rt *Runtime) normalizeFailure(name string, err error) error {
	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		if engErr.IsRetryable() {
			return schema.NewErrorf(schema.ErrCodeRetryExhausted,
				"capability %q failed after %d attempts: %s", name, rt.policy.MaxAttempts, engErr.Message).
				WithCause(err).
				WithDetails(map[string]any{"capability": name, "attempts": rt.policy.MaxAttempts})
		}
		return engErr
	}
	return schema.NewErrorf(schema.ErrCodeNonRetryable,
		"capability %q failed: %s", name, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"capability": name})
}
