package capability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/patternd/pkg/schema"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
}

func testContext() *schema.RequestContext {
	return schema.NewRequestContext("snap-1", "ledger-1")
}

func TestRuntime_InvokeSuccess(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewHandler("echo-svc", map[string]Func{
		"echo.value": func(ctx context.Context, req *schema.RequestContext, state schema.RunState, args map[string]any) (any, error) {
			return map[string]any{"value": args["x"]}, nil
		},
	})))

	rt := NewRuntime(reg, RuntimeConfig{Retry: fastPolicy()})
	inv, err := rt.Invoke(context.Background(), "echo.value", testContext(), schema.NewRunState(nil), map[string]any{"x": 5})
	require.NoError(t, err)

	assert.Equal(t, "echo.value", inv.Capability)
	assert.Equal(t, "echo-svc", inv.HandlerID)
	assert.Equal(t, 1, inv.Attempts)
	assert.Equal(t, map[string]any{"value": 5}, inv.Payload)
	assert.GreaterOrEqual(t, inv.Duration, time.Duration(0))
}

func TestRuntime_CapabilityNotFound(t *testing.T) {
	invoked := int32(0)
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewHandler("svc", map[string]Func{
		"real.op": func(ctx context.Context, req *schema.RequestContext, state schema.RunState, args map[string]any) (any, error) {
			atomic.AddInt32(&invoked, 1)
			return nil, nil
		},
	})))

	rt := NewRuntime(reg, RuntimeConfig{Retry: fastPolicy()})
	_, err := rt.Invoke(context.Background(), "missing.op", testContext(), schema.NewRunState(nil), nil)
	require.Error(t, err)

	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeCapabilityNotFound, engErr.Code)
	assert.Equal(t, int32(0), atomic.LoadInt32(&invoked), "no handler may run for an unknown capability")
}

func TestRuntime_RetryableExhaustsBound(t *testing.T) {
	calls := int32(0)
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewHandler("flaky-svc", map[string]Func{
		"pricing.quote": func(ctx context.Context, req *schema.RequestContext, state schema.RunState, args map[string]any) (any, error) {
			atomic.AddInt32(&calls, 1)
			return nil, schema.Retryablef("pricing feed unavailable")
		},
	})))

	rt := NewRuntime(reg, RuntimeConfig{Retry: fastPolicy()})
	inv, err := rt.Invoke(context.Background(), "pricing.quote", testContext(), schema.NewRunState(nil), nil)
	require.Error(t, err)

	// Exactly MaxAttempts handler executions, then abort.
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, 3, inv.Attempts)

	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeRetryExhausted, engErr.Code)
}

func TestRuntime_RetryableRecoversMidway(t *testing.T) {
	calls := int32(0)
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewHandler("flaky-svc", map[string]Func{
		"pricing.quote": func(ctx context.Context, req *schema.RequestContext, state schema.RunState, args map[string]any) (any, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return nil, schema.Retryablef("transient")
			}
			return map[string]any{"price": 101.25}, nil
		},
	})))

	rt := NewRuntime(reg, RuntimeConfig{Retry: fastPolicy()})
	inv, err := rt.Invoke(context.Background(), "pricing.quote", testContext(), schema.NewRunState(nil), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, inv.Attempts)
	assert.Equal(t, map[string]any{"price": 101.25}, inv.Payload)
}

func TestRuntime_RetryObserverNotifiedPerBackoff(t *testing.T) {
	calls := int32(0)
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewHandler("flaky-svc", map[string]Func{
		"pricing.quote": func(ctx context.Context, req *schema.RequestContext, state schema.RunState, args map[string]any) (any, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return nil, schema.Retryablef("transient")
			}
			return "ok", nil
		},
	})))

	var attempts []int
	ctx := WithRetryObserver(context.Background(), func(capability string, attempt int, delay time.Duration, err error) {
		assert.Equal(t, "pricing.quote", capability)
		assert.Positive(t, delay)
		assert.Error(t, err)
		attempts = append(attempts, attempt)
	})

	rt := NewRuntime(reg, RuntimeConfig{Retry: fastPolicy()})
	inv, err := rt.Invoke(ctx, "pricing.quote", testContext(), schema.NewRunState(nil), nil)
	require.NoError(t, err)

	// One notification per backoff wait; the final, successful attempt has none.
	assert.Equal(t, []int{1, 2}, attempts)
	assert.Equal(t, 3, inv.Attempts)
}

func TestRuntime_NonRetryableFailsImmediately(t *testing.T) {
	calls := int32(0)
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewHandler("svc", map[string]Func{
		"ratings.score": func(ctx context.Context, req *schema.RequestContext, state schema.RunState, args map[string]any) (any, error) {
			atomic.AddInt32(&calls, 1)
			return nil, errors.New("bad input shape")
		},
	})))

	rt := NewRuntime(reg, RuntimeConfig{Retry: fastPolicy()})
	_, err := rt.Invoke(context.Background(), "ratings.score", testContext(), schema.NewRunState(nil), nil)
	require.Error(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNonRetryable, engErr.Code)
}

func TestRuntime_CancelDuringBackoff(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewHandler("svc", map[string]Func{
		"slow.op": func(ctx context.Context, req *schema.RequestContext, state schema.RunState, args map[string]any) (any, error) {
			return nil, schema.Retryablef("transient")
		},
	})))

	rt := NewRuntime(reg, RuntimeConfig{Retry: RetryPolicy{MaxAttempts: 3, BaseDelay: time.Minute}})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := rt.Invoke(ctx, "slow.op", testContext(), schema.NewRunState(nil), nil)
	require.Error(t, err)

	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeCancelled, engErr.Code)
}

func TestRuntime_StateVisibleToHandlers(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewHandler("svc", map[string]Func{
		"report.render": func(ctx context.Context, req *schema.RequestContext, state schema.RunState, args map[string]any) (any, error) {
			valued, _ := state.Get("valued")
			return map[string]any{"from_state": valued, "snapshot": req.PricingSnapshotID}, nil
		},
	})))

	state := schema.NewRunState(nil)
	state.Set("valued", map[string]any{"total": 9.0})

	rt := NewRuntime(reg, RuntimeConfig{Retry: fastPolicy()})
	inv, err := rt.Invoke(context.Background(), "report.render", testContext(), state, nil)
	require.NoError(t, err)

	payload := inv.Payload.(map[string]any)
	assert.Equal(t, map[string]any{"total": 9.0}, payload["from_state"])
	assert.Equal(t, "snap-1", payload["snapshot"])
}
