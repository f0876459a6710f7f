package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/patternd/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	s, err := NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLibSQLStore_InvocationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inv := &Invocation{
		ID:        "inv-1",
		PatternID: "portfolio-summary",
		TraceID:   "trace-1",
		Status:    schema.InvocationExecuting,
		Inputs:    map[string]any{"book": "growth-fund"},
	}
	require.NoError(t, s.CreateInvocation(ctx, inv))

	got, err := s.GetInvocation(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "portfolio-summary", got.PatternID)
	assert.Equal(t, schema.InvocationExecuting, got.Status)
	assert.Equal(t, map[string]any{"book": "growth-fund"}, got.Inputs)
	assert.Nil(t, got.CompletedAt)

	completed := time.Now().UTC()
	require.NoError(t, s.UpdateInvocation(ctx, "inv-1", InvocationUpdate{
		Status:      schema.InvocationDone,
		Outputs:     json.RawMessage(`{"report":{"pages":3}}`),
		CompletedAt: &completed,
	}))

	got, err = s.GetInvocation(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, schema.InvocationDone, got.Status)
	assert.JSONEq(t, `{"report":{"pages":3}}`, string(got.Outputs))
	require.NotNil(t, got.CompletedAt)
}

func TestLibSQLStore_GetInvocationNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetInvocation(context.Background(), "nope")
	require.Error(t, err)
	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, engErr.Code)

	assert.Error(t, s.UpdateInvocation(context.Background(), "nope", InvocationUpdate{Status: schema.InvocationDone}))
}

func TestLibSQLStore_ListInvocationsFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, inv := range []*Invocation{
		{ID: "a", PatternID: "p1", TraceID: "t", Status: schema.InvocationDone},
		{ID: "b", PatternID: "p1", TraceID: "t", Status: schema.InvocationAborted},
		{ID: "c", PatternID: "p2", TraceID: "t", Status: schema.InvocationDone},
	} {
		require.NoError(t, s.CreateInvocation(ctx, inv))
	}

	got, err := s.ListInvocations(ctx, InvocationFilter{PatternID: "p1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.ListInvocations(ctx, InvocationFilter{Status: schema.InvocationDone, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestEventLog_SequenceAssignment(t *testing.T) {
	s := newTestStore(t)
	el := NewEventLog(s)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, el.AppendEvent(ctx, &Event{
			InvocationID: "inv-1",
			PatternID:    "p1",
			Type:         schema.EventStepCompleted,
			Payload:      json.RawMessage(`{"step":` + string(rune('0'+i)) + `,"capability":"echo.value","as":"r","status":"success"}`),
		}))
	}
	// A second invocation gets its own sequence.
	require.NoError(t, el.AppendEvent(ctx, &Event{InvocationID: "inv-2", Type: schema.EventInvocationStarted}))

	events, err := el.GetEvents(ctx, "inv-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}

	events, err = el.GetEvents(ctx, "inv-2", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].Sequence)
}

func TestEventLog_ReplayTrace(t *testing.T) {
	s := newTestStore(t)
	el := NewEventLog(s)
	ctx := context.Background()

	entries := []schema.TraceEntry{
		{Step: 0, Capability: "valuation.compute", Alias: "valued", Status: schema.TraceStatusSuccess},
		{Step: 1, Capability: "report.render", Alias: "report", Status: schema.TraceStatusSkipped},
	}
	require.NoError(t, el.AppendEvent(ctx, &Event{InvocationID: "inv-1", Type: schema.EventInvocationStarted}))
	for _, entry := range entries {
		payload, err := json.Marshal(entry)
		require.NoError(t, err)
		eventType := schema.EventStepCompleted
		if entry.Status == schema.TraceStatusSkipped {
			eventType = schema.EventStepSkipped
		}
		require.NoError(t, el.AppendEvent(ctx, &Event{
			InvocationID: "inv-1",
			StepAlias:    entry.Alias,
			Type:         eventType,
			Payload:      payload,
		}))
	}

	trace, err := el.ReplayTrace(ctx, "inv-1")
	require.NoError(t, err)
	require.Len(t, trace, 2)
	assert.Equal(t, "valuation.compute", trace[0].Capability)
	assert.Equal(t, schema.TraceStatusSkipped, trace[1].Status)
}

func TestLibSQLStore_EventsByType(t *testing.T) {
	s := newTestStore(t)
	el := NewEventLog(s)
	ctx := context.Background()

	require.NoError(t, el.AppendEvent(ctx, &Event{InvocationID: "inv-1", Type: schema.EventStepFailed}))
	require.NoError(t, el.AppendEvent(ctx, &Event{InvocationID: "inv-2", Type: schema.EventStepFailed}))
	require.NoError(t, el.AppendEvent(ctx, &Event{InvocationID: "inv-2", Type: schema.EventStepCompleted}))

	events, err := s.GetEventsByType(ctx, schema.EventStepFailed, EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = s.GetEventsByType(ctx, schema.EventStepFailed, EventFilter{InvocationID: "inv-2"})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
