package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ledgerline/patternd/pkg/schema"
)

// EventLog provides append-only audit operations on top of a LibSQLStore,
// assigning a monotonically increasing per-invocation sequence to each event.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with the next per-invocation sequence.
// The sequence read and insert run in one transaction so concurrent
// invocations cannot interleave.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	db := el.store.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE invocation_id = ?`, event.InvocationID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next event sequence: %w", err)
	}
	event.Sequence = seq

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (invocation_id, pattern_id, step_alias, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.InvocationID, nullStr(event.PatternID), nullStr(event.StepAlias),
		event.Type, nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for an invocation with sequence > since, ascending.
func (el *EventLog) GetEvents(ctx context.Context, invocationID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, invocationID, since)
}

// ReplayTrace rebuilds the step trace of a past invocation from its audit
// events. Returns an error if sequence gaps are detected.
func (el *EventLog) ReplayTrace(ctx context.Context, invocationID string) (schema.Trace, error) {
	events, err := el.store.GetEvents(ctx, invocationID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in invocation %s: expected %d, got %d", invocationID, expected, e.Sequence)
		}
	}

	var trace schema.Trace
	for _, e := range events {
		switch e.Type {
		case schema.EventStepCompleted, schema.EventStepFailed, schema.EventStepSkipped:
			var entry schema.TraceEntry
			if len(e.Payload) > 0 {
				if err := json.Unmarshal(e.Payload, &entry); err != nil {
					return nil, schema.NewErrorf(schema.ErrCodeStore,
						"corrupt trace payload in invocation %s at sequence %d: %s", invocationID, e.Sequence, err.Error())
				}
			}
			trace = trace.Append(entry)
		}
	}
	return trace, nil
}
