package store

import (
	"encoding/json"
	"time"

	"github.com/ledgerline/patternd/pkg/schema"
)

// Invocation is the persisted audit record of one pattern invocation.
type Invocation struct {
	ID          string                  `json:"id"`
	PatternID   string                  `json:"pattern_id"`
	TraceID     string                  `json:"trace_id"`
	Status      schema.InvocationStatus `json:"status"`
	Inputs      map[string]any          `json:"inputs,omitempty"`
	Outputs     json.RawMessage         `json:"outputs,omitempty"`
	Error       json.RawMessage         `json:"error,omitempty"`
	StartedAt   time.Time               `json:"started_at"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
}

// InvocationUpdate carries the mutable fields of an invocation record.
type InvocationUpdate struct {
	Status      schema.InvocationStatus
	Outputs     json.RawMessage
	Error       json.RawMessage
	CompletedAt *time.Time
}

// InvocationFilter narrows ListInvocations.
type InvocationFilter struct {
	PatternID string
	Status    schema.InvocationStatus
	Limit     int
}

// Event is an immutable entry in the append-only audit event log.
type Event struct {
	ID           int64           `json:"id"`
	InvocationID string          `json:"invocation_id"`
	PatternID    string          `json:"pattern_id,omitempty"`
	StepAlias    string          `json:"step,omitempty"`
	Type         string          `json:"event_type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
	Sequence     int64           `json:"sequence"`
}

// EventFilter narrows GetEventsByType.
type EventFilter struct {
	InvocationID string
	Since        time.Time
	Limit        int
}
