package store

import "context"

// Store defines the audit persistence contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Invocations
	CreateInvocation(ctx context.Context, inv *Invocation) error
	GetInvocation(ctx context.Context, id string) (*Invocation, error)
	UpdateInvocation(ctx context.Context, id string, update InvocationUpdate) error
	ListInvocations(ctx context.Context, filter InvocationFilter) ([]*Invocation, error)

	// Audit events (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, invocationID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
