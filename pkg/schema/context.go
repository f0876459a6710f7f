package schema

import (
	"time"

	"github.com/google/uuid"
)

// Required context fields. Template references to these paths must resolve;
// absence raises ErrCodeRequiredContextMissing instead of the usual silent nil.
const (
	CtxFieldPricingSnapshot = "pricingSnapshotId"
	CtxFieldLedgerReference = "ledgerReference"
	CtxFieldTraceID         = "traceId"
	CtxFieldCreatedAt       = "createdAt"
)

// RequestContext is the immutable per-invocation reproducibility token.
// It is constructed once before execution begins, passed by reference to every
// capability call, and never mutated or persisted by the orchestrator.
type RequestContext struct {
	PricingSnapshotID string         `json:"pricingSnapshotId"`
	LedgerReference   string         `json:"ledgerReference"`
	TraceID           string         `json:"traceId"`
	CreatedAt         time.Time      `json:"createdAt"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// NewRequestContext builds a RequestContext with a generated trace ID.
func NewRequestContext(pricingSnapshotID, ledgerReference string) *RequestContext {
	return &RequestContext{
		PricingSnapshotID: pricingSnapshotID,
		LedgerReference:   ledgerReference,
		TraceID:           uuid.New().String(),
		CreatedAt:         time.Now().UTC(),
	}
}

// Scope flattens the context into the map consumed by template resolution
// under the ctx.* namespace. Extra fields sit alongside the well-known ones
// and pass through without inspection; empty well-known fields are omitted so
// absence is observable to the resolver.
func (rc *RequestContext) Scope() map[string]any {
	if rc == nil {
		return map[string]any{}
	}
	scope := make(map[string]any, len(rc.Extra)+4)
	for k, v := range rc.Extra {
		scope[k] = v
	}
	if rc.PricingSnapshotID != "" {
		scope[CtxFieldPricingSnapshot] = rc.PricingSnapshotID
	}
	if rc.LedgerReference != "" {
		scope[CtxFieldLedgerReference] = rc.LedgerReference
	}
	if rc.TraceID != "" {
		scope[CtxFieldTraceID] = rc.TraceID
	}
	if !rc.CreatedAt.IsZero() {
		scope[CtxFieldCreatedAt] = rc.CreatedAt.Format(time.RFC3339Nano)
	}
	return scope
}
