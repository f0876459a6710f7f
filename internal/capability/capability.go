package capability

import (
	"context"
	"strings"

	"github.com/ledgerline/patternd/pkg/schema"
)

// Func is the signature every capability method must satisfy. Handlers
// receive the immutable request context, a read/write view of the invocation
// run state for cross-step lookups, and the step's resolved arguments. They
// return an arbitrary structured payload; the runtime imposes no canonical
// shape on results. Handlers must not mutate req.
type Func func(ctx context.Context, req *schema.RequestContext, state schema.RunState, args map[string]any) (any, error)

// Handler is a named object exposing one or more capabilities.
// Capability names follow the "category.operation" convention.
type Handler interface {
	HandlerID() string
	Capabilities() map[string]Func
}

// Binding maps one capability name to a handler method.
type Binding struct {
	Capability string
	HandlerID  string
	Fn         Func
}

// Info summarizes a registered capability for listing, including any handler
// bindings shadowed by dual registration.
type Info struct {
	Capability string   `json:"capability"`
	HandlerID  string   `json:"handlerId"`
	Shadowed   []string `json:"shadowed,omitempty"`
}

// NewHandler builds a Handler from a static id and capability map, for
// handlers that do not need their own type.
func NewHandler(id string, caps map[string]Func) Handler {
	return &funcHandler{id: id, caps: caps}
}

type funcHandler struct {
	id   string
	caps map[string]Func
}

func (h *funcHandler) HandlerID() string            { return h.id }
func (h *funcHandler) Capabilities() map[string]Func { return h.caps }

// ValidName reports whether a capability name follows "category.operation":
// exactly one dot with non-empty segments on both sides.
func ValidName(name string) bool {
	category, operation, ok := strings.Cut(name, ".")
	return ok && category != "" && operation != "" && !strings.Contains(operation, ".")
}
