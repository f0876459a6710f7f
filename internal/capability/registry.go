package capability

import (
	"sort"
	"sync"

	"github.com/ledgerline/patternd/pkg/schema"
)

// Registry is the thread-safe capability-to-handler binding map. All
// registrations happen during a startup phase before any pattern executes;
// afterwards the map is read-only and shared freely across invocations.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]*Binding
	shadowed map[string][]string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[string]*Binding),
		shadowed: make(map[string][]string),
	}
}

// Register binds every capability a handler declares. A name collision is an
// error unless allowDual is set, in which case the newest registration takes
// priority for routing and the losing handler id is retained for diagnostic
// listing only.
func (r *Registry) Register(h Handler, allowDual ...bool) error {
	if h == nil {
		return schema.NewError(schema.ErrCodeValidation, "handler is nil")
	}
	handlerID := h.HandlerID()
	if handlerID == "" {
		return schema.NewError(schema.ErrCodeValidation, "handler id is empty")
	}
	caps := h.Capabilities()
	if len(caps) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "handler %q declares no capabilities", handlerID)
	}

	dual := len(allowDual) > 0 && allowDual[0]

	r.mu.Lock()
	defer r.mu.Unlock()

	// Validate the full declaration before mutating anything.
	for name, fn := range caps {
		if !ValidName(name) {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"capability %q from handler %q is not of the form category.operation", name, handlerID)
		}
		if fn == nil {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"capability %q from handler %q has a nil method", name, handlerID)
		}
		if existing, exists := r.bindings[name]; exists && !dual {
			return schema.NewErrorf(schema.ErrCodeConflict,
				"capability %q already registered by handler %q", name, existing.HandlerID).
				WithDetails(map[string]any{"capability": name, "registered_by": existing.HandlerID, "rejected": handlerID})
		}
	}

	for name, fn := range caps {
		if existing, exists := r.bindings[name]; exists {
			r.shadowed[name] = append(r.shadowed[name], existing.HandlerID)
		}
		r.bindings[name] = &Binding{Capability: name, HandlerID: handlerID, Fn: fn}
	}
	return nil
}

// Lookup returns the active binding for a capability.
func (r *Registry) Lookup(name string) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[name]
	return b, ok
}

// HandlerFor returns the id of the handler routing a capability, or false if
// the capability is not registered.
func (r *Registry) HandlerFor(name string) (string, bool) {
	b, ok := r.Lookup(name)
	if !ok {
		return "", false
	}
	return b.HandlerID, true
}

// Has reports whether a capability is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// List returns all registered capability names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.bindings))
	for name := range r.bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListInfo returns capability summaries including shadowed handler bindings,
// sorted by capability name.
func (r *Registry) ListInfo() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.bindings))
	for name, b := range r.bindings {
		infos = append(infos, Info{
			Capability: name,
			HandlerID:  b.HandlerID,
			Shadowed:   append([]string(nil), r.shadowed[name]...),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Capability < infos[j].Capability })
	return infos
}

// Count returns the number of registered capabilities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bindings)
}
