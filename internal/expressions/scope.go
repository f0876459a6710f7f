package expressions

import (
	"github.com/ledgerline/patternd/pkg/schema"
)

// Scope is the resolution environment for one step: the live run state plus
// the flattened request context. The run state is owned by a single invocation
// and only mutated between steps, so the scope reads it directly without
// copying.
type Scope struct {
	State schema.RunState
	Ctx   map[string]any
}

// NewScope builds a Scope from the invocation run state and request context.
func NewScope(state schema.RunState, reqCtx *schema.RequestContext) *Scope {
	return &Scope{
		State: state,
		Ctx:   reqCtx.Scope(),
	}
}

// Namespaces flattens the scope into the map consumed by expression engines:
// state (all step aliases), inputs, and ctx as top-level variables.
func (s *Scope) Namespaces() map[string]any {
	state := make(map[string]any, len(s.State))
	for k, v := range s.State {
		state[k] = v
	}
	return map[string]any{
		"state":  state,
		"inputs": s.State.Inputs(),
		"ctx":    s.Ctx,
	}
}
