package orchestrator

import (
	"github.com/ledgerline/patternd/pkg/schema"
)

// validTransitions is the invocation lifecycle:
// LOADED -> VALIDATING -> EXECUTING -> EXTRACTING -> DONE, with ABORTED
// reachable from validating (strict mode), executing, and extracting.
var validTransitions = map[schema.InvocationStatus][]schema.InvocationStatus{
	schema.InvocationLoaded:     {schema.InvocationValidating},
	schema.InvocationValidating: {schema.InvocationExecuting, schema.InvocationAborted},
	schema.InvocationExecuting:  {schema.InvocationExtracting, schema.InvocationAborted},
	schema.InvocationExtracting: {schema.InvocationDone, schema.InvocationAborted},
	schema.InvocationDone:       {},
	schema.InvocationAborted:    {},
}

// invocationFSM tracks the lifecycle of one invocation. Each invocation owns
// its own FSM; there is no cross-invocation state.
type invocationFSM struct {
	current schema.InvocationStatus
}

func newInvocationFSM() *invocationFSM {
	return &invocationFSM{current: schema.InvocationLoaded}
}

// transition validates and applies a state change.
func (f *invocationFSM) transition(to schema.InvocationStatus) error {
	for _, allowed := range validTransitions[f.current] {
		if allowed == to {
			f.current = to
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid invocation transition: %s -> %s", f.current, to).
		WithDetails(map[string]any{"from": string(f.current), "to": string(to)})
}

// state returns the current lifecycle state.
func (f *invocationFSM) state() schema.InvocationStatus {
	return f.current
}
