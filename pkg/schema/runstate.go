package schema

// RunState is the mutable key-value store scoped to one pattern invocation.
// It is seeded with {"inputs": <caller inputs>} and gains one entry per
// executed step under the step's "as" alias. A RunState belongs to exactly
// one invocation and is never shared across concurrent executions.
type RunState map[string]any

// InputsKey is the reserved RunState key holding the caller-supplied inputs.
const InputsKey = "inputs"

// NewRunState creates a fresh RunState seeded with the invocation inputs.
func NewRunState(inputs map[string]any) RunState {
	if inputs == nil {
		inputs = map[string]any{}
	}
	return RunState{InputsKey: inputs}
}

// Inputs returns the seeded invocation inputs.
func (rs RunState) Inputs() map[string]any {
	in, _ := rs[InputsKey].(map[string]any)
	return in
}

// Set records a step result under its alias.
func (rs RunState) Set(alias string, payload any) {
	rs[alias] = payload
}

// Get returns the value stored under an alias.
func (rs RunState) Get(alias string) (any, bool) {
	v, ok := rs[alias]
	return v, ok
}

// Has reports whether an alias has been produced.
func (rs RunState) Has(alias string) bool {
	_, ok := rs[alias]
	return ok
}
