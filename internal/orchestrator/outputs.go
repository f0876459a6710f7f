package orchestrator

import (
	"github.com/ledgerline/patternd/pkg/schema"
)

// ExtractOutputs applies the output-declaration shape detected at load time
// to the final run state. The shape decision is per-spec, never re-detected
// per invocation.
//
// List and keyed shapes pull exactly the declared keys from run state; a key
// no step produced yields an explicit nil, matching the permissive template
// semantics. The panel-grouped shape passes the declaration through verbatim
// without unpacking panel entries into top-level keys.
func ExtractOutputs(spec schema.OutputSpec, state schema.RunState) map[string]any {
	switch spec.Shape {
	case schema.OutputShapeList:
		outputs := make(map[string]any, len(spec.Keys))
		for _, key := range spec.Keys {
			outputs[key] = state[key]
		}
		return outputs

	case schema.OutputShapeKeyed:
		outputs := make(map[string]any, len(spec.Keyed))
		for key := range spec.Keyed {
			outputs[key] = state[key]
		}
		return outputs

	case schema.OutputShapePanels:
		return map[string]any{"panels": spec.Panels}

	default:
		return map[string]any{}
	}
}
