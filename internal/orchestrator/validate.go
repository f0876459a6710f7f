package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ledgerline/patternd/pkg/schema"
)

// reservedAliases are the template namespaces an "as" key must not shadow:
// storing a step result under either would clobber the namespace for every
// later step.
var reservedAliases = map[string]bool{"inputs": true, "ctx": true}

// Validate checks a pattern against the runtime's registered capabilities and
// the declared input schema, collecting all findings into one structured
// result. Unknown capabilities and forward references are findings, not
// failures: the default execution policy logs them and proceeds (see
// Options.StrictValidation).
func (it *Interpreter) Validate(patternID string, inputs map[string]any) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	pattern, ok := it.library.Get(patternID)
	if !ok {
		result.AddError("/", schema.ErrCodeNotFound, fmt.Sprintf("pattern %q not found", patternID))
		return result
	}

	if err := it.library.ValidateInputs(patternID, inputs); err != nil {
		result.AddError("/inputs", schema.ErrCodeValidation, err.Error())
	}

	registry := it.runtime.Registry()
	seen := make(map[string]int, len(pattern.Steps))
	defined := make(map[string]bool, len(pattern.Steps))

	for i, step := range pattern.Steps {
		path := fmt.Sprintf("/steps/%d", i)

		if step.As == "" {
			result.AddError(path, schema.ErrCodeValidation, "step has no \"as\" alias")
		} else if reservedAliases[step.As] {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("alias %q shadows a reserved template namespace", step.As))
		} else if prev, dup := seen[step.As]; dup {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("alias %q already produced by step %d; later result overwrites earlier", step.As, prev))
		} else {
			seen[step.As] = i
		}

		if !registry.Has(step.Capability) {
			result.AddError(path, schema.ErrCodeCapabilityNotFound,
				fmt.Sprintf("capability %q is not registered", step.Capability))
		}

		// Arena-style forward-reference check: a step's args may only
		// reference aliases produced by earlier steps, inputs.*, or ctx.*.
		// The permissive runtime resolves violations to nil; strict mode
		// makes this finding fatal.
		for _, ref := range templateRefs(step.Args) {
			head := strings.SplitN(ref, ".", 2)[0]
			if head == "inputs" || head == "ctx" {
				continue
			}
			if !defined[head] {
				issue := fmt.Sprintf("args reference %q before any step produces alias %q", ref, head)
				if it.opts.StrictValidation {
					result.AddError(path, schema.ErrCodeValidation, issue)
				} else {
					result.AddWarning(path, schema.ErrCodeValidation, issue)
				}
			}
		}

		defined[step.As] = true
	}

	return result
}

// templateRefs collects every template path referenced by an args tree.
func templateRefs(value any) []string {
	var refs []string
	walkTemplateRefs(value, &refs)
	return refs
}

func walkTemplateRefs(value any, refs *[]string) {
	switch v := value.(type) {
	case string:
		s := v
		for {
			open := strings.Index(s, "{{")
			if open == -1 {
				return
			}
			s = s[open+2:]
			end := strings.Index(s, "}}")
			if end == -1 {
				return
			}
			path := strings.TrimSpace(s[:end])
			if path != "" {
				*refs = append(*refs, path)
			}
			s = s[end+2:]
		}
	case map[string]any:
		for _, item := range v {
			walkTemplateRefs(item, refs)
		}
	case []any:
		for _, item := range v {
			walkTemplateRefs(item, refs)
		}
	}
}
