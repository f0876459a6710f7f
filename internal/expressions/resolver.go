package expressions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ledgerline/patternd/pkg/schema"
)

const (
	tokenOpen  = "{{"
	tokenClose = "}}"
)

// requiredCtxFields are the two reproducibility fields whose absence is always
// fatal. Every other unresolved template silently yields nil.
var requiredCtxFields = map[string]bool{
	schema.CtxFieldPricingSnapshot: true,
	schema.CtxFieldLedgerReference: true,
}

// Resolver resolves {{path.to.value}} template expressions in step args
// against the invocation scope. A path that does not resolve yields an
// explicit nil, not an error, except references to the required context
// fields, which raise REQUIRED_CONTEXT_MISSING immediately.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// ResolveArgs resolves every value in a step's args map.
func (r *Resolver) ResolveArgs(args map[string]any, scope *Scope) (map[string]any, error) {
	if len(args) == 0 {
		return map[string]any{}, nil
	}
	resolved := make(map[string]any, len(args))
	for name, value := range args {
		v, err := r.ResolveValue(value, scope)
		if err != nil {
			return nil, err
		}
		resolved[name] = v
	}
	return resolved, nil
}

// ResolveValue resolves a single arg value. Strings are scanned for template
// tokens; maps and slices are resolved recursively; all other values pass
// through unchanged.
func (r *Resolver) ResolveValue(value any, scope *Scope) (any, error) {
	switch v := value.(type) {
	case string:
		return r.resolveString(v, scope)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			resolved, err := r.ResolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := r.ResolveValue(item, scope)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

// resolveString handles template tokens in a string value. A string that is
// exactly one token returns the resolved value with its original type; tokens
// embedded in surrounding text are stringified inline.
func (r *Resolver) resolveString(s string, scope *Scope) (any, error) {
	if !strings.Contains(s, tokenOpen) {
		return s, nil
	}

	// Whole-token: "{{path}}" possibly with surrounding whitespace inside
	// the delimiters. Returns the raw value, preserving type.
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, tokenOpen) && strings.HasSuffix(trimmed, tokenClose) {
		inner := strings.TrimSpace(trimmed[len(tokenOpen) : len(trimmed)-len(tokenClose)])
		if inner != "" && !strings.Contains(inner, tokenOpen) && !strings.Contains(inner, tokenClose) {
			return r.ResolvePath(inner, scope)
		}
	}

	// Embedded tokens: substitute each inline.
	var result strings.Builder
	result.Grow(len(s))

	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], tokenOpen)
		if idx == -1 {
			result.WriteString(s[i:])
			break
		}
		result.WriteString(s[i : i+idx])
		start := i + idx + len(tokenOpen)

		end := strings.Index(s[start:], tokenClose)
		if end == -1 {
			return nil, schema.NewErrorf(schema.ErrCodeTemplate, "unclosed {{ expression in %q", s)
		}
		end += start

		path := strings.TrimSpace(s[start:end])
		if path == "" {
			return nil, schema.NewErrorf(schema.ErrCodeTemplate, "empty template reference in %q", s)
		}
		if strings.Contains(path, tokenOpen) {
			return nil, schema.NewErrorf(schema.ErrCodeTemplate,
				"nested templates not allowed: {{...}} cannot contain {{ (in %q)", s)
		}

		val, err := r.ResolvePath(path, scope)
		if err != nil {
			return nil, err
		}
		result.WriteString(inlineString(val))

		i = end + len(tokenClose)
	}

	return result.String(), nil
}

// ResolvePath resolves a dotted path against the scope. The first segment
// selects the namespace: "inputs" and "ctx" are reserved; anything else is a
// step alias in run state. Missing segments resolve to nil, except the two
// required context fields.
func (r *Resolver) ResolvePath(path string, scope *Scope) (any, error) {
	segments := strings.Split(path, ".")

	switch segments[0] {
	case "ctx":
		if len(segments) == 1 {
			return scope.Ctx, nil
		}
		field := segments[1]
		val, ok := scope.Ctx[field]
		if !ok {
			if requiredCtxFields[field] {
				return nil, schema.NewErrorf(schema.ErrCodeRequiredContextMissing,
					"required context field %q is absent (referenced as {{%s}})", field, path).
					WithDetails(map[string]any{"field": field, "expression": path})
			}
			return nil, nil
		}
		return traverse(val, segments[2:]), nil

	case "inputs":
		if len(segments) == 1 {
			return scope.State.Inputs(), nil
		}
		return traverse(scope.State.Inputs(), segments[1:]), nil

	default:
		val, ok := scope.State.Get(segments[0])
		if !ok {
			return nil, nil
		}
		return traverse(val, segments[1:]), nil
	}
}

// traverse walks the remaining path segments into nested maps and slices.
// Any miss yields nil.
func traverse(root any, segments []string) any {
	current := root
	for _, seg := range segments {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[seg]
			if !ok {
				return nil
			}
			current = val
		case schema.RunState:
			val, ok := v[seg]
			if !ok {
				return nil
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil
			}
			current = v[idx]
		default:
			return nil
		}
	}
	return current
}

// inlineString converts a resolved value into its inline text representation
// for tokens embedded within a larger string.
func inlineString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// HasTemplate reports whether a string contains a template token.
func HasTemplate(s string) bool {
	return strings.Contains(s, tokenOpen)
}
