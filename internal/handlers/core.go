package handlers

import (
	"context"
	"encoding/json"
	"reflect"
	"regexp"
	"strings"

	"github.com/ledgerline/patternd/internal/capability"
	"github.com/ledgerline/patternd/internal/expressions"
	"github.com/ledgerline/patternd/pkg/schema"
)

// newCoreHandler provides the value-plumbing and assertion capabilities.
func newCoreHandler() capability.Handler {
	return capability.NewHandler("builtin-core", map[string]capability.Func{
		"echo.value":     echoValue,
		"assert.that":    assertThat,
		"assert.equals":  assertEquals,
		"assert.matches": assertMatches,
	})
}

// echoValue returns its "x" argument wrapped as {"value": x}. Useful for
// lifting a resolved template into run state and for smoke-testing patterns.
func echoValue(_ context.Context, _ *schema.RequestContext, _ schema.RunState, args map[string]any) (any, error) {
	return map[string]any{"value": args["x"]}, nil
}

// assertThat fails the step unless its "that" argument is truthy.
func assertThat(_ context.Context, _ *schema.RequestContext, _ schema.RunState, args map[string]any) (any, error) {
	if expressions.Truthy(args["that"]) {
		return map[string]any{"pass": true}, nil
	}
	return nil, schema.NewError(schema.ErrCodeExecution, assertMessage(args, "assertion failed: value is not truthy")).
		WithDetails(map[string]any{"that": args["that"]})
}

// assertEquals fails the step unless "expected" and "actual" are deeply equal
// after numeric normalization.
func assertEquals(_ context.Context, _ *schema.RequestContext, _ schema.RunState, args map[string]any) (any, error) {
	expected := normalizeJSON(args["expected"])
	actual := normalizeJSON(args["actual"])

	if reflect.DeepEqual(expected, actual) {
		return map[string]any{"pass": true}, nil
	}
	return nil, schema.NewError(schema.ErrCodeExecution, assertMessage(args, "assertion failed: values are not equal")).
		WithDetails(map[string]any{"expected": args["expected"], "actual": args["actual"]})
}

// assertMatches fails the step unless the "value" string matches the "pattern"
// regular expression.
func assertMatches(_ context.Context, _ *schema.RequestContext, _ schema.RunState, args map[string]any) (any, error) {
	value, ok := args["value"].(string)
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "assert.matches requires a \"value\" string argument")
	}
	pattern, ok := args["pattern"].(string)
	if !ok || pattern == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "assert.matches requires a non-empty \"pattern\" string argument")
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid regex pattern: %s", err)
	}

	if !re.MatchString(value) {
		return nil, schema.NewError(schema.ErrCodeExecution, assertMessage(args, "assertion failed: value does not match pattern")).
			WithDetails(map[string]any{"value": value, "pattern": pattern})
	}
	return map[string]any{"pass": true, "match": re.FindString(value)}, nil
}

// assertMessage prefers the caller-supplied "message" argument, trimmed.
func assertMessage(args map[string]any, fallback string) string {
	if m, ok := args["message"].(string); ok && strings.TrimSpace(m) != "" {
		return m
	}
	return fallback
}

// normalizeJSON converts Go numeric types to float64 so deep-equal comparison
// works across JSON decode boundaries.
func normalizeJSON(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeJSON(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeJSON(item)
		}
		return out
	default:
		return v
	}
}
