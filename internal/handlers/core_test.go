package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/patternd/internal/capability"
	"github.com/ledgerline/patternd/pkg/schema"
)

func builtinFunc(t *testing.T, name string) capability.Func {
	t.Helper()
	reg := capability.NewRegistry()
	require.NoError(t, RegisterBuiltin(reg))
	binding, ok := reg.Lookup(name)
	require.True(t, ok, "builtin capability %s not registered", name)
	return binding.Fn
}

func TestRegisterBuiltin(t *testing.T) {
	reg := capability.NewRegistry()
	require.NoError(t, RegisterBuiltin(reg))

	for _, name := range []string{
		"echo.value", "assert.that", "assert.equals", "assert.matches",
		"expr.eval", "jq.query",
	} {
		assert.True(t, reg.Has(name), "missing %s", name)
	}
}

func TestEchoValue(t *testing.T) {
	fn := builtinFunc(t, "echo.value")

	out, err := fn(context.Background(), nil, nil, map[string]any{"x": 5})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"value": 5}, out)

	out, err = fn(context.Background(), nil, nil, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"value": nil}, out)
}

func TestAssertThat(t *testing.T) {
	fn := builtinFunc(t, "assert.that")

	tests := []struct {
		name string
		args map[string]any
		pass bool
	}{
		{"true passes", map[string]any{"that": true}, true},
		{"non-empty string passes", map[string]any{"that": "yes"}, true},
		{"number passes", map[string]any{"that": float64(0)}, true},
		{"false fails", map[string]any{"that": false}, false},
		{"nil fails", map[string]any{"that": nil}, false},
		{"empty string fails", map[string]any{"that": ""}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := fn(context.Background(), nil, nil, tt.args)
			if tt.pass {
				require.NoError(t, err)
				assert.Equal(t, map[string]any{"pass": true}, out)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestAssertThat_CustomMessage(t *testing.T) {
	fn := builtinFunc(t, "assert.that")

	_, err := fn(context.Background(), nil, nil, map[string]any{
		"that":    false,
		"message": "quote total must be positive",
	})
	require.Error(t, err)

	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, "quote total must be positive", engErr.Message)
}

func TestAssertEquals(t *testing.T) {
	fn := builtinFunc(t, "assert.equals")

	// Numeric types normalize before comparison, as after a JSON round trip.
	out, err := fn(context.Background(), nil, nil, map[string]any{
		"expected": 5,
		"actual":   float64(5),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"pass": true}, out)

	_, err = fn(context.Background(), nil, nil, map[string]any{
		"expected": map[string]any{"a": 1},
		"actual":   map[string]any{"a": 2},
	})
	require.Error(t, err)
}

func TestAssertMatches(t *testing.T) {
	fn := builtinFunc(t, "assert.matches")

	out, err := fn(context.Background(), nil, nil, map[string]any{
		"value":   "ledger-9f3a",
		"pattern": `^ledger-[0-9a-f]+$`,
	})
	require.NoError(t, err)
	assert.Equal(t, true, out.(map[string]any)["pass"])

	_, err = fn(context.Background(), nil, nil, map[string]any{
		"value":   "nope",
		"pattern": `^ledger-`,
	})
	require.Error(t, err)

	_, err = fn(context.Background(), nil, nil, map[string]any{
		"value":   "x",
		"pattern": `([`,
	})
	require.Error(t, err)
}
