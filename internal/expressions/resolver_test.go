package expressions

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/patternd/pkg/schema"
)

func testScope() *Scope {
	state := schema.NewRunState(map[string]any{
		"book":   "growth-fund",
		"window": float64(12),
	})
	state.Set("valued", map[string]any{
		"total": 1250000.5,
		"positions": []any{
			map[string]any{"symbol": "ACME", "weight": 0.4},
			map[string]any{"symbol": "GLOBX", "weight": 0.6},
		},
	})

	reqCtx := &schema.RequestContext{
		PricingSnapshotID: "snap-2026-08-21",
		LedgerReference:   "ledger-9f3a",
		TraceID:           "trace-1",
		Extra:             map[string]any{"tenant": "acme-wealth"},
	}
	return NewScope(state, reqCtx)
}

func TestResolver_WholeTokenPreservesType(t *testing.T) {
	r := NewResolver()
	scope := testScope()

	val, err := r.ResolveValue("{{valued.total}}", scope)
	require.NoError(t, err)
	assert.Equal(t, 1250000.5, val)

	val, err = r.ResolveValue("{{inputs.window}}", scope)
	require.NoError(t, err)
	assert.Equal(t, float64(12), val)

	// Whole step result.
	val, err = r.ResolveValue("{{valued}}", scope)
	require.NoError(t, err)
	m, ok := val.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1250000.5, m["total"])
}

func TestResolver_EmbeddedTokensStringify(t *testing.T) {
	r := NewResolver()

	val, err := r.ResolveValue("book={{inputs.book}} total={{valued.total}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "book=growth-fund total=1250000.5", val)
}

func TestResolver_SliceIndexTraversal(t *testing.T) {
	r := NewResolver()

	val, err := r.ResolveValue("{{valued.positions.1.symbol}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "GLOBX", val)
}

func TestResolver_AbsentPathsResolveToNil(t *testing.T) {
	r := NewResolver()
	scope := testScope()

	cases := []string{
		"{{nosuchstep}}",
		"{{nosuchstep.field}}",
		"{{valued.missing}}",
		"{{valued.positions.9.symbol}}",
		"{{inputs.unknown}}",
		"{{ctx.optionalField}}",
	}
	for _, tpl := range cases {
		val, err := r.ResolveValue(tpl, scope)
		require.NoError(t, err, "template %s", tpl)
		assert.Nil(t, val, "template %s", tpl)
	}
}

func TestResolver_RequiredContextFields(t *testing.T) {
	r := NewResolver()
	scope := testScope()

	val, err := r.ResolveValue("{{ctx.pricingSnapshotId}}", scope)
	require.NoError(t, err)
	assert.Equal(t, "snap-2026-08-21", val)

	val, err = r.ResolveValue("{{ctx.ledgerReference}}", scope)
	require.NoError(t, err)
	assert.Equal(t, "ledger-9f3a", val)

	// Extra fields pass through without inspection.
	val, err = r.ResolveValue("{{ctx.tenant}}", scope)
	require.NoError(t, err)
	assert.Equal(t, "acme-wealth", val)
}

func TestResolver_RequiredContextMissingRaises(t *testing.T) {
	r := NewResolver()
	state := schema.NewRunState(nil)
	scope := NewScope(state, &schema.RequestContext{TraceID: "trace-2"})

	for _, tpl := range []string{"{{ctx.pricingSnapshotId}}", "{{ctx.ledgerReference}}"} {
		_, err := r.ResolveValue(tpl, scope)
		require.Error(t, err, "template %s", tpl)

		var engErr *schema.EngineError
		require.True(t, errors.As(err, &engErr))
		assert.Equal(t, schema.ErrCodeRequiredContextMissing, engErr.Code)
	}

	// Other absent ctx fields stay silent.
	val, err := r.ResolveValue("{{ctx.traceId}}", scope)
	require.NoError(t, err)
	assert.Equal(t, "trace-2", val)

	val, err = r.ResolveValue("{{ctx.somethingElse}}", scope)
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestResolver_RecursesMapsAndSlices(t *testing.T) {
	r := NewResolver()

	args := map[string]any{
		"query": map[string]any{
			"book":  "{{inputs.book}}",
			"total": "{{valued.total}}",
		},
		"symbols": []any{"{{valued.positions.0.symbol}}", "literal"},
		"limit":   50,
	}

	resolved, err := r.ResolveArgs(args, testScope())
	require.NoError(t, err)

	query := resolved["query"].(map[string]any)
	assert.Equal(t, "growth-fund", query["book"])
	assert.Equal(t, 1250000.5, query["total"])
	assert.Equal(t, []any{"ACME", "literal"}, resolved["symbols"])
	assert.Equal(t, 50, resolved["limit"])
}

func TestResolver_MalformedTemplates(t *testing.T) {
	r := NewResolver()
	scope := testScope()

	_, err := r.ResolveValue("prefix {{inputs.book", scope)
	assert.Error(t, err)

	_, err = r.ResolveValue("x{{}}y", scope)
	assert.Error(t, err)

	_, err = r.ResolveValue("a{{outer {{inner}} }}b", scope)
	assert.Error(t, err)
}

func TestResolver_NonTemplateValuesPassThrough(t *testing.T) {
	r := NewResolver()
	scope := testScope()

	for _, v := range []any{"plain string", 7, true, nil, 3.14} {
		out, err := r.ResolveValue(v, scope)
		require.NoError(t, err)
		assert.Equal(t, v, out)
	}
}
