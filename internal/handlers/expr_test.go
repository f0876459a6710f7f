package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/patternd/pkg/schema"
)

func TestExprEval_OverRunState(t *testing.T) {
	fn := builtinFunc(t, "expr.eval")

	state := schema.NewRunState(map[string]any{"threshold": 10})
	state.Set("quote", map[string]any{"total": 42.0})

	out, err := fn(context.Background(), nil, state, map[string]any{
		"expression": "state.quote.total > inputs.threshold",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": true}, out)
}

func TestExprEval_ExplicitData(t *testing.T) {
	fn := builtinFunc(t, "expr.eval")

	out, err := fn(context.Background(), nil, schema.NewRunState(nil), map[string]any{
		"expression": "sum(map(data, .amount))",
		"data": []any{
			map[string]any{"amount": 1.5},
			map[string]any{"amount": 2.5},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 4.0, out.(map[string]any)["result"])
}

func TestExprEval_RequiresExpression(t *testing.T) {
	fn := builtinFunc(t, "expr.eval")

	_, err := fn(context.Background(), nil, schema.NewRunState(nil), map[string]any{})
	require.Error(t, err)
}

func TestExprEval_ContextVisible(t *testing.T) {
	fn := builtinFunc(t, "expr.eval")
	req := schema.NewRequestContext("snap-1", "ledger-1")

	out, err := fn(context.Background(), req, schema.NewRunState(nil), map[string]any{
		"expression": `ctx.pricingSnapshotId`,
	})
	require.NoError(t, err)
	assert.Equal(t, "snap-1", out.(map[string]any)["result"])
}

func TestJQQuery_OverRunState(t *testing.T) {
	fn := builtinFunc(t, "jq.query")

	state := schema.NewRunState(nil)
	state.Set("entries", []any{
		map[string]any{"amount": 3.0},
		map[string]any{"amount": 4.0},
	})

	out, err := fn(context.Background(), nil, state, map[string]any{
		"query": "[.entries[].amount] | add",
	})
	require.NoError(t, err)
	assert.Equal(t, 7.0, out.(map[string]any)["result"])
}

func TestJQQuery_ExplicitData(t *testing.T) {
	fn := builtinFunc(t, "jq.query")

	out, err := fn(context.Background(), nil, schema.NewRunState(nil), map[string]any{
		"query": ".items | length",
		"data":  map[string]any{"items": []any{"a", "b", "c"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out.(map[string]any)["result"])
}

func TestJQQuery_MultipleOutputsCollected(t *testing.T) {
	fn := builtinFunc(t, "jq.query")

	out, err := fn(context.Background(), nil, schema.NewRunState(nil), map[string]any{
		"query": ".items[]",
		"data":  map[string]any{"items": []any{"a", "b"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out.(map[string]any)["result"])
}

func TestJQQuery_RequiresQuery(t *testing.T) {
	fn := builtinFunc(t, "jq.query")

	_, err := fn(context.Background(), nil, schema.NewRunState(nil), map[string]any{})
	require.Error(t, err)
}
