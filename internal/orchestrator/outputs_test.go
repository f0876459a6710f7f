package orchestrator

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerline/patternd/pkg/schema"
)

func outputSpec(t *testing.T, raw string) schema.OutputSpec {
	t.Helper()
	var spec schema.OutputSpec
	require.NoError(t, json.Unmarshal([]byte(raw), &spec))
	return spec
}

func TestExtractOutputs_ListShape(t *testing.T) {
	spec := outputSpec(t, `["a", "b"]`)
	state := schema.RunState{"a": 1, "b": "two", "c": "internal"}

	got := ExtractOutputs(spec, state)

	assert.Equal(t, map[string]any{"a": 1, "b": "two"}, got)
	assert.NotContains(t, got, "c")
}

func TestExtractOutputs_KeyedShape(t *testing.T) {
	spec := outputSpec(t, `{"total": {}, "currency": {}}`)
	state := schema.RunState{"total": 99.5, "currency": "EUR", "scratch": true}

	got := ExtractOutputs(spec, state)

	assert.Equal(t, map[string]any{"total": 99.5, "currency": "EUR"}, got)
	assert.NotContains(t, got, "scratch")
}

func TestExtractOutputs_PanelsPassThrough(t *testing.T) {
	spec := outputSpec(t, `{"panels": [{"title": "Summary", "items": ["a"]}]}`)
	state := schema.RunState{"a": 1}

	got := ExtractOutputs(spec, state)

	// Panel declarations are surfaced verbatim, never unpacked.
	require.Contains(t, got, "panels")
	assert.Len(t, got, 1)
}

func TestExtractOutputs_UndeclaredKeyIsNil(t *testing.T) {
	spec := outputSpec(t, `["produced", "missing"]`)
	state := schema.RunState{"produced": 42}

	got := ExtractOutputs(spec, state)

	assert.Equal(t, 42, got["produced"])
	v, present := got["missing"]
	assert.True(t, present)
	assert.Nil(t, v)
}
