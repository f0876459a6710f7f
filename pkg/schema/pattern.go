package schema

import (
	"bytes"
	"encoding/json"
)

// Pattern is the declarative workflow format. Patterns are loaded once from a
// directory of documents and are immutable afterwards; reload is an explicit
// re-parse, never a partial mutation.
type Pattern struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty" yaml:"inputSchema,omitempty"`
	Steps       []StepSpec      `json:"steps" yaml:"steps"`
	Outputs     OutputSpec      `json:"outputs" yaml:"outputs"`
	Metadata    map[string]any  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// StepSpec describes a single step in a pattern.
type StepSpec struct {
	Capability string         `json:"capability" yaml:"capability"`
	Args       map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
	As         string         `json:"as" yaml:"as"`
	Condition  string         `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// OutputShape identifies which of the three historical output-declaration
// conventions a pattern uses. The shape is detected once when the document is
// parsed, never re-detected per invocation.
type OutputShape string

const (
	// OutputShapeList: outputs: ["key1", "key2"].
	OutputShapeList OutputShape = "list"
	// OutputShapeKeyed: outputs: {"key1": {...metadata}}. Metadata is opaque
	// at this layer; presentation collaborators consume it.
	OutputShapeKeyed OutputShape = "keyed"
	// OutputShapePanels: outputs: {"panels": [...]}. Passed through verbatim.
	OutputShapePanels OutputShape = "panels"
)

// OutputSpec is the tagged-variant output declaration.
// Exactly one of Keys, Keyed, or Panels is populated, according to Shape.
type OutputSpec struct {
	Shape  OutputShape               `json:"-" yaml:"-"`
	Keys   []string                  `json:"-" yaml:"-"`
	Keyed  map[string]map[string]any `json:"-" yaml:"-"`
	Panels []any                     `json:"-" yaml:"-"`
}

// UnmarshalJSON detects the output shape from the raw document:
// a JSON array is list-of-keys, an object containing "panels" is
// panel-grouped, and any other object is a keyed dict.
func (o *OutputSpec) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return NewError(ErrCodeValidation, "outputs declaration is empty")
	}

	if trimmed[0] == '[' {
		var keys []string
		if err := json.Unmarshal(trimmed, &keys); err != nil {
			return NewErrorf(ErrCodeValidation, "outputs list must contain only strings: %s", err.Error())
		}
		o.Shape = OutputShapeList
		o.Keys = keys
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return NewErrorf(ErrCodeValidation, "outputs must be a list or an object: %s", err.Error())
	}

	if raw, ok := obj["panels"]; ok {
		var panels []any
		if err := json.Unmarshal(raw, &panels); err != nil {
			return NewErrorf(ErrCodeValidation, "outputs.panels must be an array: %s", err.Error())
		}
		o.Shape = OutputShapePanels
		o.Panels = panels
		return nil
	}

	keyed := make(map[string]map[string]any, len(obj))
	for key, raw := range obj {
		var meta map[string]any
		// Metadata may be any object; non-object metadata is tolerated as nil.
		_ = json.Unmarshal(raw, &meta)
		keyed[key] = meta
	}
	o.Shape = OutputShapeKeyed
	o.Keyed = keyed
	return nil
}

// MarshalJSON re-emits the declaration in its original shape.
func (o OutputSpec) MarshalJSON() ([]byte, error) {
	switch o.Shape {
	case OutputShapeList:
		return json.Marshal(o.Keys)
	case OutputShapePanels:
		return json.Marshal(map[string]any{"panels": o.Panels})
	case OutputShapeKeyed:
		return json.Marshal(o.Keyed)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalYAML routes YAML documents through the same shape detection.
func (o *OutputSpec) UnmarshalYAML(unmarshal func(any) error) error {
	var value any
	if err := unmarshal(&value); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return NewErrorf(ErrCodeValidation, "outputs declaration is not serializable: %s", err.Error())
	}
	return o.UnmarshalJSON(data)
}

// DeclaredKeys returns the top-level output keys for the list and keyed shapes.
// Panel-grouped declarations have no top-level keys to enumerate.
func (o OutputSpec) DeclaredKeys() []string {
	switch o.Shape {
	case OutputShapeList:
		return o.Keys
	case OutputShapeKeyed:
		keys := make([]string, 0, len(o.Keyed))
		for k := range o.Keyed {
			keys = append(keys, k)
		}
		return keys
	default:
		return nil
	}
}
