// Package capability catalogues the named operations a model may invoke
// mid-generation. The registry is populated once at startup and only read
// afterwards, so concurrent in-flight turns can share it freely.
package capability

import "context"

// Func executes one capability invocation. It must return an error rather
// than panic on bad input; the caller degrades failures into conversation
// content instead of aborting the turn.
type Func func(ctx context.Context, args map[string]any) (string, error)

// JSONSchema is the subset of JSON Schema used to describe parameters.
type JSONSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Required   []string       `json:"required,omitempty"`
}

// Definition is the advertised description of a registered capability,
// shaped so backends can forward it as a tool declaration.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Schema      *JSONSchema `json:"schema,omitempty"`
}

// ToolSpec renders the definition in the function-tool wire shape hosted
// providers expect.
func (d Definition) ToolSpec() map[string]any {
	fn := map[string]any{"name": d.Name}
	if d.Description != "" {
		fn["description"] = d.Description
	}
	if d.Schema != nil {
		params := map[string]any{"type": d.Schema.Type}
		if params["type"] == "" {
			params["type"] = "object"
		}
		if len(d.Schema.Properties) > 0 {
			params["properties"] = d.Schema.Properties
		}
		if len(d.Schema.Required) > 0 {
			params["required"] = append([]string(nil), d.Schema.Required...)
		}
		fn["parameters"] = params
	}
	return map[string]any{"type": "function", "function": fn}
}
