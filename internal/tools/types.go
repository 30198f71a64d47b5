// Package tools implements the static tool descriptor table and the
// tools/call dispatcher of §4.6, grounded on the teacher's
// registry.Tool/JSONSchema/PropertySchema shapes and the switch-dispatch
// idiom of discovery.HandleBuiltinTool.
package tools

// PropertySchema is a single JSON-Schema-like property descriptor, used
// only for client discovery — server-side validation is tool-specific and
// lives in internal/security plus this package's argument checks.
type PropertySchema struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
}

// JSONSchema is the inputSchema shape returned by tools/list.
type JSONSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]PropertySchema `json:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty"`
}

// Tool is one static tool descriptor (§3 "Tool descriptor").
type Tool struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	InputSchema JSONSchema `json:"inputSchema"`
}

func floatPtr(v float64) *float64 { return &v }
