package domain

import "encoding/json"

// ToolDescriptor declares a callable operation to the model.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Schema      Schema `json:"input_schema"`
}

// Schema is the object schema of a tool's arguments.
type Schema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property describes one argument field. Items is set for arrays, Properties
// and Required for nested objects.
type Property struct {
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Enum        []string            `json:"enum,omitempty"`
	Pattern     string              `json:"pattern,omitempty"`
	Items       *Property           `json:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
	Required    []string            `json:"required,omitempty"`
}

// ToolResult is the structured outcome of a tool call, fed back to the model
// as the tool_result content.
type ToolResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Content renders the result as JSON for the tool_result block.
func (r ToolResult) Content() string {
	b, err := json.Marshal(r)
	if err != nil {
		b, _ = json.Marshal(ToolResult{Error: "encode tool result: " + err.Error()})
	}
	return string(b)
}
