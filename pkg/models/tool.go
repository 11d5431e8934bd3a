package models

import (
	"encoding/json"
)

// ToolCall is a model's request to execute a named tool with JSON arguments.
// The ID is unique within a run; when a provider omits one, the core
// synthesizes it. A ToolCall is immutable once created.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing a single ToolCall. Exactly one
// result is produced per call within a turn. When Success is false,
// Content may be empty and Error carries the failure message.
type ToolResult struct {
	ToolCallID string `json:"call_id"`
	Content    string `json:"content"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// ToolDefinition describes a callable tool to an LLM provider: its name,
// a natural-language description, and a JSON-Schema parameter spec.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}
