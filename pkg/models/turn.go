package models

import "time"

// PlanTurnIndex is the index of the synthetic planning turn emitted before
// the first real iteration when loop planning is enabled.
const PlanTurnIndex = -1

// Turn is one round of the tool-calling loop: a model call plus the tools
// it requested and their results. Indices within one loop run are strictly
// increasing starting at 0; the optional planning turn uses PlanTurnIndex
// and carries Plan instead of tool data.
//
// A turn with a non-empty AssistantMessage and no tool calls is terminal
// for the loop invocation and is marked Final.
type Turn struct {
	Index            int          `json:"index"`
	ToolCalls        []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults      []ToolResult `json:"tool_results,omitempty"`
	AssistantMessage string       `json:"assistant_message,omitempty"`
	Plan             string       `json:"plan,omitempty"`
	Final            bool         `json:"final,omitempty"`
	StartedAt        time.Time    `json:"started_at"`
	CompletedAt      time.Time    `json:"completed_at"`
}

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ChatMessage is a single message in a conversation passed to a provider.
type ChatMessage struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}
