package models

import "time"

// EventType discriminates workflow stream events. The set is closed:
// consumers may rely on receiving no other values.
type EventType string

const (
	EventWorkflowStart EventType = "workflow_start"
	EventPlan          EventType = "plan"
	EventStepStart     EventType = "step_start"
	EventToolCall      EventType = "tool_call"
	EventToolResult    EventType = "tool_result"
	EventStepEnd       EventType = "step_end"
	EventReflection    EventType = "reflection"
	EventMessage       EventType = "message"
	EventWorkflowEnd   EventType = "workflow_end"
	EventError         EventType = "error"
	EventCancelled     EventType = "cancelled"
	EventStateSnapshot EventType = "state_snapshot"
)

// MessagePayload carries assistant text. Done distinguishes incremental
// chunks from the final one.
type MessagePayload struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// WorkflowEvent is one record of the streaming wire protocol. Events are
// emitted in strict chronological order with a monotonic sequence number;
// every run ends with exactly one terminal event (workflow_end, error, or
// cancelled).
type WorkflowEvent struct {
	Type       EventType       `json:"type"`
	WorkflowID string          `json:"workflow_id"`
	StepID     string          `json:"step_id,omitempty"`
	Sequence   uint64          `json:"sequence"`
	Time       time.Time       `json:"time"`
	Status     WorkflowStatus  `json:"status,omitempty"`
	Plan       *Plan           `json:"plan,omitempty"`
	Step       *WorkflowStep   `json:"step,omitempty"`
	ToolCall   *ToolCall       `json:"tool_call,omitempty"`
	ToolResult *ToolResult     `json:"tool_result,omitempty"`
	Reflection *StepReflection `json:"reflection,omitempty"`
	Message    *MessagePayload `json:"message,omitempty"`
	Error      string          `json:"error,omitempty"`
	State      *WorkflowState  `json:"state,omitempty"`
}

// Terminal reports whether this event ends the stream for its run.
func (e *WorkflowEvent) Terminal() bool {
	switch e.Type {
	case EventWorkflowEnd, EventError, EventCancelled:
		return true
	default:
		return false
	}
}
