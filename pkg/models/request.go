package models

// ChatRequest is the exposed request shape for starting a workflow run.
// Zero values fall back to server configuration; pointer fields distinguish
// "unset" from an explicit false.
type ChatRequest struct {
	Message             string        `json:"message"`
	Model               string        `json:"model,omitempty"`
	Provider            string        `json:"provider,omitempty"`
	ConversationID      string        `json:"conversation_id,omitempty"`
	WorkflowID          string        `json:"workflow_id,omitempty"`
	EnabledTools        []string      `json:"enabled_tools,omitempty"`
	MaxSteps            int           `json:"max_steps,omitempty"`
	MaxRePlans          *int          `json:"max_replans,omitempty"`
	TimeoutMs           int64         `json:"timeout_ms,omitempty"`
	StepTimeoutMs       int64         `json:"step_timeout_ms,omitempty"`
	EnablePlanning      *bool         `json:"enable_planning,omitempty"`
	EnableReflection    *bool         `json:"enable_reflection,omitempty"`
	Host                string        `json:"host,omitempty"`
	ConversationHistory []ChatMessage `json:"conversation_history,omitempty"`
	PresetID            string        `json:"preset_id,omitempty"`
}
