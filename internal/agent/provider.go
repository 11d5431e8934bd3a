package agent

import (
	"context"
	"encoding/json"

	"github.com/loamlabs/loam/pkg/models"
)

// ChatProvider is the contract for LLM backends.
//
// Chat performs a single model round-trip: it sends the conversation and
// returns the assistant's content plus any structured tool-call requests.
// The call may suspend indefinitely on network I/O and must honor ctx
// cancellation.
//
// Implementations must be safe for concurrent use; independent runs may
// call Chat simultaneously.
type ChatProvider interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name returns the provider name ("ollama", "openai", "anthropic").
	Name() string
}

// ChatRequest contains all parameters for one provider round-trip.
type ChatRequest struct {
	// Model selects the model; empty means the provider default.
	Model string

	// System is the system prompt, handled separately from messages.
	System string

	// Messages is the conversation history in chronological order.
	Messages []models.ChatMessage

	// Tools are the tool definitions offered for this round-trip.
	// Empty means the model must answer with text only.
	Tools []models.ToolDefinition

	// Temperature overrides the provider default when non-nil.
	Temperature *float32

	// MaxTokens limits the response length; 0 uses the provider default.
	MaxTokens int

	// OnDelta, when set, receives incremental response text as it
	// streams from the provider. The full content is still returned in
	// the ChatResponse. Providers without streaming support may invoke
	// it once with the whole content.
	OnDelta func(delta string)
}

// ChatResponse is the aggregated result of one provider round-trip.
type ChatResponse struct {
	Content   string
	ToolCalls []models.ToolCall

	InputTokens  int
	OutputTokens int
}

// ToolOutput is the payload a tool returns on success.
type ToolOutput struct {
	Content string
}

// Tool is the contract a capability must satisfy to be invoked by the
// core. The core never inspects tool internals; it validates arguments
// against Schema and calls Execute.
//
// Execute returns an error for a reported failure ("file not found");
// such errors are fed back to the model, not escalated. Panics are
// reserved for programming errors and end the run.
type Tool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage) (*ToolOutput, error)
}
