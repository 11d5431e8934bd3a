package agent

import (
	"context"
	"strings"
	"time"

	"github.com/loamlabs/loam/pkg/models"
)

// LoopConfig configures tool-calling loop behavior.
type LoopConfig struct {
	// MaxIterations limits the number of tool-use iterations.
	// Default: 8
	MaxIterations int

	// MaxTokens is the default max tokens for model responses.
	// Default: 4096
	MaxTokens int
}

// DefaultLoopConfig returns the default loop configuration.
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		MaxIterations: 8,
		MaxTokens:     4096,
	}
}

func sanitizeLoopConfig(config *LoopConfig) *LoopConfig {
	if config == nil {
		return DefaultLoopConfig()
	}
	cfg := *config
	defaults := DefaultLoopConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaults.MaxIterations
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	return &cfg
}

// RunOptions are per-invocation settings for the loop.
type RunOptions struct {
	// Messages seeds the conversation, ending with the user's request.
	Messages []models.ChatMessage

	// Model selects the model; empty uses the provider default.
	Model string

	// SystemPrompt overrides the system prompt when non-empty.
	SystemPrompt string

	// Temperature overrides the provider default when non-nil.
	Temperature *float32

	// MaxIterations overrides the configured iteration budget when > 0.
	MaxIterations int

	// EnabledTools restricts which registered tools are offered to the
	// model. Nil offers all registered tools.
	EnabledTools []string

	// EnablePlanning runs the tool-less planning pre-step before the
	// first iteration.
	EnablePlanning bool

	// OnDelta receives incremental assistant text as it streams.
	OnDelta func(delta string)

	// OnToolCall is invoked for each tool call before it executes.
	OnToolCall func(call models.ToolCall)

	// OnToolResult is invoked with each result after its call executes
	// and before the next call starts.
	OnToolResult func(result models.ToolResult)
}

// TurnChunk is one element of the loop's lazy turn sequence. Exactly one
// of Turn or Err is set; a chunk with Err, or a Turn marked Final, ends
// the sequence.
type TurnChunk struct {
	Turn *models.Turn
	Err  error
}

const planningInstruction = "Before doing anything, write a short numbered plan " +
	"for how you will handle the request. Respond with the plan only."

const proceedInstruction = "Proceed with the plan, one step at a time."

// Loop drives one conversation forward across bounded iterations,
// translating model tool requests into registry calls and appending
// results back into the conversation.
//
// Tool calls within a turn run sequentially, in request order: each result
// is appended to the conversation before the next call starts, since later
// calls may depend on the updated context.
type Loop struct {
	provider ChatProvider
	registry *ToolRegistry
	config   *LoopConfig
	ids      *CallIDGenerator
}

// NewLoop creates a loop over the given provider and registry.
// If config is nil, DefaultLoopConfig is used.
func NewLoop(provider ChatProvider, registry *ToolRegistry, config *LoopConfig) *Loop {
	if registry == nil {
		registry = NewToolRegistry(nil)
	}
	return &Loop{
		provider: provider,
		registry: registry,
		config:   sanitizeLoopConfig(config),
		ids:      NewCallIDGenerator(),
	}
}

// Run executes the loop and returns a lazy sequence of turns, terminated
// by exactly one final turn or one error chunk. The channel is unbuffered:
// a slow consumer blocks the loop's progress rather than dropping turns.
// Callers must drain the channel until it closes.
func (l *Loop) Run(ctx context.Context, opts RunOptions) (<-chan *TurnChunk, error) {
	if l.provider == nil {
		return nil, ErrNoProvider
	}

	chunks := make(chan *TurnChunk)
	go func() {
		defer close(chunks)
		l.run(ctx, opts, chunks)
	}()
	return chunks, nil
}

func (l *Loop) run(ctx context.Context, opts RunOptions, chunks chan<- *TurnChunk) {
	maxIterations := l.config.MaxIterations
	if opts.MaxIterations > 0 {
		maxIterations = opts.MaxIterations
	}

	messages := append([]models.ChatMessage(nil), opts.Messages...)

	if opts.EnablePlanning {
		messages = l.planningPreStep(ctx, opts, messages, chunks)
		if ctx.Err() != nil {
			l.fail(ctx, chunks, &LoopError{Phase: PhasePlan, Iteration: models.PlanTurnIndex, Cause: ctx.Err()})
			return
		}
	}

	for iteration := 0; iteration < maxIterations; iteration++ {
		if ctx.Err() != nil {
			l.fail(ctx, chunks, &LoopError{Phase: PhaseChat, Iteration: iteration, Cause: ctx.Err()})
			return
		}

		started := time.Now()
		resp, err := l.provider.Chat(ctx, &ChatRequest{
			Model:       opts.Model,
			System:      opts.SystemPrompt,
			Messages:    messages,
			Tools:       l.registry.List(opts.EnabledTools),
			Temperature: opts.Temperature,
			MaxTokens:   l.config.MaxTokens,
			OnDelta:     opts.OnDelta,
		})
		if err != nil {
			l.fail(ctx, chunks, &LoopError{Phase: PhaseChat, Iteration: iteration, Cause: err})
			return
		}

		toolCalls := l.normalizeCalls(resp.ToolCalls)
		if len(toolCalls) == 0 {
			// Textual fallback matches against all registered names,
			// not just the enabled subset.
			toolCalls = ExtractToolCalls(resp.Content, l.registry.ListNames(), l.ids)
		}
		if len(toolCalls) == 0 {
			l.send(ctx, chunks, &TurnChunk{Turn: &models.Turn{
				Index:            iteration,
				AssistantMessage: resp.Content,
				Final:            true,
				StartedAt:        started,
				CompletedAt:      time.Now(),
			}})
			return
		}

		messages = append(messages, models.ChatMessage{
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: toolCalls,
		})

		turn := &models.Turn{
			Index:     iteration,
			ToolCalls: toolCalls,
			StartedAt: started,
		}
		for _, call := range toolCalls {
			if ctx.Err() != nil {
				l.fail(ctx, chunks, &LoopError{Phase: PhaseTools, Iteration: iteration, Cause: ctx.Err()})
				return
			}
			if opts.OnToolCall != nil {
				opts.OnToolCall(call)
			}

			result, execErr := l.registry.Execute(ctx, call)
			if execErr != nil {
				l.fail(ctx, chunks, &LoopError{Phase: PhaseTools, Iteration: iteration, Cause: execErr})
				return
			}
			if opts.OnToolResult != nil {
				opts.OnToolResult(result)
			}

			turn.ToolResults = append(turn.ToolResults, result)
			messages = append(messages, models.ChatMessage{
				Role:        models.RoleTool,
				Content:     resultFeedback(result),
				ToolResults: []models.ToolResult{result},
			})
		}
		turn.CompletedAt = time.Now()

		if !l.send(ctx, chunks, &TurnChunk{Turn: turn}) {
			return
		}
	}

	// Budget exhausted: force a text-only answer with no tools offered.
	started := time.Now()
	resp, err := l.provider.Chat(ctx, &ChatRequest{
		Model:       opts.Model,
		System:      opts.SystemPrompt,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   l.config.MaxTokens,
		OnDelta:     opts.OnDelta,
	})
	if err != nil {
		l.fail(ctx, chunks, &LoopError{Phase: PhaseFinalize, Iteration: maxIterations, Cause: err})
		return
	}
	l.send(ctx, chunks, &TurnChunk{Turn: &models.Turn{
		Index:            maxIterations,
		AssistantMessage: resp.Content,
		Final:            true,
		StartedAt:        started,
		CompletedAt:      time.Now(),
	}})
}

// planningPreStep asks for a short enumerated plan with no tools offered.
// Failure is non-fatal: the loop proceeds without a plan and the error is
// never surfaced to the caller.
func (l *Loop) planningPreStep(ctx context.Context, opts RunOptions, messages []models.ChatMessage, chunks chan<- *TurnChunk) []models.ChatMessage {
	started := time.Now()
	planMessages := append(append([]models.ChatMessage(nil), messages...), models.ChatMessage{
		Role:    models.RoleUser,
		Content: planningInstruction,
	})

	resp, err := l.provider.Chat(ctx, &ChatRequest{
		Model:       opts.Model,
		System:      opts.SystemPrompt,
		Messages:    planMessages,
		Temperature: opts.Temperature,
		MaxTokens:   l.config.MaxTokens,
	})
	if err != nil {
		return messages
	}
	if strings.TrimSpace(resp.Content) == "" {
		return messages
	}

	l.send(ctx, chunks, &TurnChunk{Turn: &models.Turn{
		Index:       models.PlanTurnIndex,
		Plan:        resp.Content,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}})

	return append(messages,
		models.ChatMessage{Role: models.RoleAssistant, Content: resp.Content},
		models.ChatMessage{Role: models.RoleUser, Content: proceedInstruction},
	)
}

// normalizeCalls synthesizes ids for provider tool calls that lack them.
func (l *Loop) normalizeCalls(calls []models.ToolCall) []models.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]models.ToolCall, len(calls))
	for i, call := range calls {
		if call.ID == "" {
			call.ID = l.ids.Next()
		}
		if len(call.Arguments) == 0 {
			call.Arguments = []byte(`{}`)
		}
		out[i] = call
	}
	return out
}

// resultFeedback renders a tool result for the conversation. Failures are
// tagged so the model can react to them.
func resultFeedback(result models.ToolResult) string {
	if result.Success {
		return result.Content
	}
	return "Error: " + result.Error
}

func (l *Loop) send(ctx context.Context, chunks chan<- *TurnChunk, chunk *TurnChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		l.fail(ctx, chunks, &LoopError{Phase: PhaseFinalize, Iteration: chunk.Turn.Index, Cause: ctx.Err()})
		return false
	}
}

// fail delivers the terminal error chunk. The caller of Run must drain the
// channel until it closes, so a blocking send here cannot deadlock.
func (l *Loop) fail(_ context.Context, chunks chan<- *TurnChunk, err *LoopError) {
	chunks <- &TurnChunk{Err: err}
}
