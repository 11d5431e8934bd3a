package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/loamlabs/loam/pkg/models"
)

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolArgsSize is the maximum size of tool arguments JSON (10MB).
	MaxToolArgsSize = 10 << 20
)

// ExecConfig configures per-call tool execution policy.
type ExecConfig struct {
	// Timeout bounds a single tool execution attempt.
	// Default: 30s
	Timeout time.Duration

	// Retries is the number of retries for retryable errors.
	// Default: 2
	Retries int

	// RetryBackoff is the initial backoff duration between retries.
	// Default: 100ms
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the exponential backoff.
	// Default: 5s
	MaxRetryBackoff time.Duration
}

// DefaultExecConfig returns the default execution policy.
func DefaultExecConfig() *ExecConfig {
	return &ExecConfig{
		Timeout:         30 * time.Second,
		Retries:         2,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

// ToolRegistry maps tool names to handlers with thread-safe registration
// and lookup. It is the only object shared across concurrent runs; Execute
// is safe for concurrent calls from unrelated runs and places no ordering
// constraint across them.
//
// Arguments are validated against each tool's JSON Schema before the
// handler runs. Expected failures resolve to a ToolResult with
// Success=false; the error return is reserved for programming faults
// (panics), which callers treat as fatal.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	names   []string

	config *ExecConfig
}

// NewToolRegistry creates an empty registry with the given execution
// policy. If config is nil, DefaultExecConfig is used.
func NewToolRegistry(config *ExecConfig) *ToolRegistry {
	if config == nil {
		config = DefaultExecConfig()
	}
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		config:  config,
	}
}

// Register adds a tool to the registry, compiling its parameter schema.
// A tool with the same name replaces the previous registration.
func (r *ToolRegistry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("invalid tool name %q", name)
	}

	var schema *jsonschema.Schema
	if raw := tool.Schema(); len(raw) > 0 {
		compiler := jsonschema.NewCompiler()
		url := "tool://" + name + "/schema.json"
		if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("tool %s: add schema: %w", name, err)
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			return fmt.Errorf("tool %s: compile schema: %w", name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		r.names = append(r.names, name)
	}
	r.tools[name] = tool
	r.schemas[name] = schema
	return nil
}

// ListNames returns all registered tool names in registration order,
// regardless of enablement.
func (r *ToolRegistry) ListNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.names...)
}

// List returns definitions for the enabled subset in registration order.
// A nil subset means all registered tools.
func (r *ToolRegistry) List(enabled []string) []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var allow map[string]bool
	if enabled != nil {
		allow = make(map[string]bool, len(enabled))
		for _, name := range enabled {
			allow[name] = true
		}
	}

	defs := make([]models.ToolDefinition, 0, len(r.names))
	for _, name := range r.names {
		if allow != nil && !allow[name] {
			continue
		}
		tool := r.tools[name]
		defs = append(defs, models.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
	}
	return defs
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Execute runs a tool call with schema validation, per-attempt timeout,
// and retry on retryable failures. Expected failures (unknown tool, bad
// arguments, tool-reported errors) resolve to a failed ToolResult; the
// error return is non-nil only for panics inside the tool.
func (r *ToolRegistry) Execute(ctx context.Context, call models.ToolCall) (models.ToolResult, error) {
	failed := func(msg string) models.ToolResult {
		return models.ToolResult{ToolCallID: call.ID, Success: false, Error: msg}
	}

	if len(call.Arguments) > MaxToolArgsSize {
		return failed(fmt.Sprintf("tool arguments exceed maximum size of %d bytes", MaxToolArgsSize)), nil
	}

	r.mu.RLock()
	tool, ok := r.tools[call.Name]
	schema := r.schemas[call.Name]
	r.mu.RUnlock()
	if !ok {
		return failed("tool not found: " + call.Name), nil
	}

	if schema != nil {
		var doc any
		args := call.Arguments
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		if err := json.Unmarshal(args, &doc); err != nil {
			return failed("invalid tool arguments: " + err.Error()), nil
		}
		if err := schema.Validate(doc); err != nil {
			return failed("invalid tool arguments: " + err.Error()), nil
		}
	}

	var lastErr error
	for attempt := 0; attempt <= r.config.Retries; attempt++ {
		out, err := r.executeWithTimeout(ctx, tool, call)
		if err == nil {
			return models.ToolResult{
				ToolCallID: call.ID,
				Content:    out.Content,
				Success:    true,
			}, nil
		}
		if toolErr, ok := GetToolError(err); ok && toolErr.Type == ToolErrorPanic {
			return models.ToolResult{}, toolErr.WithAttempts(attempt + 1)
		}
		lastErr = err

		if !IsToolRetryable(err) || ctx.Err() != nil || attempt >= r.config.Retries {
			break
		}

		sleep := r.config.RetryBackoff * time.Duration(1<<uint(attempt))
		if sleep > r.config.MaxRetryBackoff {
			sleep = r.config.MaxRetryBackoff
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			lastErr = ctx.Err()
		}
		if ctx.Err() != nil {
			break
		}
	}

	return failed(lastErr.Error()), nil
}

func (r *ToolRegistry) executeWithTimeout(ctx context.Context, tool Tool, call models.ToolCall) (*ToolOutput, error) {
	execCtx := ctx
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	type execResult struct {
		out *ToolOutput
		err error
	}
	resultCh := make(chan execResult, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				stack := debug.Stack()
				err := NewToolError(call.Name, fmt.Errorf("%w: %v\n%s", ErrToolPanic, rec, stack)).
					WithType(ToolErrorPanic).
					WithToolCallID(call.ID)
				resultCh <- execResult{err: err}
			}
		}()

		out, err := tool.Execute(execCtx, call.Arguments)
		if err != nil {
			resultCh <- execResult{err: NewToolError(call.Name, err).WithToolCallID(call.ID)}
			return
		}
		if out == nil {
			out = &ToolOutput{}
		}
		resultCh <- execResult{out: out}
	}()

	select {
	case res := <-resultCh:
		return res.out, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, NewToolError(call.Name, ctx.Err()).
				WithType(ToolErrorTimeout).
				WithToolCallID(call.ID)
		}
		return nil, NewToolError(call.Name, ErrToolTimeout).
			WithType(ToolErrorTimeout).
			WithToolCallID(call.ID)
	}
}
