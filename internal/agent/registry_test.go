package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loamlabs/loam/pkg/models"
)

type stubTool struct {
	name    string
	schema  string
	execute func(ctx context.Context, args json.RawMessage) (*ToolOutput, error)
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return "stub " + t.name }
func (t *stubTool) Schema() json.RawMessage {
	if t.schema == "" {
		return nil
	}
	return json.RawMessage(t.schema)
}

func (t *stubTool) Execute(ctx context.Context, args json.RawMessage) (*ToolOutput, error) {
	if t.execute == nil {
		return &ToolOutput{Content: "ok"}, nil
	}
	return t.execute(ctx, args)
}

func TestRegistry_RegistrationOrder(t *testing.T) {
	registry := NewToolRegistry(nil)
	for _, name := range []string{"write_file", "read_file", "list_files"} {
		if err := registry.Register(&stubTool{name: name}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	names := registry.ListNames()
	want := []string{"write_file", "read_file", "list_files"}
	if len(names) != len(want) {
		t.Fatalf("ListNames = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("ListNames[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	// Re-registering must not duplicate the name.
	if err := registry.Register(&stubTool{name: "read_file"}); err != nil {
		t.Fatalf("re-Register: %v", err)
	}
	if got := len(registry.ListNames()); got != 3 {
		t.Errorf("ListNames after re-register has %d entries, want 3", got)
	}
}

func TestRegistry_ListEnabledSubset(t *testing.T) {
	registry := NewToolRegistry(nil)
	for _, name := range []string{"read_file", "write_file", "web_search"} {
		if err := registry.Register(&stubTool{name: name}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	defs := registry.List([]string{"web_search", "read_file"})
	if len(defs) != 2 {
		t.Fatalf("List(subset) returned %d defs, want 2", len(defs))
	}
	// Registration order wins, not the order of the subset.
	if defs[0].Name != "read_file" || defs[1].Name != "web_search" {
		t.Errorf("subset order = [%s %s], want [read_file web_search]", defs[0].Name, defs[1].Name)
	}

	if got := len(registry.List(nil)); got != 3 {
		t.Errorf("List(nil) returned %d defs, want all 3", got)
	}
	if got := len(registry.List([]string{})); got != 0 {
		t.Errorf("List(empty) returned %d defs, want 0", got)
	}
}

func TestRegistry_RejectsInvalidNames(t *testing.T) {
	registry := NewToolRegistry(nil)
	if err := registry.Register(&stubTool{name: ""}); err == nil {
		t.Error("empty name accepted")
	}
	if err := registry.Register(&stubTool{name: strings.Repeat("x", MaxToolNameLength+1)}); err == nil {
		t.Error("oversized name accepted")
	}
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	registry := NewToolRegistry(nil)
	result, err := registry.Execute(context.Background(), models.ToolCall{
		ID:   "call_1",
		Name: "nope",
	})
	if err != nil {
		t.Fatalf("unknown tool must not be fatal: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "tool not found") {
		t.Errorf("unexpected result: %+v", result)
	}
	if result.ToolCallID != "call_1" {
		t.Errorf("result not correlated to call: %q", result.ToolCallID)
	}
}

func TestRegistry_SchemaValidation(t *testing.T) {
	registry := NewToolRegistry(nil)
	tool := &stubTool{
		name:   "read_file",
		schema: `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`,
	}
	if err := registry.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, err := registry.Execute(context.Background(), models.ToolCall{
		ID:        "call_1",
		Name:      "read_file",
		Arguments: json.RawMessage(`{"path":42}`),
	})
	if err != nil {
		t.Fatalf("validation failure must not be fatal: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "invalid tool arguments") {
		t.Errorf("unexpected result: %+v", result)
	}

	// Missing required property.
	result, err = registry.Execute(context.Background(), models.ToolCall{
		ID:        "call_2",
		Name:      "read_file",
		Arguments: nil,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Error("missing required argument passed validation")
	}

	// Valid arguments reach the handler.
	result, err = registry.Execute(context.Background(), models.ToolCall{
		ID:        "call_3",
		Name:      "read_file",
		Arguments: json.RawMessage(`{"path":"a.txt"}`),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success || result.Content != "ok" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestRegistry_RejectsMalformedSchema(t *testing.T) {
	registry := NewToolRegistry(nil)
	err := registry.Register(&stubTool{name: "bad", schema: `{"type":`})
	if err == nil {
		t.Error("malformed schema accepted at registration")
	}
}

func TestRegistry_ExecuteOversizedArguments(t *testing.T) {
	registry := NewToolRegistry(nil)
	if err := registry.Register(&stubTool{name: "read_file"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	huge := make([]byte, MaxToolArgsSize+1)
	result, err := registry.Execute(context.Background(), models.ToolCall{
		ID:        "call_1",
		Name:      "read_file",
		Arguments: huge,
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "maximum size") {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestRegistry_ToolErrorBecomesFailedResult(t *testing.T) {
	registry := NewToolRegistry(nil)
	tool := &stubTool{
		name: "read_file",
		execute: func(ctx context.Context, args json.RawMessage) (*ToolOutput, error) {
			return nil, errors.New("permission denied")
		},
	}
	if err := registry.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, err := registry.Execute(context.Background(), models.ToolCall{ID: "call_1", Name: "read_file"})
	if err != nil {
		t.Fatalf("tool-reported error must not be fatal: %v", err)
	}
	if result.Success || !strings.Contains(result.Error, "permission denied") {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestRegistry_PanicIsFatal(t *testing.T) {
	registry := NewToolRegistry(nil)
	tool := &stubTool{
		name: "boom",
		execute: func(ctx context.Context, args json.RawMessage) (*ToolOutput, error) {
			panic("nil map write")
		},
	}
	if err := registry.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	_, err := registry.Execute(context.Background(), models.ToolCall{ID: "call_1", Name: "boom"})
	if err == nil {
		t.Fatal("panic must surface as an error")
	}
	toolErr, ok := GetToolError(err)
	if !ok || toolErr.Type != ToolErrorPanic {
		t.Errorf("expected panic ToolError, got %v", err)
	}
	if !errors.Is(err, ErrToolPanic) {
		t.Errorf("panic error chain missing ErrToolPanic: %v", err)
	}
}

func TestRegistry_RetriesRetryableErrors(t *testing.T) {
	var attempts int32
	registry := NewToolRegistry(&ExecConfig{
		Timeout:         time.Second,
		Retries:         2,
		RetryBackoff:    time.Millisecond,
		MaxRetryBackoff: time.Millisecond,
	})
	tool := &stubTool{
		name: "fetch",
		execute: func(ctx context.Context, args json.RawMessage) (*ToolOutput, error) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				return nil, errors.New("connection refused")
			}
			return &ToolOutput{Content: "fetched"}, nil
		},
	}
	if err := registry.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, err := registry.Execute(context.Background(), models.ToolCall{ID: "call_1", Name: "fetch"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success || result.Content != "fetched" {
		t.Errorf("unexpected result after retries: %+v", result)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestRegistry_DoesNotRetryNonRetryable(t *testing.T) {
	var attempts int32
	registry := NewToolRegistry(&ExecConfig{
		Timeout:      time.Second,
		Retries:      2,
		RetryBackoff: time.Millisecond,
	})
	tool := &stubTool{
		name: "write_file",
		execute: func(ctx context.Context, args json.RawMessage) (*ToolOutput, error) {
			atomic.AddInt32(&attempts, 1)
			return nil, errors.New("disk full")
		},
	}
	if err := registry.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, err := registry.Execute(context.Background(), models.ToolCall{ID: "call_1", Name: "write_file"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Errorf("expected failure, got %+v", result)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestRegistry_AttemptTimeout(t *testing.T) {
	registry := NewToolRegistry(&ExecConfig{
		Timeout:      20 * time.Millisecond,
		Retries:      0,
		RetryBackoff: time.Millisecond,
	})
	tool := &stubTool{
		name: "slow",
		execute: func(ctx context.Context, args json.RawMessage) (*ToolOutput, error) {
			select {
			case <-time.After(5 * time.Second):
				return &ToolOutput{Content: "too late"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	if err := registry.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	start := time.Now()
	result, err := registry.Execute(context.Background(), models.ToolCall{ID: "call_1", Name: "slow"})
	if err != nil {
		t.Fatalf("timeout must not be fatal: %v", err)
	}
	if result.Success {
		t.Errorf("expected timed-out failure, got %+v", result)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Execute took %v, timeout not enforced", elapsed)
	}
}

func TestRegistry_ParentCancellationStopsRetries(t *testing.T) {
	var attempts int32
	registry := NewToolRegistry(&ExecConfig{
		Timeout:      time.Second,
		Retries:      5,
		RetryBackoff: 10 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	tool := &stubTool{
		name: "fetch",
		execute: func(c context.Context, args json.RawMessage) (*ToolOutput, error) {
			atomic.AddInt32(&attempts, 1)
			cancel()
			return nil, errors.New("connection refused")
		},
	}
	if err := registry.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	result, err := registry.Execute(ctx, models.ToolCall{ID: "call_1", Name: "fetch"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Errorf("expected failure, got %+v", result)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("attempts after cancellation = %d, want 1", got)
	}
}

func TestRegistry_ConcurrentExecute(t *testing.T) {
	registry := NewToolRegistry(nil)
	tool := &stubTool{
		name: "echo",
		execute: func(ctx context.Context, args json.RawMessage) (*ToolOutput, error) {
			return &ToolOutput{Content: string(args)}, nil
		},
	}
	if err := registry.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	done := make(chan error, 16)
	for i := 0; i < 16; i++ {
		go func() {
			result, err := registry.Execute(context.Background(), models.ToolCall{
				ID:        "call",
				Name:      "echo",
				Arguments: json.RawMessage(`{"n":1}`),
			})
			if err == nil && !result.Success {
				err = errors.New(result.Error)
			}
			done <- err
		}()
	}
	for i := 0; i < 16; i++ {
		if err := <-done; err != nil {
			t.Errorf("concurrent Execute: %v", err)
		}
	}
}
