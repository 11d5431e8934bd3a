// Package exec provides the run_command tool: synchronous shell
// execution confined to the workspace directory. It is disabled by
// default and must be opted into via configuration.
package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/loamlabs/loam/internal/agent"
	"github.com/loamlabs/loam/internal/tools/files"
)

const (
	defaultTimeout   = 60 * time.Second
	maxOutputBytes   = 64000
	maxTimeoutMillis = 10 * 60 * 1000
)

// Config controls the command tool.
type Config struct {
	// Workspace is the directory commands run in; relative cwd values
	// resolve against it and may not escape it.
	Workspace string

	// Timeout bounds a single command. Zero uses the default.
	Timeout time.Duration
}

// CommandTool runs shell commands inside the workspace.
type CommandTool struct {
	resolver files.Resolver
	timeout  time.Duration
}

// NewCommandTool creates a command tool scoped to the workspace.
func NewCommandTool(cfg Config) *CommandTool {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &CommandTool{
		resolver: files.Resolver{Root: cfg.Workspace},
		timeout:  timeout,
	}
}

func (t *CommandTool) Name() string {
	return "run_command"
}

func (t *CommandTool) Description() string {
	return "Run a shell command in the workspace and return its output."
}

func (t *CommandTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {
				"type": "string",
				"description": "Shell command to run."
			},
			"cwd": {
				"type": "string",
				"description": "Working directory relative to workspace (default: workspace root)."
			},
			"timeout_ms": {
				"type": "integer",
				"minimum": 0,
				"description": "Time budget in milliseconds (default: 60000)."
			}
		},
		"required": ["command"]
	}`)
}

// Execute runs the command under /bin/sh -c. A non-zero exit is not an
// execution error: the result carries the exit code and both output
// streams so the model can react to failures.
func (t *CommandTool) Execute(ctx context.Context, args json.RawMessage) (*agent.ToolOutput, error) {
	var input struct {
		Command   string `json:"command"`
		Cwd       string `json:"cwd"`
		TimeoutMs int64  `json:"timeout_ms"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	if input.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	if input.TimeoutMs < 0 || input.TimeoutMs > maxTimeoutMillis {
		return nil, fmt.Errorf("timeout_ms out of range")
	}

	cwd := input.Cwd
	if cwd == "" {
		cwd = "."
	}
	dir, err := t.resolver.Resolve(cwd)
	if err != nil {
		return nil, err
	}

	timeout := t.timeout
	if input.TimeoutMs > 0 {
		timeout = time.Duration(input.TimeoutMs) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", input.Command)
	cmd.Dir = dir
	stdout := newLimitedBuffer(maxOutputBytes)
	stderr := newLimitedBuffer(maxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("command timed out after %s", timeout)
	}

	result := map[string]any{
		"command":     input.Command,
		"cwd":         cwd,
		"stdout":      stdout.String(),
		"stderr":      stderr.String(),
		"exit_code":   exitCode(runErr),
		"duration_ms": time.Since(start).Milliseconds(),
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &agent.ToolOutput{Content: string(payload)}, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// limitedBuffer keeps the first max bytes written and silently drops
// the rest, so runaway commands cannot blow up tool results.
type limitedBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.buf) >= b.max {
		return len(p), nil
	}
	remaining := b.max - len(b.buf)
	if b.max > 0 && len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
