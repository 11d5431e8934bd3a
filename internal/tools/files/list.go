package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loamlabs/loam/internal/agent"
)

const maxListEntries = 500

// ListTool implements the list_files tool: a directory listing scoped to
// the workspace.
type ListTool struct {
	resolver Resolver
}

// NewListTool creates a list tool scoped to the workspace.
func NewListTool(cfg Config) *ListTool {
	return &ListTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *ListTool) Name() string {
	return "list_files"
}

func (t *ListTool) Description() string {
	return "List the entries of a workspace directory."
}

func (t *ListTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {
				"type": "string",
				"description": "Directory to list, relative to workspace (default: workspace root)."
			}
		}
	}`)
}

// Execute lists a directory. Entries are sorted by name, directories
// marked with a trailing separator, and long listings truncated.
func (t *ListTool) Execute(_ context.Context, args json.RawMessage) (*agent.ToolOutput, error) {
	var input struct {
		Path string `json:"path"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return nil, fmt.Errorf("invalid parameters: %w", err)
		}
	}
	path := input.Path
	if strings.TrimSpace(path) == "" {
		path = "."
	}

	resolved, err := t.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += string(filepath.Separator)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	truncated := false
	if len(names) > maxListEntries {
		names = names[:maxListEntries]
		truncated = true
	}

	result := map[string]any{
		"path":      path,
		"entries":   names,
		"count":     len(names),
		"truncated": truncated,
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &agent.ToolOutput{Content: string(payload)}, nil
}
