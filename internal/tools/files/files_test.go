package files

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func decodeOutput(t *testing.T, content string) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		t.Fatalf("invalid tool output %q: %v", content, err)
	}
	return result
}

func TestResolver_ConfinesToWorkspace(t *testing.T) {
	root := t.TempDir()
	r := Resolver{Root: root}

	if _, err := r.Resolve("notes.txt"); err != nil {
		t.Errorf("relative path rejected: %v", err)
	}
	if _, err := r.Resolve("sub/dir/notes.txt"); err != nil {
		t.Errorf("nested path rejected: %v", err)
	}
	if _, err := r.Resolve("../outside.txt"); err == nil {
		t.Error("parent escape accepted")
	}
	if _, err := r.Resolve("sub/../../outside.txt"); err == nil {
		t.Error("nested escape accepted")
	}
	if _, err := r.Resolve("/etc/passwd"); err == nil {
		t.Error("absolute path outside workspace accepted")
	}
	if _, err := r.Resolve("  "); err == nil {
		t.Error("blank path accepted")
	}

	// An absolute path inside the workspace is fine.
	if _, err := r.Resolve(filepath.Join(root, "ok.txt")); err != nil {
		t.Errorf("absolute in-workspace path rejected: %v", err)
	}
}

func TestReadTool(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("hello workspace"), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := NewReadTool(Config{Workspace: root})

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"notes.txt"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	result := decodeOutput(t, out.Content)
	if result["content"] != "hello workspace" {
		t.Errorf("content = %v", result["content"])
	}
	if result["truncated"] != false {
		t.Errorf("truncated = %v", result["truncated"])
	}
}

func TestReadTool_OffsetAndLimit(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "data.txt"), []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := NewReadTool(Config{Workspace: root})

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"data.txt","offset":2,"max_bytes":4}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	result := decodeOutput(t, out.Content)
	if result["content"] != "2345" {
		t.Errorf("content = %v, want 2345", result["content"])
	}
	if result["truncated"] != true {
		t.Errorf("truncated = %v, want true", result["truncated"])
	}
}

func TestReadTool_Failures(t *testing.T) {
	root := t.TempDir()
	tool := NewReadTool(Config{Workspace: root})

	cases := []struct {
		name string
		args string
	}{
		{"missing file", `{"path":"nope.txt"}`},
		{"escape", `{"path":"../secret"}`},
		{"empty path", `{"path":""}`},
		{"negative offset", `{"path":"a.txt","offset":-1}`},
		{"directory", `{"path":"."}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tool.Execute(context.Background(), json.RawMessage(tc.args)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestListTool(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"b.txt", "a.txt"} {
		if err := os.WriteFile(filepath.Join(root, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	tool := NewListTool(Config{Workspace: root})

	out, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	result := decodeOutput(t, out.Content)
	entries, ok := result["entries"].([]any)
	if !ok || len(entries) != 3 {
		t.Fatalf("entries = %v", result["entries"])
	}
	if entries[0] != "a.txt" || entries[1] != "b.txt" {
		t.Errorf("entries not sorted: %v", entries)
	}
	if dir, _ := entries[2].(string); !strings.HasPrefix(dir, "sub") || !strings.HasSuffix(dir, string(filepath.Separator)) {
		t.Errorf("directory entry = %v, want sub%c", entries[2], filepath.Separator)
	}
}

func TestListTool_EscapeRejected(t *testing.T) {
	tool := NewListTool(Config{Workspace: t.TempDir()})
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"path":".."}`)); err == nil {
		t.Error("expected an error for an escaping path")
	}
}

func TestWriteTool(t *testing.T) {
	root := t.TempDir()
	tool := NewWriteTool(Config{Workspace: root})

	out, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"sub/out.txt","content":"first"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	result := decodeOutput(t, out.Content)
	if result["bytes_written"] != float64(5) {
		t.Errorf("bytes_written = %v", result["bytes_written"])
	}

	data, err := os.ReadFile(filepath.Join(root, "sub", "out.txt"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "first" {
		t.Errorf("file content = %q", data)
	}

	// Overwrite by default.
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"sub/out.txt","content":"second"}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, _ = os.ReadFile(filepath.Join(root, "sub", "out.txt"))
	if string(data) != "second" {
		t.Errorf("after overwrite = %q", data)
	}

	// Append mode.
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"sub/out.txt","content":"+more","append":true}`)); err != nil {
		t.Fatalf("append: %v", err)
	}
	data, _ = os.ReadFile(filepath.Join(root, "sub", "out.txt"))
	if string(data) != "second+more" {
		t.Errorf("after append = %q", data)
	}
}

func TestWriteTool_EscapeRejected(t *testing.T) {
	tool := NewWriteTool(Config{Workspace: t.TempDir()})
	if _, err := tool.Execute(context.Background(), json.RawMessage(`{"path":"../evil.txt","content":"x"}`)); err == nil {
		t.Error("expected an error for an escaping path")
	}
}
