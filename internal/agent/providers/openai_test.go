package providers

import (
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/loamlabs/loam/internal/agent"
	"github.com/loamlabs/loam/pkg/models"
)

func TestBuildOpenAIMessages(t *testing.T) {
	req := &agent.ChatRequest{
		System: "sys",
		Messages: []models.ChatMessage{
			{Role: models.RoleUser, Content: "hi"},
			{
				Role: models.RoleAssistant,
				ToolCalls: []models.ToolCall{
					{ID: "call-1", Name: "lookup", Arguments: json.RawMessage(`{"q":"test"}`)},
				},
			},
			{
				Role: models.RoleTool,
				ToolResults: []models.ToolResult{
					{ToolCallID: "call-1", Content: "ok", Success: true},
				},
			},
		},
	}

	msgs := buildOpenAIMessages(req)
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleSystem || msgs[0].Content != "sys" {
		t.Fatalf("system message mismatch: %+v", msgs[0])
	}
	if msgs[1].Role != openai.ChatMessageRoleUser || msgs[1].Content != "hi" {
		t.Errorf("user message mismatch: %+v", msgs[1])
	}
	if msgs[2].Role != openai.ChatMessageRoleAssistant || len(msgs[2].ToolCalls) != 1 {
		t.Fatalf("assistant tool calls missing: %+v", msgs[2])
	}
	if msgs[2].ToolCalls[0].Function.Name != "lookup" {
		t.Errorf("tool name = %q, want %q", msgs[2].ToolCalls[0].Function.Name, "lookup")
	}
	if msgs[3].Role != openai.ChatMessageRoleTool || msgs[3].ToolCallID != "call-1" {
		t.Errorf("tool result message mismatch: %+v", msgs[3])
	}
}

func TestBuildOpenAIMessages_DefaultsMissingRoleToUser(t *testing.T) {
	req := &agent.ChatRequest{
		Messages: []models.ChatMessage{{Content: "missing role"}},
	}

	msgs := buildOpenAIMessages(req)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleUser {
		t.Errorf("role = %q, want %q", msgs[0].Role, openai.ChatMessageRoleUser)
	}
}

func TestBuildOpenAIMessages_FailedResultTagged(t *testing.T) {
	req := &agent.ChatRequest{
		Messages: []models.ChatMessage{
			{
				Role: models.RoleTool,
				ToolResults: []models.ToolResult{
					{ToolCallID: "call-1", Success: false, Error: "file not found"},
				},
			},
		},
	}

	msgs := buildOpenAIMessages(req)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}
	if msgs[0].Content != "Error: file not found" {
		t.Errorf("failed result content = %q", msgs[0].Content)
	}
}
