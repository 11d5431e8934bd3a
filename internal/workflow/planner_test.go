package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/loamlabs/loam/internal/agent"
	"github.com/loamlabs/loam/pkg/models"
)

// scriptedProvider answers Chat calls from a fixed list of responses, in
// order, and records the requests it saw.
type scriptedProvider struct {
	mu        sync.Mutex
	requests  []*agent.ChatRequest
	responses []*agent.ChatResponse
	errs      []error
	calls     int
}

func (p *scriptedProvider) Chat(ctx context.Context, req *agent.ChatRequest) (*agent.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	idx := p.calls
	p.calls++
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if idx < len(p.errs) && p.errs[idx] != nil {
		return nil, p.errs[idx]
	}
	if idx < len(p.responses) {
		resp := p.responses[idx]
		if req.OnDelta != nil && resp.Content != "" {
			req.OnDelta(resp.Content)
		}
		return resp, nil
	}
	return &agent.ChatResponse{Content: "done"}, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedProvider) request(i int) *agent.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

const validPlanJSON = `{
  "goal": "summarize the report",
  "steps": [
    {"id": "step-1", "description": "read the report", "expected_tools": ["read_file"]},
    {"id": "step-2", "description": "write the summary", "depends_on": ["step-1"]}
  ]
}`

func TestParsePlan_PlainJSON(t *testing.T) {
	plan, err := ParsePlan(validPlanJSON)
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if plan.Goal != "summarize the report" {
		t.Errorf("goal = %q", plan.Goal)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(plan.Steps))
	}
	if plan.Steps[1].DependsOn[0] != "step-1" {
		t.Errorf("depends_on = %v", plan.Steps[1].DependsOn)
	}
}

func TestParsePlan_CodeFences(t *testing.T) {
	text := "Here is the plan:\n```json\n" + validPlanJSON + "\n```\nLet me know."
	plan, err := ParsePlan(text)
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if len(plan.Steps) != 2 {
		t.Errorf("steps = %d, want 2", len(plan.Steps))
	}
}

func TestParsePlan_SurroundingProse(t *testing.T) {
	text := "Sure! " + validPlanJSON + " Anything else?"
	if _, err := ParsePlan(text); err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
}

func TestParsePlan_AutoFillsMissingIDs(t *testing.T) {
	plan, err := ParsePlan(`{"goal":"g","steps":[{"description":"first"},{"description":"second"}]}`)
	if err != nil {
		t.Fatalf("ParsePlan: %v", err)
	}
	if plan.Steps[0].ID != "step-1" || plan.Steps[1].ID != "step-2" {
		t.Errorf("ids = %q, %q", plan.Steps[0].ID, plan.Steps[1].ID)
	}
}

func TestParsePlan_Rejections(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"no json", "I cannot plan this."},
		{"unbalanced", `{"goal":"g","steps":[{"description":"x"}`},
		{"no steps", `{"goal":"g","steps":[]}`},
		{"duplicate ids", `{"goal":"g","steps":[{"id":"a","description":"x"},{"id":"a","description":"y"}]}`},
		{"empty description", `{"goal":"g","steps":[{"id":"a","description":"  "}]}`},
		{"forward dependency", `{"goal":"g","steps":[{"id":"a","description":"x","depends_on":["b"]},{"id":"b","description":"y"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParsePlan(tc.text); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestBuildPlan_TruncatesToMaxSteps(t *testing.T) {
	provider := &scriptedProvider{responses: []*agent.ChatResponse{{Content: validPlanJSON}}}
	planner := NewPlanner(provider, 1)

	plan, err := planner.BuildPlan(context.Background(), "summarize", nil, nil, models.WorkflowConfig{Model: "m"})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(plan.Steps) != 1 {
		t.Errorf("steps = %d, want 1", len(plan.Steps))
	}
	if plan.Version != 1 {
		t.Errorf("version = %d, want 1", plan.Version)
	}
	if plan.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
}

func TestBuildPlan_RetriesOnceOnMalformedResponse(t *testing.T) {
	provider := &scriptedProvider{responses: []*agent.ChatResponse{
		{Content: "no plan here"},
		{Content: validPlanJSON},
	}}
	planner := NewPlanner(provider, 0)

	plan, err := planner.BuildPlan(context.Background(), "summarize", nil, nil, models.WorkflowConfig{Model: "m"})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if len(plan.Steps) != 2 {
		t.Errorf("steps = %d, want 2", len(plan.Steps))
	}
	if provider.callCount() != 2 {
		t.Fatalf("calls = %d, want 2", provider.callCount())
	}

	retry := provider.request(1)
	last := retry.Messages[len(retry.Messages)-1]
	if last.Role != models.RoleUser || !strings.Contains(last.Content, "not a valid plan") {
		t.Errorf("retry prompt missing parse feedback: %+v", last)
	}
}

func TestBuildPlan_FailsAfterSecondMalformedResponse(t *testing.T) {
	provider := &scriptedProvider{responses: []*agent.ChatResponse{
		{Content: "still not json"},
		{Content: "nope"},
	}}
	planner := NewPlanner(provider, 0)

	if _, err := planner.BuildPlan(context.Background(), "summarize", nil, nil, models.WorkflowConfig{Model: "m"}); err == nil {
		t.Error("expected an error after two malformed responses")
	}
	if provider.callCount() != 2 {
		t.Errorf("calls = %d, want 2", provider.callCount())
	}
}

func TestBuildPlan_ProviderError(t *testing.T) {
	provider := &scriptedProvider{errs: []error{errors.New("connection refused")}}
	planner := NewPlanner(provider, 0)

	if _, err := planner.BuildPlan(context.Background(), "summarize", nil, nil, models.WorkflowConfig{Model: "m"}); err == nil {
		t.Error("expected the provider error to surface")
	}
}

func TestBuildPlan_ToolCatalogInSystemPrompt(t *testing.T) {
	provider := &scriptedProvider{responses: []*agent.ChatResponse{{Content: validPlanJSON}}}
	planner := NewPlanner(provider, 0)

	tools := []models.ToolDefinition{{Name: "read_file", Description: "Read a file"}}
	if _, err := planner.BuildPlan(context.Background(), "summarize", nil, tools, models.WorkflowConfig{Model: "m"}); err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}

	system := provider.request(0).System
	if !strings.Contains(system, "read_file: Read a file") {
		t.Errorf("tool catalog missing from system prompt: %q", system)
	}
}
