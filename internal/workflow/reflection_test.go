package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/loamlabs/loam/internal/agent"
	"github.com/loamlabs/loam/pkg/models"
)

func TestParseReflection_Continue(t *testing.T) {
	reflection, err := ParseReflection(`{"assessment":"success","next_action":"continue","comment":"looks good"}`)
	if err != nil {
		t.Fatalf("ParseReflection: %v", err)
	}
	if reflection.Assessment != models.AssessmentSuccess {
		t.Errorf("assessment = %v", reflection.Assessment)
	}
	if reflection.NextAction != models.ActionContinue {
		t.Errorf("next_action = %v", reflection.NextAction)
	}
}

func TestParseReflection_CompleteWithAnswer(t *testing.T) {
	reflection, err := ParseReflection(`{"assessment":"success","next_action":"complete","final_answer":"42"}`)
	if err != nil {
		t.Fatalf("ParseReflection: %v", err)
	}
	if reflection.FinalAnswer != "42" {
		t.Errorf("final_answer = %q", reflection.FinalAnswer)
	}
}

func TestParseReflection_CodeFences(t *testing.T) {
	text := "```json\n{\"assessment\":\"partial\",\"next_action\":\"continue\"}\n```"
	reflection, err := ParseReflection(text)
	if err != nil {
		t.Fatalf("ParseReflection: %v", err)
	}
	if reflection.Assessment != models.AssessmentPartial {
		t.Errorf("assessment = %v", reflection.Assessment)
	}
}

func TestParseReflection_AdjustPlanValidated(t *testing.T) {
	text := `{"assessment":"failure","next_action":"adjust_plan","plan_adjustment":{"goal":"g","steps":[{"id":"step-1","description":"retry with the backup file"}]}}`
	reflection, err := ParseReflection(text)
	if err != nil {
		t.Fatalf("ParseReflection: %v", err)
	}
	if reflection.PlanAdjustment == nil || len(reflection.PlanAdjustment.Steps) != 1 {
		t.Fatalf("plan_adjustment = %+v", reflection.PlanAdjustment)
	}
}

func TestParseReflection_ContractViolations(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"not json", "the step went fine"},
		{"unknown assessment", `{"assessment":"great","next_action":"continue"}`},
		{"unknown action", `{"assessment":"success","next_action":"retry"}`},
		{"complete without answer", `{"assessment":"success","next_action":"complete"}`},
		{"abort without reason", `{"assessment":"failure","next_action":"abort"}`},
		{"adjust without plan", `{"assessment":"failure","next_action":"adjust_plan"}`},
		{"adjust with invalid plan", `{"assessment":"failure","next_action":"adjust_plan","plan_adjustment":{"goal":"g","steps":[{"id":"a","description":""}]}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseReflection(tc.text)
			if !errors.Is(err, models.ErrReflectionContract) {
				t.Errorf("error = %v, want ErrReflectionContract", err)
			}
		})
	}
}

func TestReflect_PromptCarriesStepContext(t *testing.T) {
	provider := &scriptedProvider{responses: []*agent.ChatResponse{
		{Content: `{"assessment":"success","next_action":"continue"}`},
	}}
	reflector := NewReflector(provider)

	state := &models.WorkflowState{
		Config: models.WorkflowConfig{Model: "m"},
		Plan: &models.Plan{
			Goal: "summarize the report",
			Steps: []models.PlanStep{
				{ID: "step-1", Description: "read the report", SuccessCriteria: "file content available"},
				{ID: "step-2", Description: "write the summary"},
			},
		},
		Steps: []models.WorkflowStep{{
			PlanStepID:  "step-1",
			Description: "read the report",
			Status:      models.StepSuccess,
			ToolResults: []models.ToolResult{{ToolCallID: "call_1", Content: "report text", Success: true}},
		}},
	}

	reflection, err := reflector.Reflect(context.Background(), state, &state.Steps[0], "the report says X")
	if err != nil {
		t.Fatalf("Reflect: %v", err)
	}
	if reflection.NextAction != models.ActionContinue {
		t.Errorf("next_action = %v", reflection.NextAction)
	}

	prompt := provider.request(0).Messages[0].Content
	for _, want := range []string{
		"summarize the report",
		"step-1",
		"file content available",
		"the report says X",
		"write the summary",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestReflect_ProviderErrorSurfaces(t *testing.T) {
	provider := &scriptedProvider{errs: []error{errors.New("connection refused")}}
	reflector := NewReflector(provider)

	state := &models.WorkflowState{
		Config: models.WorkflowConfig{Model: "m"},
		Plan:   &models.Plan{Goal: "g", Steps: []models.PlanStep{{ID: "step-1", Description: "d"}}},
		Steps:  []models.WorkflowStep{{PlanStepID: "step-1", Status: models.StepSuccess}},
	}

	if _, err := reflector.Reflect(context.Background(), state, &state.Steps[0], "out"); err == nil {
		t.Error("expected the provider error to surface")
	}
}
