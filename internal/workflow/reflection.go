package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/loamlabs/loam/internal/agent"
	"github.com/loamlabs/loam/pkg/models"
)

const reflectSystemPrompt = `You are reviewing the outcome of one step in a multi-step plan.

Respond with a single JSON object, no prose:
{
  "assessment": "success" | "partial" | "failure",
  "next_action": "continue" | "adjust_plan" | "complete" | "abort",
  "comment": "<one sentence>",
  "plan_adjustment": { ... full replacement plan, only with adjust_plan ... },
  "final_answer": "<only with complete>",
  "abort_reason": "<only with abort>"
}

Rules:
- "continue" moves on to the next planned step.
- "adjust_plan" replaces the remaining plan; include plan_adjustment.
- "complete" ends the workflow early; include final_answer.
- "abort" gives up; include abort_reason.`

// Reflector asks the model to assess a completed step and pick the next
// transition. Responses that violate the reflection contract are reported
// as ErrReflectionContract so the engine can degrade them to a continue.
type Reflector struct {
	provider agent.ChatProvider
}

// NewReflector creates a reflector over the given provider.
func NewReflector(provider agent.ChatProvider) *Reflector {
	return &Reflector{provider: provider}
}

// Reflect produces the model's verdict on the given completed step.
func (r *Reflector) Reflect(ctx context.Context, state *models.WorkflowState, step *models.WorkflowStep, assistantMessage string) (*models.StepReflection, error) {
	prompt := buildReflectionPrompt(state, step, assistantMessage)

	resp, err := r.provider.Chat(ctx, &agent.ChatRequest{
		Model:    state.Config.Model,
		System:   reflectSystemPrompt,
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("reflection request: %w", err)
	}

	return ParseReflection(resp.Content)
}

// ParseReflection extracts a validated reflection from model output.
// Contract violations are returned wrapping models.ErrReflectionContract.
func ParseReflection(text string) (*models.StepReflection, error) {
	raw, err := extractJSONObject(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrReflectionContract, err)
	}

	var reflection models.StepReflection
	if err := json.Unmarshal([]byte(raw), &reflection); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", models.ErrReflectionContract, err)
	}
	if err := reflection.Validate(); err != nil {
		return nil, err
	}
	if reflection.PlanAdjustment != nil {
		if err := validatePlan(reflection.PlanAdjustment); err != nil {
			return nil, fmt.Errorf("%w: plan_adjustment: %v", models.ErrReflectionContract, err)
		}
	}
	return &reflection, nil
}

func buildReflectionPrompt(state *models.WorkflowState, step *models.WorkflowStep, assistantMessage string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Goal: %s\n\n", state.Plan.Goal)

	fmt.Fprintf(&b, "Completed step %q: %s\n", step.PlanStepID, step.Description)
	if planStep, ok := state.Plan.Step(step.PlanStepID); ok && planStep.SuccessCriteria != "" {
		fmt.Fprintf(&b, "Success criteria: %s\n", planStep.SuccessCriteria)
	}
	fmt.Fprintf(&b, "Step status: %s\n", step.Status)
	if step.Error != "" {
		fmt.Fprintf(&b, "Step error: %s\n", step.Error)
	}

	if len(step.ToolResults) > 0 {
		b.WriteString("\nTool results:\n")
		for _, result := range step.ToolResults {
			if result.Success {
				fmt.Fprintf(&b, "- %s: %s\n", result.ToolCallID, truncate(result.Content, 500))
			} else {
				fmt.Fprintf(&b, "- %s failed: %s\n", result.ToolCallID, result.Error)
			}
		}
	}
	if assistantMessage != "" {
		fmt.Fprintf(&b, "\nStep output:\n%s\n", truncate(assistantMessage, 2000))
	}

	remaining := remainingSteps(state)
	if len(remaining) > 0 {
		b.WriteString("\nRemaining planned steps:\n")
		for _, planStep := range remaining {
			fmt.Fprintf(&b, "- %s: %s\n", planStep.ID, planStep.Description)
		}
	} else {
		b.WriteString("\nThis was the last planned step.\n")
	}

	return b.String()
}

func remainingSteps(state *models.WorkflowState) []models.PlanStep {
	if state.Plan == nil {
		return nil
	}

	done := make(map[string]bool, len(state.Steps))
	for _, step := range state.Steps {
		if step.Status.Terminal() {
			done[step.PlanStepID] = true
		}
	}

	var remaining []models.PlanStep
	for _, planStep := range state.Plan.Steps {
		if !done[planStep.ID] {
			remaining = append(remaining, planStep)
		}
	}
	return remaining
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
