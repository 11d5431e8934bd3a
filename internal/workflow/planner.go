package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/loamlabs/loam/internal/agent"
	"github.com/loamlabs/loam/pkg/models"
)

const planSystemPrompt = `You are a planning assistant. Break the user's request into a short ordered plan.

Respond with a single JSON object, no prose, in this shape:
{
  "goal": "<one sentence restating the request>",
  "steps": [
    {
      "id": "step-1",
      "description": "<what this step accomplishes>",
      "expected_tools": ["<tool name>"],
      "depends_on": [],
      "success_criteria": "<how to tell the step worked>"
    }
  ]
}

Rules:
- Use as few steps as the request allows.
- Step ids must be unique. depends_on may only reference earlier steps.
- expected_tools may only name tools from the provided list; leave it empty for reasoning-only steps.`

const planRetryPrompt = "Your previous response was not a valid plan (%s). Respond again with only the JSON object, no prose and no code fences."

// Planner asks the model for an execution plan and validates the result.
// A malformed response gets one corrective retry before the run fails.
type Planner struct {
	provider agent.ChatProvider
	maxSteps int
}

// NewPlanner creates a planner over the given provider. maxSteps caps the
// accepted plan length; longer plans are truncated, not rejected.
func NewPlanner(provider agent.ChatProvider, maxSteps int) *Planner {
	return &Planner{provider: provider, maxSteps: maxSteps}
}

// BuildPlan produces a validated plan for the user's request.
func (p *Planner) BuildPlan(ctx context.Context, userMessage string, history []models.ChatMessage, tools []models.ToolDefinition, cfg models.WorkflowConfig) (*models.Plan, error) {
	messages := append([]models.ChatMessage(nil), history...)
	messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: userMessage})

	req := &agent.ChatRequest{
		Model:    cfg.Model,
		System:   planSystemPrompt + toolCatalog(tools),
		Messages: messages,
	}

	resp, err := p.provider.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("planning request: %w", err)
	}

	plan, parseErr := ParsePlan(resp.Content)
	if parseErr != nil {
		// One corrective retry with the parse error fed back.
		retry := append(messages,
			models.ChatMessage{Role: models.RoleAssistant, Content: resp.Content},
			models.ChatMessage{Role: models.RoleUser, Content: fmt.Sprintf(planRetryPrompt, parseErr)},
		)
		req.Messages = retry
		resp, err = p.provider.Chat(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("planning retry: %w", err)
		}
		plan, parseErr = ParsePlan(resp.Content)
		if parseErr != nil {
			return nil, fmt.Errorf("planning produced no usable plan: %w", parseErr)
		}
	}

	if p.maxSteps > 0 && len(plan.Steps) > p.maxSteps {
		plan.Steps = plan.Steps[:p.maxSteps]
	}
	plan.MaxSteps = p.maxSteps
	plan.CreatedAt = time.Now()
	plan.Version = 1
	return plan, nil
}

// ParsePlan extracts and validates a plan from model output. Code fences
// and surrounding prose are tolerated; the first JSON object wins.
func ParsePlan(text string) (*models.Plan, error) {
	raw, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}

	var plan models.Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil, fmt.Errorf("invalid plan JSON: %w", err)
	}
	if err := validatePlan(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func validatePlan(plan *models.Plan) error {
	if len(plan.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}

	seen := make(map[string]bool, len(plan.Steps))
	for i := range plan.Steps {
		step := &plan.Steps[i]
		if strings.TrimSpace(step.ID) == "" {
			step.ID = fmt.Sprintf("step-%d", i+1)
		}
		if seen[step.ID] {
			return fmt.Errorf("duplicate step id %q", step.ID)
		}
		seen[step.ID] = true

		if strings.TrimSpace(step.Description) == "" {
			return fmt.Errorf("step %q has no description", step.ID)
		}
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("step %q depends on %q, which is not an earlier step", step.ID, dep)
			}
			if dep == step.ID {
				return fmt.Errorf("step %q depends on itself", step.ID)
			}
		}
	}
	return nil
}

// extractJSONObject finds the first balanced top-level JSON object in the
// text, skipping code fences and prose around it.
func extractJSONObject(text string) (string, error) {
	cleaned := stripCodeFences(text)

	start := strings.IndexByte(cleaned, '{')
	if start < 0 {
		return "", fmt.Errorf("no JSON object found")
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(cleaned); i++ {
		c := cleaned[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return cleaned[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object")
}

func stripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.Contains(trimmed, "```") {
		return trimmed
	}

	// Prefer the content of the first fenced block when present.
	start := strings.Index(trimmed, "```")
	rest := trimmed[start+3:]
	if newline := strings.IndexByte(rest, '\n'); newline >= 0 {
		// Drop the language tag line (```json).
		rest = rest[newline+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func toolCatalog(tools []models.ToolDefinition) string {
	if len(tools) == 0 {
		return "\n\nAvailable tools: none."
	}
	var b strings.Builder
	b.WriteString("\n\nAvailable tools:\n")
	for _, tool := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name, tool.Description)
	}
	return b.String()
}
