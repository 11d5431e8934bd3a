package models

import (
	"errors"
	"fmt"
	"time"
)

// WorkflowStatus is the lifecycle state of a workflow run.
type WorkflowStatus string

const (
	WorkflowIdle       WorkflowStatus = "idle"
	WorkflowPlanning   WorkflowStatus = "planning"
	WorkflowExecuting  WorkflowStatus = "executing"
	WorkflowReflecting WorkflowStatus = "reflecting"
	WorkflowDone       WorkflowStatus = "done"
	WorkflowCancelled  WorkflowStatus = "cancelled"
	WorkflowError      WorkflowStatus = "error"
	WorkflowTimeout    WorkflowStatus = "timeout"
)

// Terminal reports whether the status is final. Once terminal, the state
// record is immutable and only read for persistence or inspection.
func (s WorkflowStatus) Terminal() bool {
	switch s {
	case WorkflowDone, WorkflowCancelled, WorkflowError, WorkflowTimeout:
		return true
	default:
		return false
	}
}

// StepStatus is the execution state of one workflow step. Transitions are
// monotonic: a step never returns to pending after leaving it.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// Terminal reports whether the step status is final.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepSuccess, StepFailed, StepSkipped:
		return true
	default:
		return false
	}
}

// PlanStep is one step of a workflow plan as produced by the planning
// model. Per-step overrides (Provider, Model, Temperature, MaxIterations,
// SystemPrompt) take precedence over workflow-level configuration when set.
type PlanStep struct {
	ID              string   `json:"id"`
	Description     string   `json:"description"`
	ExpectedTools   []string `json:"expected_tools,omitempty"`
	DependsOn       []string `json:"depends_on,omitempty"`
	SuccessCriteria string   `json:"success_criteria,omitempty"`
	Provider        string   `json:"provider,omitempty"`
	Model           string   `json:"model,omitempty"`
	Temperature     *float32 `json:"temperature,omitempty"`
	MaxIterations   int      `json:"max_iterations,omitempty"`
	SystemPrompt    string   `json:"system_prompt,omitempty"`
}

// Plan is a model-produced execution plan. Version increments on every
// re-plan; Steps ordering is the intended execution order.
type Plan struct {
	Goal      string     `json:"goal"`
	Steps     []PlanStep `json:"steps"`
	MaxSteps  int        `json:"max_steps,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Version   int        `json:"version"`
}

// Step returns the plan step with the given id, if present.
func (p *Plan) Step(id string) (*PlanStep, bool) {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i], true
		}
	}
	return nil, false
}

// WorkflowStep is the execution record for one plan step.
type WorkflowStep struct {
	PlanStepID     string          `json:"plan_step_id"`
	ExecutionIndex int             `json:"execution_index"`
	Description    string          `json:"description"`
	Status         StepStatus      `json:"status"`
	ToolCalls      []ToolCall      `json:"tool_calls,omitempty"`
	ToolResults    []ToolResult    `json:"tool_results,omitempty"`
	Reflection     *StepReflection `json:"reflection,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	Error          string          `json:"error,omitempty"`
	DurationMs     int64           `json:"duration_ms,omitempty"`
}

// ReflectionAssessment grades a completed step.
type ReflectionAssessment string

const (
	AssessmentSuccess ReflectionAssessment = "success"
	AssessmentPartial ReflectionAssessment = "partial"
	AssessmentFailure ReflectionAssessment = "failure"
)

// ReflectionAction decides the next workflow transition.
type ReflectionAction string

const (
	ActionContinue   ReflectionAction = "continue"
	ActionAdjustPlan ReflectionAction = "adjust_plan"
	ActionComplete   ReflectionAction = "complete"
	ActionAbort      ReflectionAction = "abort"
)

// StepReflection is a model-generated assessment of a just-completed step.
// Required co-occurrence: PlanAdjustment with ActionAdjustPlan, FinalAnswer
// with ActionComplete, AbortReason with ActionAbort.
type StepReflection struct {
	Assessment     ReflectionAssessment `json:"assessment"`
	NextAction     ReflectionAction     `json:"next_action"`
	PlanAdjustment *Plan                `json:"plan_adjustment,omitempty"`
	FinalAnswer    string               `json:"final_answer,omitempty"`
	AbortReason    string               `json:"abort_reason,omitempty"`
	Comment        string               `json:"comment,omitempty"`
}

// ErrReflectionContract indicates a reflection payload that violates the
// field co-occurrence rules. The workflow degrades such reflections to an
// implicit continue rather than dropping state.
var ErrReflectionContract = errors.New("reflection contract violation")

// Validate checks the reflection's required fields and co-occurrence rules.
func (r *StepReflection) Validate() error {
	switch r.Assessment {
	case AssessmentSuccess, AssessmentPartial, AssessmentFailure:
	default:
		return fmt.Errorf("%w: unknown assessment %q", ErrReflectionContract, r.Assessment)
	}
	switch r.NextAction {
	case ActionContinue:
	case ActionAdjustPlan:
		if r.PlanAdjustment == nil || len(r.PlanAdjustment.Steps) == 0 {
			return fmt.Errorf("%w: adjust_plan without plan_adjustment", ErrReflectionContract)
		}
	case ActionComplete:
		if r.FinalAnswer == "" {
			return fmt.Errorf("%w: complete without final_answer", ErrReflectionContract)
		}
	case ActionAbort:
		if r.AbortReason == "" {
			return fmt.Errorf("%w: abort without abort_reason", ErrReflectionContract)
		}
	default:
		return fmt.Errorf("%w: unknown next_action %q", ErrReflectionContract, r.NextAction)
	}
	return nil
}

// WorkflowConfig is the immutable per-run configuration.
type WorkflowConfig struct {
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model"`
	EnabledTools []string `json:"enabled_tools,omitempty"`
	MaxSteps     int      `json:"max_steps"`

	// MaxRePlans is a pointer so an explicit zero survives: nil means
	// "use the default", zero forbids re-planning entirely.
	MaxRePlans *int `json:"max_replans,omitempty"`

	TimeoutMs        int64  `json:"timeout_ms,omitempty"`
	StepTimeoutMs    int64  `json:"step_timeout_ms,omitempty"`
	EnableReflection bool   `json:"enable_reflection"`
	EnablePlanning   bool   `json:"enable_planning"`
	Host             string `json:"host,omitempty"`
}

// RunTimeout returns the whole-run wall-clock budget (zero = no limit).
func (c WorkflowConfig) RunTimeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// StepTimeout returns the per-step wall-clock budget (zero = no limit).
func (c WorkflowConfig) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutMs) * time.Millisecond
}

// WorkflowState is the full snapshot of a workflow run. The engine owns
// and mutates it exclusively for the duration of the run; persisted copies
// are snapshots, never live references.
type WorkflowState struct {
	ID               string         `json:"id"`
	ConversationID   string         `json:"conversation_id,omitempty"`
	Status           WorkflowStatus `json:"status"`
	UserMessage      string         `json:"user_message"`
	Plan             *Plan          `json:"plan,omitempty"`
	Steps            []WorkflowStep `json:"steps"`
	CurrentStepIndex int            `json:"current_step_index"`
	ReplanCount      int            `json:"replan_count"`
	FinalAnswer      string         `json:"final_answer,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	Config           WorkflowConfig `json:"config"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	DurationMs       int64          `json:"duration_ms,omitempty"`
}

// Clone copies the step record so a consumer never aliases the live one.
func (s *WorkflowStep) Clone() *WorkflowStep {
	step := *s
	step.ToolCalls = append([]ToolCall(nil), s.ToolCalls...)
	step.ToolResults = append([]ToolResult(nil), s.ToolResults...)
	if s.Reflection != nil {
		refl := *s.Reflection
		step.Reflection = &refl
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		step.CompletedAt = &t
	}
	return &step
}

// Clone returns a deep enough copy for persistence: slices and nested
// pointers are copied so the stored snapshot cannot alias live state.
func (s *WorkflowState) Clone() *WorkflowState {
	out := *s
	if s.Plan != nil {
		plan := *s.Plan
		plan.Steps = append([]PlanStep(nil), s.Plan.Steps...)
		out.Plan = &plan
	}
	out.Steps = make([]WorkflowStep, len(s.Steps))
	for i := range s.Steps {
		out.Steps[i] = *s.Steps[i].Clone()
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	out.Config.EnabledTools = append([]string(nil), s.Config.EnabledTools...)
	if s.Config.MaxRePlans != nil {
		replans := *s.Config.MaxRePlans
		out.Config.MaxRePlans = &replans
	}
	return &out
}
