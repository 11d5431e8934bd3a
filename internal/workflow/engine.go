package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loamlabs/loam/internal/agent"
	"github.com/loamlabs/loam/internal/observability"
	"github.com/loamlabs/loam/internal/workflow/store"
	"github.com/loamlabs/loam/pkg/models"
)

const (
	defaultMaxSteps   = 8
	defaultMaxRePlans = 2
)

// ProviderResolver maps a provider name (and optional per-request host, for
// ollama) to a chat provider. An empty name selects the default provider.
type ProviderResolver func(name, host string) (agent.ChatProvider, error)

// StaticResolver returns a resolver that always yields the given provider.
func StaticResolver(provider agent.ChatProvider) ProviderResolver {
	return func(string, string) (agent.ChatProvider, error) {
		return provider, nil
	}
}

// Engine runs workflows: it plans, executes plan steps through the
// tool-calling loop, reflects on step outcomes, and drives the run to
// exactly one terminal status.
//
// The engine owns the WorkflowState for the duration of a run. Observers
// see it only through events and persisted snapshots.
type Engine struct {
	resolver ProviderResolver
	registry *agent.ToolRegistry
	store    store.Store
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// EngineDeps carries the engine's collaborators. Resolver is required;
// nil Store, Logger, Metrics, and Tracer are replaced with no-ops.
type EngineDeps struct {
	Resolver ProviderResolver
	Registry *agent.ToolRegistry
	Store    store.Store
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
}

// NewEngine creates a workflow engine.
func NewEngine(deps EngineDeps) (*Engine, error) {
	if deps.Resolver == nil {
		return nil, errors.New("workflow engine requires a provider resolver")
	}
	if deps.Registry == nil {
		deps.Registry = agent.NewToolRegistry(nil)
	}
	if deps.Store == nil {
		deps.Store = store.NewMemoryStore()
	}
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	if deps.Tracer == nil {
		deps.Tracer, _ = observability.NewTracer(observability.TraceConfig{})
	}
	return &Engine{
		resolver: deps.Resolver,
		registry: deps.Registry,
		store:    deps.Store,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		tracer:   deps.Tracer,
	}, nil
}

// StartRequest describes one workflow run.
type StartRequest struct {
	// WorkflowID identifies the run; empty generates a UUID.
	WorkflowID string

	// ConversationID groups runs belonging to one conversation.
	ConversationID string

	// UserMessage is the goal the workflow works toward.
	UserMessage string

	// History is prior conversation context passed to planning and steps.
	History []models.ChatMessage

	// Config is the immutable per-run configuration.
	Config models.WorkflowConfig
}

// Run is a handle to an in-flight workflow. Events must be drained until
// the channel closes; the engine blocks on a slow consumer rather than
// dropping or reordering events.
type Run struct {
	id      string
	emitter *Emitter
	cancel  context.CancelFunc
	done    chan struct{}

	cancelOnce sync.Once
	cancelled  bool
	cancelMu   sync.Mutex

	mu    sync.Mutex
	final *models.WorkflowState
}

// WorkflowID returns the run's identifier.
func (r *Run) WorkflowID() string { return r.id }

// Events returns the ordered event stream. It closes after the terminal
// event has been delivered.
func (r *Run) Events() <-chan models.WorkflowEvent { return r.emitter.Events() }

// Done is closed when the run has fully finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Cancel requests cancellation. It is idempotent: repeat calls after the
// first, or after the run reached a terminal status, are no-ops.
func (r *Run) Cancel() {
	r.cancelOnce.Do(func() {
		r.cancelMu.Lock()
		r.cancelled = true
		r.cancelMu.Unlock()
		r.cancel()
	})
}

func (r *Run) wasCancelled() bool {
	r.cancelMu.Lock()
	defer r.cancelMu.Unlock()
	return r.cancelled
}

// State returns the final state once the run is done, nil before that.
func (r *Run) State() *models.WorkflowState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.final
}

func (r *Run) setFinal(state *models.WorkflowState) {
	r.mu.Lock()
	r.final = state
	r.mu.Unlock()
}

// Start begins executing a workflow and returns immediately. The run
// proceeds on its own goroutine; the caller consumes Events until close.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*Run, error) {
	if strings.TrimSpace(req.UserMessage) == "" {
		return nil, errors.New("user message is required")
	}

	cfg := req.Config
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	replans := defaultMaxRePlans
	if cfg.MaxRePlans != nil {
		replans = max(*cfg.MaxRePlans, 0)
	}
	cfg.MaxRePlans = &replans

	id := req.WorkflowID
	if id == "" {
		id = uuid.New().String()
	}

	state := &models.WorkflowState{
		ID:             id,
		ConversationID: req.ConversationID,
		Status:         models.WorkflowIdle,
		UserMessage:    req.UserMessage,
		Config:         cfg,
		StartedAt:      time.Now(),
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout := cfg.RunTimeout(); timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	run := &Run{
		id:      id,
		emitter: NewEmitter(id),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go func() {
		defer close(run.done)
		defer cancel()
		e.execute(runCtx, run, state, req.History)
	}()

	return run, nil
}

// execute drives the full run and guarantees exactly one terminal event
// followed by channel close.
func (e *Engine) execute(ctx context.Context, run *Run, state *models.WorkflowState, history []models.ChatMessage) {
	defer run.emitter.Close()

	ctx = observability.AddWorkflowID(ctx, state.ID)
	ctx, span := e.tracer.TraceWorkflowRun(ctx, state.ID, state.ConversationID)
	defer span.End()

	if e.metrics != nil {
		e.metrics.WorkflowStarted()
	}

	opening := models.WorkflowExecuting
	if state.Config.EnablePlanning {
		opening = models.WorkflowPlanning
	}
	run.emitter.WorkflowStart(opening)

	plan, err := e.buildPlan(ctx, run, state, history)
	if err != nil {
		if ctx.Err() != nil {
			e.finishInterrupted(ctx, run, state)
			return
		}
		e.finishError(ctx, run, state, err)
		return
	}
	state.Plan = plan
	run.emitter.Plan(plan)

	e.transition(ctx, run, state, models.WorkflowExecuting)

	outputs := make(map[string]string, len(plan.Steps))

	for i := 0; i < len(state.Plan.Steps); i++ {
		if ctx.Err() != nil {
			e.finishInterrupted(ctx, run, state)
			return
		}

		planStep := state.Plan.Steps[i]
		state.CurrentStepIndex = i

		// After a re-plan, steps that already succeeded keep their result.
		if succeeded(state, planStep.ID) {
			continue
		}

		if unmet := unmetDependencies(state, planStep); len(unmet) > 0 {
			e.skipStep(ctx, run, state, planStep, unmet)
			continue
		}

		step, output, stepErr := e.runStep(ctx, run, state, planStep, history, outputs)
		if stepErr != nil {
			if ctx.Err() != nil {
				e.finishInterrupted(ctx, run, state)
				return
			}
			if errors.Is(stepErr, context.DeadlineExceeded) {
				e.finishTimeout(ctx, run, state, "step timeout exceeded")
				return
			}
		}
		outputs[planStep.ID] = output

		reflection := e.reflect(ctx, run, state, step, output)
		if ctx.Err() != nil {
			e.finishInterrupted(ctx, run, state)
			return
		}

		switch reflection.NextAction {
		case models.ActionComplete:
			state.FinalAnswer = reflection.FinalAnswer
			e.finishDone(ctx, run, state)
			return

		case models.ActionAbort:
			e.finishError(ctx, run, state, fmt.Errorf("aborted: %s", reflection.AbortReason))
			return

		case models.ActionAdjustPlan:
			if state.ReplanCount >= *state.Config.MaxRePlans {
				e.finishError(ctx, run, state, fmt.Errorf("re-plan budget exhausted after %d adjustments", state.ReplanCount))
				return
			}
			state.ReplanCount++
			adjusted := reflection.PlanAdjustment
			adjusted.Goal = state.Plan.Goal
			adjusted.Version = state.Plan.Version + 1
			adjusted.CreatedAt = time.Now()
			if adjusted.MaxSteps == 0 {
				adjusted.MaxSteps = state.Config.MaxSteps
			}
			state.Plan = adjusted
			if e.metrics != nil {
				e.metrics.RecordRePlan()
			}
			e.logger.Info(ctx, "plan adjusted", "version", adjusted.Version, "steps", len(adjusted.Steps))
			run.emitter.Plan(adjusted)
			// Restart execution against the adjusted plan. Steps already
			// completed under the old plan keep their records.
			i = -1

		case models.ActionContinue:
			if step.Status == models.StepFailed && !state.Config.EnableReflection {
				e.finishError(ctx, run, state, fmt.Errorf("step %s failed: %s", step.PlanStepID, step.Error))
				return
			}
		}
	}

	if ctx.Err() != nil {
		e.finishInterrupted(ctx, run, state)
		return
	}

	// Plan exhausted without an explicit complete: the last successful
	// step's output is the answer.
	if state.FinalAnswer == "" {
		for i := len(state.Steps) - 1; i >= 0; i-- {
			if state.Steps[i].Status == models.StepSuccess {
				state.FinalAnswer = outputs[state.Steps[i].PlanStepID]
				break
			}
		}
	}
	e.finishDone(ctx, run, state)
}

// buildPlan produces the run's plan: model-generated when planning is
// enabled, a single synthetic step otherwise.
func (e *Engine) buildPlan(ctx context.Context, run *Run, state *models.WorkflowState, history []models.ChatMessage) (*models.Plan, error) {
	if !state.Config.EnablePlanning {
		return &models.Plan{
			Goal: state.UserMessage,
			Steps: []models.PlanStep{{
				ID:          "step-1",
				Description: state.UserMessage,
			}},
			MaxSteps:  state.Config.MaxSteps,
			CreatedAt: time.Now(),
			Version:   1,
		}, nil
	}

	e.transition(ctx, run, state, models.WorkflowPlanning)

	provider, err := e.resolver(state.Config.Provider, state.Config.Host)
	if err != nil {
		return nil, fmt.Errorf("resolve provider: %w", err)
	}

	planner := NewPlanner(provider, state.Config.MaxSteps)
	plan, err := planner.BuildPlan(ctx, state.UserMessage, history, e.registry.List(state.Config.EnabledTools), state.Config)
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}
	return plan, nil
}

// runStep executes one plan step through the tool-calling loop and returns
// the step record plus the step's final assistant output.
func (e *Engine) runStep(ctx context.Context, run *Run, state *models.WorkflowState, planStep models.PlanStep, history []models.ChatMessage, outputs map[string]string) (*models.WorkflowStep, string, error) {
	stepCtx := ctx
	if timeout := state.Config.StepTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stepCtx, span := e.tracer.TraceStep(stepCtx, state.ID, planStep.ID)
	defer span.End()

	state.Steps = append(state.Steps, models.WorkflowStep{
		PlanStepID:     planStep.ID,
		ExecutionIndex: len(state.Steps),
		Description:    planStep.Description,
		Status:         models.StepRunning,
		StartedAt:      time.Now(),
	})
	step := &state.Steps[len(state.Steps)-1]
	run.emitter.StepStart(step)

	provider, err := e.resolver(stepProvider(state.Config, planStep), state.Config.Host)
	if err != nil {
		return e.completeStep(ctx, run, state, step, "", fmt.Errorf("resolve provider: %w", err))
	}

	loop := agent.NewLoop(provider, e.registry, nil)
	chunks, err := loop.Run(stepCtx, agent.RunOptions{
		Messages:      stepMessages(state, planStep, history, outputs),
		Model:         stepModel(state.Config, planStep),
		SystemPrompt:  planStep.SystemPrompt,
		Temperature:   planStep.Temperature,
		MaxIterations: planStep.MaxIterations,
		EnabledTools:  stepTools(state.Config, planStep),
		OnToolCall: func(call models.ToolCall) {
			step.ToolCalls = append(step.ToolCalls, call)
			run.emitter.ToolCall(planStep.ID, call)
		},
		OnToolResult: func(result models.ToolResult) {
			step.ToolResults = append(step.ToolResults, result)
			run.emitter.ToolResult(planStep.ID, result)
		},
		OnDelta: func(delta string) {
			run.emitter.Message(planStep.ID, delta, false)
		},
	})
	if err != nil {
		return e.completeStep(ctx, run, state, step, "", err)
	}

	var output string
	var loopErr error
	for chunk := range chunks {
		if chunk.Err != nil {
			loopErr = chunk.Err
			continue
		}
		if chunk.Turn.Final {
			output = chunk.Turn.AssistantMessage
		}
	}
	if loopErr == nil && stepCtx.Err() != nil && ctx.Err() == nil {
		loopErr = fmt.Errorf("step timed out: %w", stepCtx.Err())
	}

	return e.completeStep(ctx, run, state, step, output, loopErr)
}

// completeStep finalizes the step record, emits step_end with a snapshot,
// and persists the state.
func (e *Engine) completeStep(ctx context.Context, run *Run, state *models.WorkflowState, step *models.WorkflowStep, output string, err error) (*models.WorkflowStep, string, error) {
	if err != nil && ctx.Err() != nil {
		// Run-level interrupt. The step record keeps the status it had
		// when the signal fired; the terminal event follows instead of
		// step_end.
		return step, output, err
	}

	now := time.Now()
	step.CompletedAt = &now
	step.DurationMs = now.Sub(step.StartedAt).Milliseconds()

	if err != nil {
		step.Status = models.StepFailed
		step.Error = err.Error()
		e.logger.Warn(ctx, "step failed", "step_id", step.PlanStepID, "error", err)
	} else {
		step.Status = models.StepSuccess
		if output != "" {
			run.emitter.Message(step.PlanStepID, output, true)
		}
	}

	if e.metrics != nil {
		status := "success"
		if step.Status == models.StepFailed {
			status = "failed"
		}
		e.metrics.RecordStep(status)
	}

	run.emitter.StepEnd(step)
	e.persist(ctx, state)
	return step, output, err
}

// skipStep records a step whose dependencies did not succeed.
func (e *Engine) skipStep(ctx context.Context, run *Run, state *models.WorkflowState, planStep models.PlanStep, unmet []string) {
	now := time.Now()
	state.Steps = append(state.Steps, models.WorkflowStep{
		PlanStepID:     planStep.ID,
		ExecutionIndex: len(state.Steps),
		Description:    planStep.Description,
		Status:         models.StepSkipped,
		Error:          fmt.Sprintf("unmet dependencies: %s", strings.Join(unmet, ", ")),
		StartedAt:      now,
		CompletedAt:    &now,
	})
	step := &state.Steps[len(state.Steps)-1]

	e.logger.Info(ctx, "step skipped", "step_id", planStep.ID, "unmet", unmet)
	if e.metrics != nil {
		e.metrics.RecordStep("skipped")
	}

	run.emitter.StepStart(step)
	run.emitter.StepEnd(step)
	e.persist(ctx, state)
}

// reflect obtains the reflection verdict for a completed step. When
// reflection is disabled or the model's verdict violates the contract,
// the verdict degrades to continue.
func (e *Engine) reflect(ctx context.Context, run *Run, state *models.WorkflowState, step *models.WorkflowStep, output string) *models.StepReflection {
	implicit := &models.StepReflection{
		Assessment: models.AssessmentSuccess,
		NextAction: models.ActionContinue,
	}
	if step.Status == models.StepFailed {
		implicit.Assessment = models.AssessmentFailure
	}

	if !state.Config.EnableReflection {
		return implicit
	}
	if ctx.Err() != nil {
		return implicit
	}

	e.transition(ctx, run, state, models.WorkflowReflecting)
	defer e.transition(ctx, run, state, models.WorkflowExecuting)

	provider, err := e.resolver(state.Config.Provider, state.Config.Host)
	if err != nil {
		e.logger.Warn(ctx, "reflection skipped", "error", err)
		return implicit
	}

	reflection, err := NewReflector(provider).Reflect(ctx, state, step, output)
	if err != nil {
		if errors.Is(err, models.ErrReflectionContract) {
			e.logger.Warn(ctx, "reflection contract violated, continuing", "step_id", step.PlanStepID, "error", err)
		} else {
			e.logger.Warn(ctx, "reflection failed, continuing", "step_id", step.PlanStepID, "error", err)
		}
		return implicit
	}

	step.Reflection = reflection
	run.emitter.Reflection(step.PlanStepID, reflection)
	return reflection
}

// transition moves the workflow to a new non-terminal status and emits a
// state snapshot.
func (e *Engine) transition(ctx context.Context, run *Run, state *models.WorkflowState, status models.WorkflowStatus) {
	if state.Status == status {
		return
	}
	state.Status = status
	run.emitter.Snapshot(state)
	e.persist(ctx, state)
}

func (e *Engine) finishDone(ctx context.Context, run *Run, state *models.WorkflowState) {
	e.finalize(ctx, run, state, models.WorkflowDone, "")
	run.emitter.WorkflowEnd(models.WorkflowDone, state)
	run.setFinal(state.Clone())
}

func (e *Engine) finishError(ctx context.Context, run *Run, state *models.WorkflowState, err error) {
	e.logger.Error(ctx, "workflow failed", "error", err)
	e.finalize(ctx, run, state, models.WorkflowError, err.Error())
	run.emitter.Error(models.WorkflowError, err.Error())
	run.setFinal(state.Clone())
}

// finishInterrupted resolves a context interruption into either the
// cancelled or timeout terminal status.
func (e *Engine) finishInterrupted(ctx context.Context, run *Run, state *models.WorkflowState) {
	if run.wasCancelled() {
		e.logger.Info(ctx, "workflow cancelled")
		e.finalize(ctx, run, state, models.WorkflowCancelled, "cancelled")
		run.emitter.Cancelled()
	} else {
		e.finishTimeout(ctx, run, state, "run timeout exceeded")
		return
	}
	run.setFinal(state.Clone())
}

// finishTimeout terminates the run with the timeout status. Either budget
// expiring lands here and discards any partial final answer.
func (e *Engine) finishTimeout(ctx context.Context, run *Run, state *models.WorkflowState, message string) {
	e.logger.Warn(ctx, "workflow timed out", "reason", message)
	state.FinalAnswer = ""
	e.finalize(ctx, run, state, models.WorkflowTimeout, message)
	run.emitter.WorkflowEnd(models.WorkflowTimeout, state)
	run.setFinal(state.Clone())
}

// finalize applies the terminal status to the state and persists it. The
// terminal event itself is emitted by the caller, after which the stream
// closes.
func (e *Engine) finalize(ctx context.Context, run *Run, state *models.WorkflowState, status models.WorkflowStatus, message string) {
	now := time.Now()
	state.Status = status
	state.CompletedAt = &now
	state.DurationMs = now.Sub(state.StartedAt).Milliseconds()
	if status == models.WorkflowError || status == models.WorkflowTimeout {
		state.ErrorMessage = message
	}

	if e.metrics != nil {
		e.metrics.WorkflowEnded(string(status), now.Sub(state.StartedAt).Seconds())
	}

	run.emitter.Snapshot(state)
	e.persist(ctx, state)
}

// persist saves a snapshot best-effort. A failing store never fails the
// run.
func (e *Engine) persist(ctx context.Context, state *models.WorkflowState) {
	start := time.Now()
	err := e.store.Save(context.WithoutCancel(ctx), state)
	if e.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		e.metrics.RecordStoreQuery("save", status, time.Since(start).Seconds())
	}
	if err != nil {
		e.logger.Warn(ctx, "state save failed", "error", err)
	}
}

// succeeded reports whether a plan step already has a successful record.
func succeeded(state *models.WorkflowState, planStepID string) bool {
	for i := range state.Steps {
		if state.Steps[i].PlanStepID == planStepID && state.Steps[i].Status == models.StepSuccess {
			return true
		}
	}
	return false
}

// unmetDependencies returns the dependsOn ids that did not complete
// successfully. Dependencies with no execution record count as unmet.
func unmetDependencies(state *models.WorkflowState, planStep models.PlanStep) []string {
	var unmet []string
	for _, dep := range planStep.DependsOn {
		satisfied := false
		for i := range state.Steps {
			if state.Steps[i].PlanStepID == dep && state.Steps[i].Status == models.StepSuccess {
				satisfied = true
				break
			}
		}
		if !satisfied {
			unmet = append(unmet, dep)
		}
	}
	return unmet
}

func stepProvider(cfg models.WorkflowConfig, step models.PlanStep) string {
	if step.Provider != "" {
		return step.Provider
	}
	return cfg.Provider
}

func stepModel(cfg models.WorkflowConfig, step models.PlanStep) string {
	if step.Model != "" {
		return step.Model
	}
	return cfg.Model
}

// stepTools computes the tools offered to a step. ExpectedTools narrows
// the workflow's enabled set; it never widens it.
func stepTools(cfg models.WorkflowConfig, step models.PlanStep) []string {
	if len(step.ExpectedTools) == 0 {
		return cfg.EnabledTools
	}
	if len(cfg.EnabledTools) == 0 {
		return step.ExpectedTools
	}
	allowed := make(map[string]bool, len(cfg.EnabledTools))
	for _, name := range cfg.EnabledTools {
		allowed[name] = true
	}
	narrowed := make([]string, 0, len(step.ExpectedTools))
	for _, name := range step.ExpectedTools {
		if allowed[name] {
			narrowed = append(narrowed, name)
		}
	}
	return narrowed
}

// stepMessages builds the conversation for one step: prior history, the
// goal, earlier step results, and the step instruction.
func stepMessages(state *models.WorkflowState, planStep models.PlanStep, history []models.ChatMessage, outputs map[string]string) []models.ChatMessage {
	messages := append([]models.ChatMessage(nil), history...)
	messages = append(messages, models.ChatMessage{
		Role:    models.RoleUser,
		Content: state.UserMessage,
	})

	for i := range state.Steps {
		prior := &state.Steps[i]
		if prior.Status != models.StepSuccess {
			continue
		}
		output := outputs[prior.PlanStepID]
		if output == "" {
			continue
		}
		messages = append(messages, models.ChatMessage{
			Role:    models.RoleAssistant,
			Content: fmt.Sprintf("[%s] %s", prior.Description, output),
		})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Execute this step of the plan: %s", planStep.Description)
	if planStep.SuccessCriteria != "" {
		fmt.Fprintf(&b, "\nSuccess criteria: %s", planStep.SuccessCriteria)
	}
	messages = append(messages, models.ChatMessage{
		Role:    models.RoleUser,
		Content: b.String(),
	})
	return messages
}
