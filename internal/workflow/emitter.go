// Package workflow implements the multi-step workflow engine: planning,
// step execution through the tool-calling loop, reflection, and the
// ordered event stream observers consume.
package workflow

import (
	"sync/atomic"
	"time"

	"github.com/loamlabs/loam/pkg/models"
)

// Emitter generates WorkflowEvents with monotonic sequencing and delivers
// them over an unbuffered channel. A slow consumer therefore blocks the
// engine instead of observing a reordered or thinned stream.
//
// The engine is the only producer. It emits exactly one terminal event
// (workflow_end, error, or cancelled) and then closes the channel, so
// consumers range until close.
type Emitter struct {
	workflowID string
	sequence   uint64
	events     chan models.WorkflowEvent
}

// NewEmitter creates an emitter for one workflow run.
func NewEmitter(workflowID string) *Emitter {
	return &Emitter{
		workflowID: workflowID,
		events:     make(chan models.WorkflowEvent),
	}
}

// Events returns the stream consumers read from.
func (e *Emitter) Events() <-chan models.WorkflowEvent {
	return e.events
}

// Close closes the stream. Called once by the engine after the terminal
// event has been delivered.
func (e *Emitter) Close() {
	close(e.events)
}

func (e *Emitter) nextSeq() uint64 {
	return atomic.AddUint64(&e.sequence, 1)
}

func (e *Emitter) base(eventType models.EventType) models.WorkflowEvent {
	return models.WorkflowEvent{
		Type:       eventType,
		WorkflowID: e.workflowID,
		Sequence:   e.nextSeq(),
		Time:       time.Now(),
	}
}

func (e *Emitter) send(event models.WorkflowEvent) {
	e.events <- event
}

// WorkflowStart emits the stream's opening event.
func (e *Emitter) WorkflowStart(status models.WorkflowStatus) {
	event := e.base(models.EventWorkflowStart)
	event.Status = status
	e.send(event)
}

// Plan emits the accepted plan (initial or re-planned).
func (e *Emitter) Plan(plan *models.Plan) {
	event := e.base(models.EventPlan)
	event.Plan = plan
	e.send(event)
}

// StepStart emits the start of a step's execution. The step is cloned so
// the consumer never races with the engine mutating the live record.
func (e *Emitter) StepStart(step *models.WorkflowStep) {
	event := e.base(models.EventStepStart)
	event.StepID = step.PlanStepID
	event.Step = step.Clone()
	e.send(event)
}

// ToolCall emits a tool invocation requested by the model.
func (e *Emitter) ToolCall(stepID string, call models.ToolCall) {
	event := e.base(models.EventToolCall)
	event.StepID = stepID
	event.ToolCall = &call
	e.send(event)
}

// ToolResult emits the result for a previously emitted tool call.
func (e *Emitter) ToolResult(stepID string, result models.ToolResult) {
	event := e.base(models.EventToolResult)
	event.StepID = stepID
	event.ToolResult = &result
	e.send(event)
}

// StepEnd emits a clone of the step's final record.
func (e *Emitter) StepEnd(step *models.WorkflowStep) {
	event := e.base(models.EventStepEnd)
	event.StepID = step.PlanStepID
	event.Step = step.Clone()
	e.send(event)
}

// Reflection emits the reflection verdict for a step.
func (e *Emitter) Reflection(stepID string, reflection *models.StepReflection) {
	event := e.base(models.EventReflection)
	event.StepID = stepID
	event.Reflection = reflection
	e.send(event)
}

// Message emits assistant text. Done=false marks an incremental chunk.
func (e *Emitter) Message(stepID, content string, done bool) {
	event := e.base(models.EventMessage)
	event.StepID = stepID
	event.Message = &models.MessagePayload{Content: content, Done: done}
	e.send(event)
}

// Snapshot emits a point-in-time copy of the full workflow state.
func (e *Emitter) Snapshot(state *models.WorkflowState) {
	event := e.base(models.EventStateSnapshot)
	event.Status = state.Status
	event.State = state.Clone()
	e.send(event)
}

// WorkflowEnd emits the terminal event for done and timeout runs.
func (e *Emitter) WorkflowEnd(status models.WorkflowStatus, state *models.WorkflowState) {
	event := e.base(models.EventWorkflowEnd)
	event.Status = status
	if state != nil {
		event.State = state.Clone()
	}
	e.send(event)
}

// Error emits the error terminal event.
func (e *Emitter) Error(status models.WorkflowStatus, message string) {
	event := e.base(models.EventError)
	event.Status = status
	event.Error = message
	e.send(event)
}

// Cancelled emits the cancellation terminal event.
func (e *Emitter) Cancelled() {
	event := e.base(models.EventCancelled)
	event.Status = models.WorkflowCancelled
	e.send(event)
}
