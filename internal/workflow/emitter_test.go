package workflow

import (
	"testing"
	"time"

	"github.com/loamlabs/loam/pkg/models"
)

func collectEvents(e *Emitter, produce func()) []models.WorkflowEvent {
	done := make(chan []models.WorkflowEvent)
	go func() {
		var events []models.WorkflowEvent
		for event := range e.Events() {
			events = append(events, event)
		}
		done <- events
	}()
	produce()
	e.Close()
	return <-done
}

func TestEmitter_SequenceMonotonic(t *testing.T) {
	e := NewEmitter("wf-1")

	events := collectEvents(e, func() {
		e.WorkflowStart(models.WorkflowPlanning)
		e.Plan(&models.Plan{Goal: "g", Steps: []models.PlanStep{{ID: "step-1", Description: "d"}}})
		e.Message("step-1", "hello", false)
		e.Message("step-1", "hello world", true)
		e.WorkflowEnd(models.WorkflowDone, nil)
	})

	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d", len(events))
	}
	for i, event := range events {
		want := uint64(i + 1)
		if event.Sequence != want {
			t.Errorf("event %d sequence = %d, want %d", i, event.Sequence, want)
		}
		if event.WorkflowID != "wf-1" {
			t.Errorf("event %d workflow id = %q, want wf-1", i, event.WorkflowID)
		}
		if event.Time.IsZero() {
			t.Errorf("event %d has zero timestamp", i)
		}
	}
}

func TestEmitter_EventPayloads(t *testing.T) {
	e := NewEmitter("wf-2")
	step := &models.WorkflowStep{PlanStepID: "step-1", Description: "look up", Status: models.StepRunning}
	call := models.ToolCall{ID: "call_1", Name: "read_file", Arguments: []byte(`{"path":"a.txt"}`)}
	result := models.ToolResult{ToolCallID: "call_1", Content: "data", Success: true}

	events := collectEvents(e, func() {
		e.StepStart(step)
		e.ToolCall("step-1", call)
		e.ToolResult("step-1", result)
		e.StepEnd(step)
		e.Reflection("step-1", &models.StepReflection{
			Assessment: models.AssessmentSuccess,
			NextAction: models.ActionContinue,
		})
		e.Cancelled()
	})

	if events[0].Type != models.EventStepStart || events[0].StepID != "step-1" {
		t.Errorf("unexpected step_start event: %+v", events[0])
	}
	if events[1].Type != models.EventToolCall || events[1].ToolCall == nil || events[1].ToolCall.Name != "read_file" {
		t.Errorf("unexpected tool_call event: %+v", events[1])
	}
	if events[2].Type != models.EventToolResult || events[2].ToolResult == nil || !events[2].ToolResult.Success {
		t.Errorf("unexpected tool_result event: %+v", events[2])
	}
	if events[3].Type != models.EventStepEnd {
		t.Errorf("unexpected step_end event: %+v", events[3])
	}
	if events[4].Type != models.EventReflection || events[4].Reflection == nil {
		t.Errorf("unexpected reflection event: %+v", events[4])
	}
	if events[5].Type != models.EventCancelled || events[5].Status != models.WorkflowCancelled {
		t.Errorf("unexpected cancelled event: %+v", events[5])
	}
}

func TestEmitter_SnapshotClonesState(t *testing.T) {
	e := NewEmitter("wf-3")
	state := &models.WorkflowState{
		ID:     "wf-3",
		Status: models.WorkflowExecuting,
		Steps:  []models.WorkflowStep{{PlanStepID: "step-1", Status: models.StepRunning}},
	}

	var got models.WorkflowEvent
	done := make(chan struct{})
	go func() {
		got = <-e.Events()
		for range e.Events() {
		}
		close(done)
	}()
	e.Snapshot(state)

	// Mutate the live state after the snapshot was emitted.
	state.Steps[0].Status = models.StepSuccess
	state.Status = models.WorkflowDone

	e.Close()
	<-done

	if got.State == nil {
		t.Fatal("snapshot event has no state")
	}
	if got.State.Steps[0].Status != models.StepRunning {
		t.Error("snapshot aliases live step state")
	}
	if got.Status != models.WorkflowExecuting {
		t.Errorf("snapshot status = %v, want executing", got.Status)
	}
}

func TestEmitter_StepEventsCloneStep(t *testing.T) {
	e := NewEmitter("wf-5")
	step := &models.WorkflowStep{PlanStepID: "step-1", Status: models.StepRunning}

	var got models.WorkflowEvent
	done := make(chan struct{})
	go func() {
		got = <-e.Events()
		for range e.Events() {
		}
		close(done)
	}()
	e.StepStart(step)

	// Mutate the live record after step_start was delivered.
	step.ToolCalls = append(step.ToolCalls, models.ToolCall{ID: "call_1", Name: "read_file"})
	step.Status = models.StepFailed
	step.Reflection = &models.StepReflection{Assessment: models.AssessmentFailure}

	e.Close()
	<-done

	if got.Step == nil {
		t.Fatal("step_start event has no step")
	}
	if got.Step == step {
		t.Error("step_start aliases the live step record")
	}
	if got.Step.Status != models.StepRunning || len(got.Step.ToolCalls) != 0 || got.Step.Reflection != nil {
		t.Errorf("step_start payload reflects later mutations: %+v", got.Step)
	}
}

func TestEmitter_UnbufferedBackpressure(t *testing.T) {
	e := NewEmitter("wf-4")

	delivered := make(chan struct{})
	go func() {
		e.WorkflowStart(models.WorkflowExecuting)
		close(delivered)
	}()

	select {
	case <-delivered:
		t.Fatal("send completed without a consumer")
	case <-time.After(20 * time.Millisecond):
	}

	<-e.Events()
	<-delivered
}
