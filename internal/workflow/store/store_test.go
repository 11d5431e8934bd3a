package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/loamlabs/loam/pkg/models"
)

func testState(id string, status models.WorkflowStatus) *models.WorkflowState {
	return &models.WorkflowState{
		ID:          id,
		Status:      status,
		UserMessage: "summarize the report",
		Plan: &models.Plan{
			Goal:    "summarize the report",
			Steps:   []models.PlanStep{{ID: "step-1", Description: "read"}},
			Version: 1,
		},
		Steps: []models.WorkflowStep{{
			PlanStepID: "step-1",
			Status:     models.StepSuccess,
			ToolCalls:  []models.ToolCall{{ID: "call_1", Name: "read_file", Arguments: []byte(`{}`)}},
		}},
		Config:    models.WorkflowConfig{Model: "m", MaxSteps: 3},
		StartedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// stores returns each implementation under a shared contract test.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "workflows.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			state := testState("wf-1", models.WorkflowExecuting)

			if err := st.Save(ctx, state); err != nil {
				t.Fatalf("Save: %v", err)
			}

			got, err := st.Get(ctx, "wf-1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.ID != "wf-1" || got.Status != models.WorkflowExecuting {
				t.Errorf("got %+v", got)
			}
			if got.Plan == nil || got.Plan.Goal != "summarize the report" {
				t.Errorf("plan = %+v", got.Plan)
			}
			if len(got.Steps) != 1 || got.Steps[0].PlanStepID != "step-1" {
				t.Errorf("steps = %+v", got.Steps)
			}
		})
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := st.Save(ctx, testState("wf-1", models.WorkflowExecuting)); err != nil {
				t.Fatalf("Save: %v", err)
			}
			final := testState("wf-1", models.WorkflowDone)
			final.FinalAnswer = "42"
			if err := st.Save(ctx, final); err != nil {
				t.Fatalf("Save update: %v", err)
			}

			got, err := st.Get(ctx, "wf-1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got.Status != models.WorkflowDone || got.FinalAnswer != "42" {
				t.Errorf("got %+v", got)
			}

			summaries, err := st.List(ctx, 10)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(summaries) != 1 {
				t.Errorf("summaries = %d, want 1 after overwrite", len(summaries))
			}
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.Get(context.Background(), "missing")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for _, id := range []string{"wf-a", "wf-b", "wf-c"} {
				if err := st.Save(ctx, testState(id, models.WorkflowDone)); err != nil {
					t.Fatalf("Save %s: %v", id, err)
				}
				time.Sleep(2 * time.Millisecond)
			}

			summaries, err := st.List(ctx, 10)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(summaries) != 3 {
				t.Fatalf("summaries = %d, want 3", len(summaries))
			}
			if summaries[0].ID != "wf-c" {
				t.Errorf("newest = %s, want wf-c", summaries[0].ID)
			}
			if summaries[0].UserMessage != "summarize the report" {
				t.Errorf("user message = %q", summaries[0].UserMessage)
			}

			limited, err := st.List(ctx, 2)
			if err != nil {
				t.Fatalf("List limited: %v", err)
			}
			if len(limited) != 2 {
				t.Errorf("limited = %d, want 2", len(limited))
			}
		})
	}
}

func TestMemoryStore_SnapshotsDoNotAlias(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	state := testState("wf-1", models.WorkflowExecuting)
	if err := st.Save(ctx, state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Mutating the live state after save must not change the stored copy.
	state.Status = models.WorkflowDone
	state.Steps[0].Status = models.StepFailed

	got, err := st.Get(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.WorkflowExecuting {
		t.Errorf("stored status = %v, want executing", got.Status)
	}
	if got.Steps[0].Status != models.StepSuccess {
		t.Errorf("stored step status = %v, want success", got.Steps[0].Status)
	}

	// Mutating a returned copy must not change the store either.
	got.Status = models.WorkflowError
	again, _ := st.Get(ctx, "wf-1")
	if again.Status != models.WorkflowExecuting {
		t.Errorf("store mutated through returned copy: %v", again.Status)
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "workflows.db")

	st, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := st.Save(ctx, testState("wf-1", models.WorkflowDone)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "wf-1")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Status != models.WorkflowDone {
		t.Errorf("status = %v, want done", got.Status)
	}
}
