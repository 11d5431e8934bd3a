package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/loamlabs/loam/internal/observability"
	"github.com/loamlabs/loam/internal/workflow/store"
	"github.com/loamlabs/loam/pkg/models"
)

// Manager tracks in-flight workflow runs by id and answers inspection and
// cancellation requests. Finished runs are served from the store.
type Manager struct {
	engine *Engine
	store  store.Store
	logger *observability.Logger

	mu   sync.Mutex
	runs map[string]*Run
}

// NewManager creates a manager over the given engine and store.
func NewManager(engine *Engine, st store.Store, logger *observability.Logger) *Manager {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Manager{
		engine: engine,
		store:  st,
		logger: logger,
		runs:   make(map[string]*Run),
	}
}

// Start launches a workflow run and registers it for cancellation. The
// registration is removed once the run finishes.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Run, error) {
	run, err := m.engine.Start(ctx, req)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.runs[run.WorkflowID()] = run
	m.mu.Unlock()

	go func() {
		<-run.Done()
		m.mu.Lock()
		delete(m.runs, run.WorkflowID())
		m.mu.Unlock()
	}()

	return run, nil
}

// Cancel requests cancellation of a running workflow. It is idempotent:
// cancelling an unknown or already finished workflow reports found=false
// and has no effect.
func (m *Manager) Cancel(workflowID string) bool {
	m.mu.Lock()
	run, ok := m.runs[workflowID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.logger.Info(context.Background(), "cancellation requested", "workflow_id", workflowID)
	run.Cancel()
	return true
}

// Running reports whether the workflow is currently in flight.
func (m *Manager) Running(workflowID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.runs[workflowID]
	return ok
}

// Get returns the persisted state of a workflow. In-flight runs are served
// from their latest saved snapshot.
func (m *Manager) Get(ctx context.Context, workflowID string) (*models.WorkflowState, error) {
	return m.store.Get(ctx, workflowID)
}

// List returns summaries of recent workflows, newest first.
func (m *Manager) List(ctx context.Context, limit int) ([]store.Summary, error) {
	return m.store.List(ctx, limit)
}

// Shutdown cancels all in-flight runs and waits for them to finish, up to
// the given grace period.
func (m *Manager) Shutdown(grace time.Duration) {
	m.mu.Lock()
	active := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		active = append(active, run)
	}
	m.mu.Unlock()

	for _, run := range active {
		run.Cancel()
	}

	deadline := time.After(grace)
	for _, run := range active {
		select {
		case <-run.Done():
		case <-deadline:
			return
		}
	}
}
