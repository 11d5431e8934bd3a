package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/loamlabs/loam/pkg/models"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs.
type MemoryStore struct {
	mu        sync.RWMutex
	states    map[string]*models.WorkflowState
	updatedAt map[string]int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:    make(map[string]*models.WorkflowState),
		updatedAt: make(map[string]int64),
	}
}

// Save upserts the snapshot.
func (s *MemoryStore) Save(_ context.Context, state *models.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ID] = state.Clone()
	s.updatedAt[state.ID] = time.Now().UnixMilli()
	return nil
}

// Get returns the stored snapshot for the id.
func (s *MemoryStore) Get(_ context.Context, id string) (*models.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[id]
	if !ok {
		return nil, ErrNotFound
	}
	return state.Clone(), nil
}

// List returns summaries, most recently updated first.
func (s *MemoryStore) List(_ context.Context, limit int) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]Summary, 0, len(s.states))
	for id, state := range s.states {
		summaries = append(summaries, Summary{
			ID:             id,
			ConversationID: state.ConversationID,
			Status:         state.Status,
			UserMessage:    state.UserMessage,
			UpdatedAt:      s.updatedAt[id],
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].UpdatedAt != summaries[j].UpdatedAt {
			return summaries[i].UpdatedAt > summaries[j].UpdatedAt
		}
		return summaries[i].ID < summaries[j].ID
	})

	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
