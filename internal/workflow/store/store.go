// Package store persists workflow state snapshots for inspection after a
// run ends. Writes are best-effort from the engine's point of view: a
// failed save is logged, never fatal to the run.
package store

import (
	"context"
	"errors"

	"github.com/loamlabs/loam/pkg/models"
)

// ErrNotFound indicates no workflow with the given id has been stored.
var ErrNotFound = errors.New("workflow not found")

// Summary is a lightweight listing record.
type Summary struct {
	ID             string                `json:"id"`
	ConversationID string                `json:"conversation_id,omitempty"`
	Status         models.WorkflowStatus `json:"status"`
	UserMessage    string                `json:"user_message"`
	UpdatedAt      int64                 `json:"updated_at"`
}

// Store persists and retrieves workflow state snapshots.
type Store interface {
	// Save upserts the given snapshot.
	Save(ctx context.Context, state *models.WorkflowState) error

	// Get returns the stored snapshot for the id, or ErrNotFound.
	Get(ctx context.Context, id string) (*models.WorkflowState, error)

	// List returns summaries of stored workflows, most recent first.
	List(ctx context.Context, limit int) ([]Summary, error)

	// Close releases underlying resources.
	Close() error
}
