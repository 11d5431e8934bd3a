package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	"github.com/loamlabs/loam/pkg/models"
)

// SQLiteStore persists workflow snapshots in a local SQLite database. The
// full state is stored as a JSON blob; id, conversation, and status are
// lifted into columns for listing and lookup.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the database at path.
// An empty path uses an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent saves.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflows (
			id TEXT PRIMARY KEY,
			conversation_id TEXT,
			status TEXT NOT NULL,
			user_message TEXT NOT NULL,
			state TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create workflows table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_workflows_conversation ON workflows(conversation_id)",
		"CREATE INDEX IF NOT EXISTS idx_workflows_updated ON workflows(updated_at)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

// Save upserts the snapshot.
func (s *SQLiteStore) Save(ctx context.Context, state *models.WorkflowState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, conversation_id, status, user_message, state, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			conversation_id = excluded.conversation_id,
			status = excluded.status,
			user_message = excluded.user_message,
			state = excluded.state,
			updated_at = excluded.updated_at
	`, state.ID, state.ConversationID, string(state.Status), state.UserMessage, string(blob), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save workflow %s: %w", state.ID, err)
	}
	return nil
}

// Get returns the stored snapshot for the id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.WorkflowState, error) {
	var blob string
	err := s.db.QueryRowContext(ctx, "SELECT state FROM workflows WHERE id = ?", id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}

	var state models.WorkflowState
	if err := json.Unmarshal([]byte(blob), &state); err != nil {
		return nil, fmt.Errorf("decode workflow %s: %w", id, err)
	}
	return &state, nil
}

// List returns summaries, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, status, user_message, updated_at
		FROM workflows ORDER BY updated_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.ConversationID, &s.Status, &s.UserMessage, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan workflow row: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
