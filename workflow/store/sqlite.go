package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/corvidai/agentflow-go/workflow"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a SQLite-backed workflow.CheckpointManager. It persists
// each Checkpoint as a JSON blob keyed by (run_id, step_id) so resume can
// go back further than the latest step if a host ever needs to; Load
// always returns the highest step_id recorded for the run.
//
// SQLite supports one writer at a time; the pool is capped accordingly
// and WAL mode is enabled so concurrent reads aren't blocked by a
// checkpoint write in flight.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at path
// and ensures its checkpoint table exists. Use ":memory:" for a
// throwaway database that lives only as long as the process.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS workflow_checkpoints (
	run_id   TEXT    NOT NULL,
	step_id  INTEGER NOT NULL,
	payload  BLOB    NOT NULL,
	PRIMARY KEY (run_id, step_id)
)`)
	if err != nil {
		return fmt.Errorf("store: create table: %w", err)
	}
	return nil
}

// Save upserts cp under (RunID, StepID).
func (s *SQLiteStore) Save(ctx context.Context, cp workflow.Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("store: encode checkpoint: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO workflow_checkpoints (run_id, step_id, payload) VALUES (?, ?, ?)
ON CONFLICT(run_id, step_id) DO UPDATE SET payload = excluded.payload`,
		cp.RunID, cp.StepID, payload)
	if err != nil {
		return fmt.Errorf("store: save checkpoint: %w", err)
	}
	return nil
}

// Load returns the highest-step_id checkpoint saved for runID.
func (s *SQLiteStore) Load(ctx context.Context, runID string) (workflow.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, `
SELECT payload FROM workflow_checkpoints
WHERE run_id = ? ORDER BY step_id DESC LIMIT 1`, runID)
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return workflow.Checkpoint{}, ErrNotFound
		}
		return workflow.Checkpoint{}, fmt.Errorf("store: load checkpoint: %w", err)
	}
	var cp workflow.Checkpoint
	if err := json.Unmarshal(payload, &cp); err != nil {
		return workflow.Checkpoint{}, fmt.Errorf("store: decode checkpoint: %w", err)
	}
	return cp, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
