package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/corvidai/agentflow-go/workflow"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a MySQL/MariaDB-backed workflow.CheckpointManager, for
// hosts that already run a MySQL instance and want checkpoints to
// survive process restarts and be visible to other workers. Schema and
// Save/Load semantics mirror SQLiteStore.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a connection pool against dsn and ensures the
// checkpoint table exists. dsn follows the go-sql-driver/mysql format,
// e.g. "user:pass@tcp(localhost:3306)/workflows?parseTime=true".
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open mysql: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS workflow_checkpoints (
	run_id   VARCHAR(191) NOT NULL,
	step_id  INT          NOT NULL,
	payload  LONGBLOB     NOT NULL,
	PRIMARY KEY (run_id, step_id)
) ENGINE=InnoDB`)
	if err != nil {
		return fmt.Errorf("store: create table: %w", err)
	}
	return nil
}

// Save upserts cp under (RunID, StepID).
func (s *MySQLStore) Save(ctx context.Context, cp workflow.Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("store: encode checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO workflow_checkpoints (run_id, step_id, payload) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE payload = VALUES(payload)`,
		cp.RunID, cp.StepID, payload)
	if err != nil {
		return fmt.Errorf("store: save checkpoint: %w", err)
	}
	return nil
}

// Load returns the highest-step_id checkpoint saved for runID.
func (s *MySQLStore) Load(ctx context.Context, runID string) (workflow.Checkpoint, error) {
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

// Close releases the underlying connection pool.
func (s *MySQLStore) Close() error {
	return s.db.Close()
}
