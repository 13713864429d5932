package store

import (
	"context"
	"sync"

	"github.com/corvidai/agentflow-go/workflow"
)

// MemoryStore is an in-memory workflow.CheckpointManager. It keeps the
// single latest Checkpoint per run id, overwritten on every Save — the
// scheduler only ever needs the most recent one to resume. Useful for
// tests and short-lived local runs; data does not survive the process.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]workflow.Checkpoint
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checkpoints: make(map[string]workflow.Checkpoint)}
}

// Save stores cp, replacing any earlier checkpoint for the same run.
func (m *MemoryStore) Save(_ context.Context, cp workflow.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[cp.RunID] = cp
	return nil
}

// Load returns the latest checkpoint saved for runID, or ErrNotFound.
func (m *MemoryStore) Load(_ context.Context, runID string) (workflow.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[runID]
	if !ok {
		return workflow.Checkpoint{}, ErrNotFound
	}
	return cp, nil
}

// Delete discards the checkpoint for runID, if any. Not part of the
// CheckpointManager contract; a convenience for hosts that want to
// reclaim space once a run is known complete.
func (m *MemoryStore) Delete(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkpoints, runID)
}
