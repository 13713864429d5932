package store_test

import (
	"context"
	"testing"

	"github.com/corvidai/agentflow-go/workflow"
	"github.com/corvidai/agentflow-go/workflow/store"
)

func TestMemoryStore_SaveLoadRoundTrip(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	if err != store.ErrNotFound {
		t.Fatalf("Load(missing) error = %v, want ErrNotFound", err)
	}

	cp := workflow.Checkpoint{RunID: "run-1", StepID: 3}
	if err := s.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.StepID != 3 {
		t.Fatalf("StepID = %d, want 3", got.StepID)
	}
}

func TestMemoryStore_SaveOverwritesPreviousStep(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	if err := s.Save(ctx, workflow.Checkpoint{RunID: "run-1", StepID: 1}); err != nil {
		t.Fatalf("Save step 1: %v", err)
	}
	if err := s.Save(ctx, workflow.Checkpoint{RunID: "run-1", StepID: 2}); err != nil {
		t.Fatalf("Save step 2: %v", err)
	}
	got, err := s.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.StepID != 2 {
		t.Fatalf("StepID = %d, want 2 (latest)", got.StepID)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	_ = s.Save(ctx, workflow.Checkpoint{RunID: "run-1", StepID: 1})
	s.Delete("run-1")
	if _, err := s.Load(ctx, "run-1"); err != store.ErrNotFound {
		t.Fatalf("Load after Delete error = %v, want ErrNotFound", err)
	}
}
