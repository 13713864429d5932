package store_test

import (
	"context"
	"testing"

	"github.com/corvidai/agentflow-go/workflow"
	"github.com/corvidai/agentflow-go/workflow/store"
)

func TestSQLiteStore_SaveLoadRoundTrip(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	if _, err := s.Load(ctx, "run-1"); err != store.ErrNotFound {
		t.Fatalf("Load(missing) error = %v, want ErrNotFound", err)
	}

	cp := workflow.Checkpoint{
		RunID:  "run-1",
		StepID: 2,
		StateData: []workflow.CheckpointStateEntry{
			{ExecutorID: "a", Key: "k", TypeID: "string", Payload: []byte(`"v"`)},
		},
	}
	if err := s.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.StepID != 2 || len(got.StateData) != 1 {
		t.Fatalf("Load = %+v, want StepID=2 with 1 state entry", got)
	}
}

func TestSQLiteStore_LoadReturnsHighestStep(t *testing.T) {
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	for step := 1; step <= 3; step++ {
		if err := s.Save(ctx, workflow.Checkpoint{RunID: "run-1", StepID: step}); err != nil {
			t.Fatalf("Save step %d: %v", step, err)
		}
	}
	got, err := s.Load(ctx, "run-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.StepID != 3 {
		t.Fatalf("StepID = %d, want 3", got.StepID)
	}
}
