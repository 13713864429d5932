package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/corvidai/agentflow-go/workflow"
	"github.com/corvidai/agentflow-go/workflow/store"
)

// TestMySQLStore_SaveLoadRoundTrip requires a reachable MySQL instance.
//
// Set TEST_MYSQL_DSN (e.g. "user:pass@tcp(localhost:3306)/test_db?parseTime=true")
// to run it; it is skipped otherwise since no MySQL server is available
// in the default test environment.
func TestMySQLStore_SaveLoadRoundTrip(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN not set; skipping MySQL-backed store test")
	}

	s, err := store.NewMySQLStore(dsn)
	if err != nil {
		t.Fatalf("NewMySQLStore: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	cp := workflow.Checkpoint{RunID: "mysql-test-run", StepID: 1}
	if err := s.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx, "mysql-test-run")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.StepID != 1 {
		t.Fatalf("StepID = %d, want 1", got.StepID)
	}
}
