package workflow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/corvidai/agentflow-go/workflow"
)

func echoExecutor(id string) *workflow.FuncExecutor {
	e := workflow.NewExecutor(id, workflow.ExecutorOptions{AutoSendHandlerResult: true})
	workflow.Handle(e, func(ctx context.Context, wc *workflow.Context, msg string) (any, error) {
		return msg, nil
	})
	return e
}

func TestBuilder_DuplicateIDRejected(t *testing.T) {
	a := echoExecutor("A")
	a2 := echoExecutor("A")
	_, err := workflow.NewBuilder().
		AddBinding(workflow.BindInstance(a)).
		AddBinding(workflow.BindInstance(a2)).
		WithStart("A").
		Build()
	if !errors.Is(err, workflow.ErrDuplicateID) {
		t.Fatalf("Build() err = %v, want ErrDuplicateID", err)
	}
}

func TestBuilder_NoStartRejected(t *testing.T) {
	a := echoExecutor("A")
	_, err := workflow.NewBuilder().
		AddBinding(workflow.BindInstance(a)).
		Build()
	if !errors.Is(err, workflow.ErrNoStart) {
		t.Fatalf("Build() err = %v, want ErrNoStart", err)
	}
}

func TestBuilder_DanglingStartRejected(t *testing.T) {
	a := echoExecutor("A")
	_, err := workflow.NewBuilder().
		AddBinding(workflow.BindInstance(a)).
		WithStart("nonexistent").
		Build()
	if !errors.Is(err, workflow.ErrDanglingEdge) {
		t.Fatalf("Build() err = %v, want ErrDanglingEdge", err)
	}
}

func TestBuilder_DanglingEdgeSinkRejected(t *testing.T) {
	a := echoExecutor("A")
	_, err := workflow.NewBuilder().
		AddBinding(workflow.BindInstance(a)).
		WithStart("A").
		AddEdge("A", "nonexistent").
		Build()
	if !errors.Is(err, workflow.ErrDanglingEdge) {
		t.Fatalf("Build() err = %v, want ErrDanglingEdge", err)
	}
}

func TestBuilder_SwitchWithNoCasesRejected(t *testing.T) {
	a := echoExecutor("A")
	_, err := workflow.NewBuilder().
		AddBinding(workflow.BindInstance(a)).
		WithStart("A").
		AddSwitch("A", nil, "").
		Build()
	if !errors.Is(err, workflow.ErrDanglingEdge) {
		t.Fatalf("Build() err = %v, want ErrDanglingEdge", err)
	}
}

func TestStart_ProtocolMismatchRejected(t *testing.T) {
	a := echoExecutor("A")
	wf, err := workflow.NewBuilder().
		AddBinding(workflow.BindInstance(a)).
		WithStart("A").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, err = workflow.Start(context.Background(), wf, 42)
	if !errors.Is(err, workflow.ErrProtocolMismatch) {
		t.Fatalf("Start() err = %v, want ErrProtocolMismatch", err)
	}
}

// TestStart_NonShareableSharedBindingRejectsReuse verifies that a
// Workflow built around a BindInstance executor which did not declare
// DeclareCrossRunShareable can only ever back one Start: a second Start
// against the same Workflow must fail rather than let two runs mutate
// one shared in-process executor instance concurrently.
func TestStart_NonShareableSharedBindingRejectsReuse(t *testing.T) {
	a := echoExecutor("A")
	wf, err := workflow.NewBuilder().
		AddBinding(workflow.BindInstance(a)).
		WithStart("A").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	first, err := workflow.Start(context.Background(), wf, "go", workflow.WithExecutionMode(workflow.ModeLockstep))
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, err := first.RunToNextHalt(context.Background()); err != nil {
		t.Fatalf("first RunToNextHalt: %v", err)
	}

	_, err = workflow.Start(context.Background(), wf, "go", workflow.WithExecutionMode(workflow.ModeLockstep))
	if !errors.Is(err, workflow.ErrInvalidOperation) {
		t.Fatalf("second Start() err = %v, want ErrInvalidOperation", err)
	}
}

// TestStart_CrossRunShareableBindingAllowsReuse verifies the inverse: a
// BindInstance executor that declares DeclareCrossRunShareable backs as
// many runs of the same Workflow as needed.
func TestStart_CrossRunShareableBindingAllowsReuse(t *testing.T) {
	e := workflow.NewExecutor("A", workflow.ExecutorOptions{
		AutoSendHandlerResult:    true,
		DeclareCrossRunShareable: true,
	})
	workflow.Handle(e, func(ctx context.Context, wc *workflow.Context, msg string) (any, error) {
		return msg, nil
	})
	wf, err := workflow.NewBuilder().
		AddBinding(workflow.BindInstance(e)).
		WithStart("A").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for i := 0; i < 2; i++ {
		run, err := workflow.Start(context.Background(), wf, "go", workflow.WithExecutionMode(workflow.ModeLockstep))
		if err != nil {
			t.Fatalf("Start #%d: %v", i, err)
		}
		if _, err := run.RunToNextHalt(context.Background()); err != nil {
			t.Fatalf("RunToNextHalt #%d: %v", i, err)
		}
	}
}
