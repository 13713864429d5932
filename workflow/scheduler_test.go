package workflow_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/corvidai/agentflow-go/workflow"
)

// TestFIFOOrderingPerTarget verifies that multiple sends to the same
// target within one superstep are delivered to that target in send order
// in the following superstep.
func TestFIFOOrderingPerTarget(t *testing.T) {
	a := workflow.NewExecutor("A", workflow.ExecutorOptions{})
	workflow.Handle(a, func(ctx context.Context, wc *workflow.Context, msg string) (any, error) {
		wc.SendMessage(1)
		wc.SendMessage(2)
		wc.SendMessage(3)
		return nil, nil
	})

	var received []int
	b := workflow.NewExecutor("B", workflow.ExecutorOptions{})
	workflow.Handle(b, func(ctx context.Context, wc *workflow.Context, msg int) (any, error) {
		received = append(received, msg)
		return nil, nil
	})

	wf, err := workflow.NewBuilder().
		AddBinding(workflow.BindInstance(a)).
		AddBinding(workflow.BindInstance(b)).
		WithStart("A").
		AddEdge("A", "B").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx := context.Background()
	run, err := workflow.Start(ctx, wf, "go", workflow.WithExecutionMode(workflow.ModeLockstep))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := run.RunToNextHalt(ctx); err != nil {
		t.Fatalf("RunToNextHalt: %v", err)
	}

	if !reflect.DeepEqual(received, []int{1, 2, 3}) {
		t.Fatalf("received = %v, want [1 2 3]", received)
	}
}

// TestHappensBeforeStepBoundary verifies that a message sent during step N
// is not visible to its target until step N+1: each event carries the
// step it was raised in, and the downstream executor's ExecutorInvoked
// must come in a strictly later step than its sender's ExecutorInvoked.
func TestHappensBeforeStepBoundary(t *testing.T) {
	a := workflow.NewExecutor("A", workflow.ExecutorOptions{AutoSendHandlerResult: true})
	workflow.Handle(a, func(ctx context.Context, wc *workflow.Context, msg string) (any, error) {
		return "relayed", nil
	})
	b := workflow.NewExecutor("B", workflow.ExecutorOptions{})
	workflow.Handle(b, func(ctx context.Context, wc *workflow.Context, msg string) (any, error) {
		return nil, nil
	})

	wf, err := workflow.NewBuilder().
		AddBinding(workflow.BindInstance(a)).
		AddBinding(workflow.BindInstance(b)).
		WithStart("A").
		AddEdge("A", "B").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx := context.Background()
	run, err := workflow.Start(ctx, wf, "go", workflow.WithExecutionMode(workflow.ModeLockstep))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	events, err := run.RunToNextHalt(ctx)
	if err != nil {
		t.Fatalf("RunToNextHalt: %v", err)
	}

	stepOf := map[string]int{}
	for _, e := range events {
		if e.Kind == workflow.EventExecutorInvoked {
			stepOf[e.ExecutorID] = e.Step
		}
	}
	if stepOf["A"] == 0 || stepOf["B"] == 0 {
		t.Fatalf("expected both A and B to be invoked, got steps %v", stepOf)
	}
	if stepOf["B"] <= stepOf["A"] {
		t.Fatalf("B invoked at step %d, A at step %d: B must happen strictly after A", stepOf["B"], stepOf["A"])
	}
}

// TestCatchAllIsFallbackOnly verifies a typed route takes precedence over
// a catch-all handler on the same executor.
func TestCatchAllIsFallbackOnly(t *testing.T) {
	var typedHit, catchAllHit bool

	// E backs two runs of the same Workflow below, so it must declare
	// itself cross-run shareable.
	e := workflow.NewExecutor("E", workflow.ExecutorOptions{DeclareCrossRunShareable: true})
	workflow.Handle(e, func(ctx context.Context, wc *workflow.Context, msg string) (any, error) {
		typedHit = true
		return nil, nil
	})
	e.HandleCatchAll(func(ctx context.Context, wc *workflow.Context, msg workflow.PortableValue) (any, error) {
		catchAllHit = true
		return nil, nil
	})

	wf, err := workflow.NewBuilder().
		AddBinding(workflow.BindInstance(e)).
		WithStart("E").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx := context.Background()
	run, err := workflow.Start(ctx, wf, "hello", workflow.WithExecutionMode(workflow.ModeLockstep))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := run.RunToNextHalt(ctx); err != nil {
		t.Fatalf("RunToNextHalt: %v", err)
	}

	if !typedHit || catchAllHit {
		t.Fatalf("typedHit=%v catchAllHit=%v, want typed route to win", typedHit, catchAllHit)
	}

	run2, err := workflow.Start(ctx, wf, 42, workflow.WithExecutionMode(workflow.ModeLockstep))
	if err != nil {
		t.Fatalf("Start (int): %v", err)
	}
	if _, err := run2.RunToNextHalt(ctx); err != nil {
		t.Fatalf("RunToNextHalt (int): %v", err)
	}
	if !catchAllHit {
		t.Fatalf("expected catch-all to handle an int when no typed route matches")
	}
}

// TestFanInDeterministicOrdering verifies a fan-in edge aggregates values
// in its declared source order regardless of actual arrival order, and
// that unbalanced per-source arrivals across supersteps still drain in
// matched pairs.
func TestFanInDeterministicOrdering(t *testing.T) {
	// init is a no-op start executor so the test can drive b and c
	// directly via Run.Enqueue without the seed input itself reaching
	// the fan-in edge.
	starter := workflow.NewExecutor("init", workflow.ExecutorOptions{})
	workflow.Handle(starter, func(ctx context.Context, wc *workflow.Context, msg string) (any, error) {
		return nil, nil
	})

	// b and c are the fan-in edge's declared sources: each relays
	// whatever it is handed so fan-in deliveries can be driven directly
	// via Run.Enqueue without a shared upstream source.
	b := workflow.NewExecutor("b", workflow.ExecutorOptions{AutoSendHandlerResult: true})
	workflow.Handle(b, func(ctx context.Context, wc *workflow.Context, msg string) (any, error) {
		return msg, nil
	})
	c := workflow.NewExecutor("c", workflow.ExecutorOptions{AutoSendHandlerResult: true})
	workflow.Handle(c, func(ctx context.Context, wc *workflow.Context, msg string) (any, error) {
		return msg, nil
	})

	var aggregates [][]any
	sink := workflow.NewExecutor("sink", workflow.ExecutorOptions{})
	workflow.Handle(sink, func(ctx context.Context, wc *workflow.Context, agg workflow.FanInResult) (any, error) {
		aggregates = append(aggregates, agg.Values)
		return nil, nil
	})

	wf, err := workflow.NewBuilder().
		AddBinding(workflow.BindInstance(starter)).
		AddBinding(workflow.BindInstance(b)).
		AddBinding(workflow.BindInstance(c)).
		AddBinding(workflow.BindInstance(sink)).
		WithStart("init").
		AddFanIn([]string{"b", "c"}, "sink").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx := context.Background()
	run, err := workflow.Start(ctx, wf, "unused", workflow.WithExecutionMode(workflow.ModeLockstep))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := run.RunToNextHalt(ctx); err != nil {
		t.Fatalf("RunToNextHalt (seed): %v", err)
	}

	run.Enqueue("b", "from-b-1")
	run.Enqueue("c", "from-c-1")
	run.Enqueue("b", "from-b-2")
	if _, err := run.RunToNextHalt(ctx); err != nil {
		t.Fatalf("RunToNextHalt: %v", err)
	}

	if len(aggregates) != 1 {
		t.Fatalf("expected exactly one aggregate (b-1,c-1); b-2 has no c match yet, got %v", aggregates)
	}
	if !reflect.DeepEqual(aggregates[0], []any{"from-b-1", "from-c-1"}) {
		t.Fatalf("aggregate = %v, want [from-b-1 from-c-1]", aggregates[0])
	}

	run.Enqueue("c", "from-c-2")
	if _, err := run.RunToNextHalt(ctx); err != nil {
		t.Fatalf("RunToNextHalt: %v", err)
	}
	if len(aggregates) != 2 {
		t.Fatalf("expected second aggregate once c-2 arrives, got %v", aggregates)
	}
	if !reflect.DeepEqual(aggregates[1], []any{"from-b-2", "from-c-2"}) {
		t.Fatalf("aggregate = %v, want [from-b-2 from-c-2]", aggregates[1])
	}
}

// TestWithQueueDepth_RejectsOverflow verifies a broadcast fan-out that
// would push the pending-envelope count past WithQueueDepth fails the
// superstep with CodeEdgeError instead of growing the queue unbounded.
func TestWithQueueDepth_RejectsOverflow(t *testing.T) {
	a := workflow.NewExecutor("A", workflow.ExecutorOptions{AutoSendHandlerResult: true})
	workflow.Handle(a, func(ctx context.Context, wc *workflow.Context, msg string) (any, error) {
		return msg, nil
	})
	sinks := []string{"b", "c", "d"}
	var bindings []workflow.Binding
	for _, id := range sinks {
		e := workflow.NewExecutor(id, workflow.ExecutorOptions{})
		workflow.Handle(e, func(ctx context.Context, wc *workflow.Context, msg string) (any, error) {
			return nil, nil
		})
		bindings = append(bindings, workflow.BindInstance(e))
	}

	builder := workflow.NewBuilder().AddBinding(workflow.BindInstance(a))
	for _, b := range bindings {
		builder = builder.AddBinding(b)
	}
	wf, err := builder.
		WithStart("A").
		AddFanOut("A", sinks).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx := context.Background()
	run, err := workflow.Start(ctx, wf, "go",
		workflow.WithExecutionMode(workflow.ModeLockstep),
		workflow.WithQueueDepth(2))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := run.RunToNextHalt(ctx); err == nil {
		t.Fatalf("RunToNextHalt: want error once the 3-way broadcast exceeds queue depth 2, got nil")
	}
	if run.Status() != workflow.StatusFailed {
		t.Fatalf("status = %s, want Failed", run.Status())
	}
	var re *workflow.RunError
	if !errors.As(run.Err(), &re) || re.Code != workflow.CodeEdgeError {
		t.Fatalf("Err() = %v, want a RunError with CodeEdgeError", run.Err())
	}
}

// TestWithMaxConcurrentExecutors_StillCompletes verifies a concurrency
// cap narrower than the number of eligible targets in a superstep does
// not deadlock or drop work: every target still runs, just not all at
// once.
func TestWithMaxConcurrentExecutors_StillCompletes(t *testing.T) {
	a := workflow.NewExecutor("A", workflow.ExecutorOptions{AutoSendHandlerResult: true})
	workflow.Handle(a, func(ctx context.Context, wc *workflow.Context, msg string) (any, error) {
		return msg, nil
	})

	var mu sync.Mutex
	invoked := map[string]bool{}
	sinks := []string{"b", "c", "d"}
	builder := workflow.NewBuilder().AddBinding(workflow.BindInstance(a))
	for _, id := range sinks {
		e := workflow.NewExecutor(id, workflow.ExecutorOptions{SupportsConcurrentSharedExecution: true})
		workflow.Handle(e, func(ctx context.Context, wc *workflow.Context, msg string) (any, error) {
			mu.Lock()
			invoked[id] = true
			mu.Unlock()
			return nil, nil
		})
		builder = builder.AddBinding(workflow.BindInstance(e))
	}
	wf, err := builder.
		WithStart("A").
		AddFanOut("A", sinks).
		WithAllowConcurrent(true).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx := context.Background()
	run, err := workflow.Start(ctx, wf, "go",
		workflow.WithExecutionMode(workflow.ModeLockstep),
		workflow.WithMaxConcurrentExecutors(1))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := run.RunToNextHalt(ctx); err != nil {
		t.Fatalf("RunToNextHalt: %v", err)
	}
	for _, id := range sinks {
		if !invoked[id] {
			t.Fatalf("%s was never invoked under MaxConcurrentExecutors(1)", id)
		}
	}
}
