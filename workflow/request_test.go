package workflow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/corvidai/agentflow-go/workflow"
)

// TestExternalRequest_RoundTrip verifies a request port halts the run at
// PendingRequests, surfaces an ExternalRequest to the configured
// RequestSink, and resumes once a matching ExternalResponse is posted.
func TestExternalRequest_RoundTrip(t *testing.T) {
	asker := workflow.NewExecutor("asker", workflow.ExecutorOptions{AutoSendHandlerResult: true})
	workflow.Handle(asker, func(ctx context.Context, wc *workflow.Context, msg string) (any, error) {
		return msg, nil
	})
	var received []int
	recorder := workflow.NewExecutor("recorder", workflow.ExecutorOptions{})
	workflow.Handle(recorder, func(ctx context.Context, wc *workflow.Context, n int) (any, error) {
		received = append(received, n)
		return nil, nil
	})

	var requests []workflow.ExternalRequest
	sink := workflow.RequestSinkFunc(func(ctx context.Context, req workflow.ExternalRequest) error {
		requests = append(requests, req)
		return nil
	})

	wf, err := workflow.NewBuilder().
		AddBinding(workflow.BindInstance(asker)).
		AddBinding(workflow.BindInstance(recorder)).
		WithStart("asker").
		AddExternalCall("asker", "port", workflow.TypeIDFor[string](), workflow.TypeIDFor[int]()).
		AddEdge("port", "recorder").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx := context.Background()
	run, err := workflow.Start(ctx, wf, "question",
		workflow.WithExecutionMode(workflow.ModeLockstep),
		workflow.WithRequestSink(sink))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := run.RunToNextHalt(ctx); err != nil {
		t.Fatalf("RunToNextHalt: %v", err)
	}
	if run.Status() != workflow.StatusPendingRequests {
		t.Fatalf("status = %s, want PendingRequests", run.Status())
	}
	if len(requests) != 1 {
		t.Fatalf("len(requests) = %d, want 1", len(requests))
	}

	resp := workflow.ExternalResponse{
		PortID:    requests[0].PortID,
		RequestID: requests[0].RequestID,
		Data:      workflow.NewPortableValue(7),
	}
	if err := run.PostResponse(resp); err != nil {
		t.Fatalf("PostResponse: %v", err)
	}
	if _, err := run.RunToNextHalt(ctx); err != nil {
		t.Fatalf("RunToNextHalt: %v", err)
	}
	if len(received) != 1 || received[0] != 7 {
		t.Fatalf("received = %v, want [7]", received)
	}

	// A second response for the same, already-answered request id must be
	// rejected as a duplicate rather than silently accepted or reported as
	// an unknown request.
	if err := run.PostResponse(resp); !errors.Is(err, workflow.ErrDuplicateResponse) {
		t.Fatalf("second PostResponse err = %v, want ErrDuplicateResponse", err)
	}

	// A response for an id that was never issued is unknown, not a
	// duplicate.
	unknown := workflow.ExternalResponse{
		PortID:    requests[0].PortID,
		RequestID: "never-issued",
		Data:      workflow.NewPortableValue(1),
	}
	if err := run.PostResponse(unknown); !errors.Is(err, workflow.ErrUnknownRequest) {
		t.Fatalf("unknown PostResponse err = %v, want ErrUnknownRequest", err)
	}
}
