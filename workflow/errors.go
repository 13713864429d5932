package workflow

import (
	"errors"
	"fmt"
)

// ErrDuplicateID is returned by the builder when two bindings, edges, or
// ports share an id.
var ErrDuplicateID = errors.New("workflow: duplicate id")

// ErrProtocolMismatch is returned by Start when the start executor cannot
// accept the input value's type.
var ErrProtocolMismatch = errors.New("workflow: start executor does not accept input type")

// ErrNoStart is returned by Build when no start executor was designated.
var ErrNoStart = errors.New("workflow: no start executor designated")

// ErrDanglingEdge is returned by Build when an edge's source or sink does
// not resolve to a known binding or port.
var ErrDanglingEdge = errors.New("workflow: edge endpoint does not resolve to a binding or port")

// ErrInvalidOperation is returned by StateManager.ExportState when called
// with a non-empty update log, and by other operations invoked outside
// their documented preconditions.
var ErrInvalidOperation = errors.New("workflow: invalid operation")

// ErrUnknownRequest is returned by the request coordinator when a host
// posts a response for a requestId that is not outstanding.
var ErrUnknownRequest = errors.New("workflow: unknown request id")

// ErrDuplicateResponse is returned when a host posts a second response
// for a requestId that was already answered.
var ErrDuplicateResponse = errors.New("workflow: duplicate response for request id")

// ErrCancelled identifies a cooperatively cancelled run. The runtime
// itself reports cancellation as StatusCancelled and, from
// RunToNextHalt, as the cancelled ctx's error; it does not return
// ErrCancelled.
var ErrCancelled = errors.New("workflow: run cancelled")

// ErrEdgeFailed is returned when a fan-out partitioner returns an
// out-of-range sink index, when a fan-in edge receives input from a
// source it does not list, when a fan-in buffer fails to encode or decode
// for a checkpoint, or when a delivery exceeds WithQueueDepth. Fan-in
// edges do not check the type of the values they buffer.
var ErrEdgeFailed = errors.New("workflow: edge runner failed")

// Code is a machine-readable error classification, matching the taxonomy
// in spec.md section 7.
type Code string

const (
	CodeBuildError      Code = "BUILD_ERROR"
	CodeRouteMismatch   Code = "ROUTE_MISMATCH"
	CodeEdgeError       Code = "EDGE_ERROR"
	CodeHandlerError    Code = "HANDLER_ERROR"
	CodeHandlerTimeout  Code = "HANDLER_TIMEOUT"
	CodeStateError      Code = "STATE_ERROR"
	CodeCheckpointError Code = "CHECKPOINT_ERROR"
	CodeRequestError    Code = "REQUEST_ERROR"
	CodeCancelled       Code = "CANCELLED"
)

// RunError wraps a failure surfaced during a run with the executor (if
// any) and run id involved, so a host can branch on Code without string
// matching while still getting a readable message via Error().
type RunError struct {
	Code       Code
	RunID      string
	ExecutorID string
	Cause      error
}

func (e *RunError) Error() string {
	if e.ExecutorID != "" {
		return fmt.Sprintf("workflow: run %s: executor %s: %s: %v", e.RunID, e.ExecutorID, e.Code, e.Cause)
	}
	return fmt.Sprintf("workflow: run %s: %s: %v", e.RunID, e.Code, e.Cause)
}

func (e *RunError) Unwrap() error {
	return e.Cause
}

// newRunError builds a RunError for cause. When includeDetails is false,
// Cause is collapsed to a generic, code-only message instead of carrying
// the handler/edge failure's full detail (WithIncludeExceptionDetails).
func newRunError(runID, executorID string, code Code, cause error, includeDetails bool) *RunError {
	if !includeDetails && cause != nil {
		cause = fmt.Errorf("workflow: %s", code)
	}
	return &RunError{Code: code, RunID: runID, ExecutorID: executorID, Cause: cause}
}
