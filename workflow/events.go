package workflow

import "context"

// EventKind classifies a WorkflowEvent, per spec.md section 4.7.
type EventKind string

const (
	// EventSuperStepCompleted is raised once per superstep at commit
	// time, carrying the set of activated/instantiated executors and
	// commit flags.
	EventSuperStepCompleted EventKind = "SuperStepCompleted"

	// EventExecutorInvoked is raised immediately before a handler runs.
	EventExecutorInvoked EventKind = "ExecutorInvoked"

	// EventExecutorCompleted is raised immediately after a handler
	// returns successfully.
	EventExecutorCompleted EventKind = "ExecutorCompleted"

	// EventExecutorFailure is raised when a handler returns an error,
	// immediately before the run transitions to Failed. An edge delivery
	// failure raises it too, right after the run is marked Failed.
	EventExecutorFailure EventKind = "ExecutorFailure"

	// EventAgentRunUpdate carries an opaque payload emitted by an
	// executor via Context.AddEvent; the core never interprets it.
	EventAgentRunUpdate EventKind = "AgentRunUpdate"

	// EventWorkflowOutput is raised when an output executor (one named
	// via Builder.WithOutputFrom, see Workflow.IsOutput) sends a message.
	EventWorkflowOutput EventKind = "WorkflowOutput"

	// EventWorkflowWarning is raised for a non-fatal condition such as a
	// route-miss envelope drop.
	EventWorkflowWarning EventKind = "WorkflowWarning"

	// EventRequestHalt is raised when an executor's request causes the
	// run to suspend awaiting an external response.
	EventRequestHalt EventKind = "RequestHalt"
)

// Event is a single observability event raised during a run.
type Event struct {
	// RunID identifies the run that raised this event.
	RunID string

	// Step is the superstep number the event belongs to (1-indexed; 0
	// for run-level events raised outside any superstep).
	Step int

	// ExecutorID identifies the executor that raised the event, if any.
	ExecutorID string

	// Kind classifies the event.
	Kind EventKind

	// Msg is a short human-readable description.
	Msg string

	// Meta carries structured detail specific to Kind (activated
	// executor ids, error detail, checkpoint id, etc).
	Meta map[string]any

	// Payload carries the opaque value for AgentRunUpdate/WorkflowOutput
	// events — whatever the executor passed to Context.AddEvent or
	// Context.SendMessage.
	Payload any
}

// NopEmitter discards every event. It is the default Emitter for a Run
// that does not configure one via WithEmitter.
type NopEmitter struct{}

func (NopEmitter) Emit(Event)                                          {}
func (NopEmitter) EmitBatch(ctx context.Context, events []Event) error { return nil }
func (NopEmitter) Flush(ctx context.Context) error                     { return nil }

// Emitter receives WorkflowEvents raised during execution. Implementations
// enable pluggable observability backends (structured logs, traces,
// metrics) and must not block workflow execution or panic; see
// workflow/emit for the concrete implementations this repo ships.
type Emitter interface {
	// Emit sends a single event. Implementations should not block.
	Emit(event Event)

	// EmitBatch sends multiple events in raise order. Returns an error
	// only on catastrophic, non-per-event failures.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until all buffered events have been sent, or ctx is
	// done.
	Flush(ctx context.Context) error
}
