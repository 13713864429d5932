package workflow

// ExecutorFactory constructs a fresh Executor instance. The scheduler calls
// it lazily, the first time a run actually addresses an envelope to the
// binding's id — executors that are never reached are never instantiated.
type ExecutorFactory func() (Executor, error)

// Binding places an executor under an id within a Workflow and records how
// the scheduler should instantiate and reuse it.
//
// A binding backed by a single pre-built Executor (via BindInstance) is
// shared across every run of the Workflow if and only if that executor's
// Options().DeclareCrossRunShareable is true; otherwise the same instance
// can back only one run, and Start rejects a second run of the same
// Workflow through that binding with ErrInvalidOperation rather than risk
// cross-run state bleed through an executor that never opted in.
type Binding struct {
	id      string
	factory ExecutorFactory
	shared  Executor
}

// BindFactory creates a Binding whose executor is constructed fresh, once
// per run, by calling factory the first time the run addresses it.
func BindFactory(id string, factory ExecutorFactory) Binding {
	return Binding{id: id, factory: factory}
}

// BindInstance creates a Binding around an already-constructed executor.
// If exec declares itself cross-run shareable, the same instance is reused
// by every run of the Workflow; otherwise it is only ever used by a single
// run, and Start rejects a second run against the same Workflow (see
// Workflow.claimSharedBindings).
func BindInstance(exec Executor) Binding {
	return Binding{id: exec.ID(), shared: exec}
}

// ID returns the id this binding is registered under.
func (b Binding) ID() string { return b.id }

func (b Binding) instantiate() (Executor, error) {
	if b.shared != nil {
		return b.shared, nil
	}
	return b.factory()
}

// isShared reports whether b's pre-built instance opted in to cross-run
// reuse. A BindFactory binding (b.shared == nil) is never subject to the
// cross-run-reuse check: its factory builds a fresh instance per run.
func (b Binding) isShared() bool {
	return b.shared != nil && b.shared.Options().DeclareCrossRunShareable
}
