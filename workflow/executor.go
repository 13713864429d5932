package workflow

import (
	"context"
	"time"
)

// Handler processes one envelope addressed to an executor. msg has
// already been type-checked against the TypeID the handler was
// registered under (or, for a catch-all, is handed the raw
// PortableValue). A non-nil return value is either sent explicitly via
// wc.SendMessage or, if the executor's AutoSendHandlerResult option is
// set, enqueued automatically by the scheduler once the handler returns.
type Handler func(ctx context.Context, wc *Context, msg PortableValue) (any, error)

// ExecutorOptions configures how the scheduler treats an executor.
type ExecutorOptions struct {
	// AutoSendHandlerResult, if true, causes a non-nil handler return
	// value to be automatically sent (as if via wc.SendMessage) once the
	// handler returns. Ports and fan-in aggregators set this to false
	// since they manage their own sends.
	AutoSendHandlerResult bool

	// DeclareCrossRunShareable marks a shared executor instance as safe
	// to reuse across runs of the same workflow without calling its
	// factory again. See BindInstance.
	DeclareCrossRunShareable bool

	// SupportsConcurrentSharedExecution marks an executor instance as
	// safe to invoke concurrently with other executors in the same
	// superstep when the workflow's AllowConcurrent flag is set.
	SupportsConcurrentSharedExecution bool

	// Timeout bounds a single handler invocation. Zero defers to the
	// run's WithDefaultExecutorTimeout, if any; both zero means
	// unlimited.
	Timeout time.Duration

	// RetryPolicy, if set, retries a failed handler invocation according
	// to its MaxAttempts/BaseDelay/MaxDelay/Retryable fields. A handler
	// under retry must be idempotent: state staged through the State
	// Manager during a failed attempt is not rolled back before the next
	// attempt.
	RetryPolicy *RetryPolicy
}

// Checkpointable is implemented by executors that hold in-memory state
// beyond what they store through the State Manager. The scheduler calls
// OnCheckpointing when writing a checkpoint and OnCheckpointRestored when
// restoring one; an executor with no extra state need not implement it.
type Checkpointable interface {
	OnCheckpointing(ctx context.Context) (PortableValue, error)
	OnCheckpointRestored(ctx context.Context, snapshot PortableValue) error
}

// Executor is a message-processing node: a typed dispatch table plus an
// optional catch-all, resolved in O(1) with no runtime reflection over
// message types (the dispatch table is built once, at construction, by
// registering each route's TypeID).
type Executor interface {
	// ID returns the executor's binding id.
	ID() string

	// IncomingTypes lists the TypeIDs this executor declares routes for.
	// Used by DescribeProtocol and by the scheduler's route-miss warning.
	IncomingTypes() []TypeID

	// Options returns the executor's scheduling/sharing options.
	Options() ExecutorOptions

	// Route resolves the handler for a declared incoming type, if any.
	Route(t TypeID) (Handler, bool)

	// CatchAll returns the executor's catch-all handler, if it declared
	// one.
	CatchAll() (Handler, bool)
}

// FuncExecutor is a functional-composition Executor: routes are
// registered one type at a time via the package-level Handle function,
// avoiding both a hand-rolled type switch and reflection-based dispatch.
type FuncExecutor struct {
	id              string
	routes          map[TypeID]Handler
	catchAllHandler Handler
	options         ExecutorOptions
	onCheckpoint    func(context.Context) (PortableValue, error)
	onRestore       func(context.Context, PortableValue) error
}

// NewExecutor creates an empty FuncExecutor with the given id. Use
// Handle to register typed routes and HandleCatchAll for the fallback
// route.
func NewExecutor(id string, opts ExecutorOptions) *FuncExecutor {
	return &FuncExecutor{
		id:      id,
		routes:  make(map[TypeID]Handler),
		options: opts,
	}
}

// Handle registers a typed handler on e for messages of type T. It
// returns e for chaining.
//
// Handle is a free function rather than a method because Go methods
// cannot introduce their own type parameters.
func Handle[T any](e *FuncExecutor, fn func(ctx context.Context, wc *Context, msg T) (any, error)) *FuncExecutor {
	t := TypeIDFor[T]()
	e.routes[t] = func(ctx context.Context, wc *Context, pv PortableValue) (any, error) {
		typed, ok := As[T](&pv)
		if !ok {
			return nil, newRouteDropError(e.id, t)
		}
		return fn(ctx, wc, typed)
	}
	return e
}

// HandleCatchAll registers the fallback handler invoked when no
// type-specific route matches an incoming envelope.
func (e *FuncExecutor) HandleCatchAll(fn Handler) *FuncExecutor {
	e.catchAllHandler = fn
	return e
}

// WithCheckpointHooks attaches OnCheckpointing/OnCheckpointRestored
// behavior, making e satisfy Checkpointable.
func (e *FuncExecutor) WithCheckpointHooks(
	onCheckpoint func(context.Context) (PortableValue, error),
	onRestore func(context.Context, PortableValue) error,
) *FuncExecutor {
	e.onCheckpoint = onCheckpoint
	e.onRestore = onRestore
	return e
}

func (e *FuncExecutor) ID() string { return e.id }

func (e *FuncExecutor) IncomingTypes() []TypeID {
	types := make([]TypeID, 0, len(e.routes))
	for t := range e.routes {
		types = append(types, t)
	}
	return types
}

func (e *FuncExecutor) Options() ExecutorOptions { return e.options }

func (e *FuncExecutor) Route(t TypeID) (Handler, bool) {
	h, ok := e.routes[t]
	return h, ok
}

func (e *FuncExecutor) CatchAll() (Handler, bool) {
	if e.catchAllHandler == nil {
		return nil, false
	}
	return e.catchAllHandler, true
}

func (e *FuncExecutor) OnCheckpointing(ctx context.Context) (PortableValue, error) {
	if e.onCheckpoint == nil {
		return PortableValue{}, nil
	}
	return e.onCheckpoint(ctx)
}

func (e *FuncExecutor) OnCheckpointRestored(ctx context.Context, snapshot PortableValue) error {
	if e.onRestore == nil {
		return nil
	}
	return e.onRestore(ctx, snapshot)
}

type routeDropError struct {
	executorID string
	typeID     TypeID
}

func (e *routeDropError) Error() string {
	return "workflow: envelope of type " + string(e.typeID) + " does not match route registered for executor " + e.executorID
}

func newRouteDropError(executorID string, t TypeID) error {
	return &routeDropError{executorID: executorID, typeID: t}
}
