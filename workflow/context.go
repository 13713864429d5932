package workflow

// pendingSend is one outbound send staged by a handler invocation. Sends
// are collected after the handler returns and only then routed through
// edge runners — so no handler observes another handler's concurrent
// send within the same superstep.
type pendingSend struct {
	value        any
	declaredType TypeID
}

// invocationOutputs accumulates everything one handler invocation
// produced: staged sends and raised events, in the order they were
// issued.
type invocationOutputs struct {
	sends  []pendingSend
	events []Event
}

// Context is the narrow capability object handed to every handler
// invocation. It is the single channel through which a handler can send
// messages, raise events, and read or stage writes to state — replacing
// the cyclic scheduler/executor/context ownership a naive port would
// otherwise reach for (spec.md section 9) with one owner (the scheduler)
// and this value-passed capability.
type Context struct {
	runID      string
	executorID string
	state      *StateManager
	out        *invocationOutputs
}

func newContext(runID, executorID string, state *StateManager) *Context {
	return &Context{
		runID:      runID,
		executorID: executorID,
		state:      state,
		out:        &invocationOutputs{},
	}
}

// RunID returns the id of the run this handler is executing within.
func (c *Context) RunID() string { return c.runID }

// ExecutorID returns the id of the executor this handler belongs to.
func (c *Context) ExecutorID() string { return c.executorID }

// SendMessage stages value for delivery through this executor's outbound
// edges. If declaredType is omitted, the type is derived from value via
// TypeIDOf. The send is not visible to any edge runner until the current
// handler invocation returns.
func (c *Context) SendMessage(value any, declaredType ...TypeID) {
	t := TypeIDOf(value)
	if len(declaredType) > 0 && declaredType[0] != "" {
		t = declaredType[0]
	}
	c.out.sends = append(c.out.sends, pendingSend{value: value, declaredType: t})
}

// AddEvent raises an observability event. It is recorded when the handler
// returns successfully: the configured Emitter receives it then, and the
// Run hands it out with the rest of the step's events, in raise order,
// once the step finishes (on Events off-thread, or from RunToNextHalt in
// lockstep).
func (c *Context) AddEvent(e Event) {
	if e.RunID == "" {
		e.RunID = c.runID
	}
	if e.ExecutorID == "" {
		e.ExecutorID = c.executorID
	}
	c.out.events = append(c.out.events, e)
}

func (c *Context) scope(name []string) ScopeID {
	s := ScopeID{ExecutorID: c.executorID}
	if len(name) > 0 {
		s.ScopeName = name[0]
	}
	return s
}

// ReadState returns the current staged-plus-committed value for key
// within scope (defaulting to the executor's own scope).
func (c *Context) ReadState(key string, scope ...string) (any, bool) {
	pv, ok := c.state.Read(c.scope(scope), key)
	if !ok {
		return nil, false
	}
	return pv.MustValue(), true
}

// QueueStateUpdate stages key=value within scope. It becomes visible to
// every executor's reads starting the next superstep (and to this
// executor's own reads immediately, within the same superstep).
func (c *Context) QueueStateUpdate(key string, value any, scope ...string) {
	c.state.QueueUpdate(c.scope(scope), key, NewPortableValue(value))
}

// QueueStateReset stages a full clear of scope (defaulting to the
// executor's own scope).
func (c *Context) QueueStateReset(scope ...string) {
	c.state.QueueReset(c.scope(scope))
}

// ReadOrInitState returns the existing value for key within scope if one
// is staged or committed; otherwise it calls factory once, stages the
// result, and returns it. Implemented as a free function because Go
// methods cannot introduce new type parameters.
func ReadOrInitState[T any](c *Context, key string, factory func() T, scope ...string) T {
	pv := c.state.ReadOrInit(c.scope(scope), key, func() PortableValue {
		return NewPortableValue(factory())
	})
	v, _ := As[T](&pv)
	return v
}

// ReadTypedState is the generic counterpart to ReadState: it returns the
// zero value and false if the key is absent or does not decode to T.
func ReadTypedState[T any](c *Context, key string, scope ...string) (T, bool) {
	var zero T
	pv, ok := c.state.Read(c.scope(scope), key)
	if !ok {
		return zero, false
	}
	return As[T](&pv)
}
