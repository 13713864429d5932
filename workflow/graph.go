package workflow

import (
	"fmt"
	"sync"
)

// Workflow is an immutable, shareable graph of executor bindings, edges,
// and request ports. Build one with Builder and run it as many times as
// needed; a Workflow itself holds no per-run state, except the bookkeeping
// below needed to enforce Binding's cross-run-reuse contract.
type Workflow struct {
	bindings        map[string]Binding
	ports           map[string]requestPortSpec
	edges           map[EdgeID]edgeSpec
	outgoing        map[string][]EdgeID // source/port id -> edges rooted there, declaration order
	startExecutorID string
	outputIDs       map[string]bool
	allowConcurrent bool

	sharedMu   sync.Mutex
	usedShared map[string]bool
}

// StartExecutorID returns the id of the workflow's designated start
// executor.
func (w *Workflow) StartExecutorID() string { return w.startExecutorID }

// AllowConcurrent reports whether the scheduler may invoke handlers for
// distinct targets concurrently within a superstep.
func (w *Workflow) AllowConcurrent() bool { return w.allowConcurrent }

// IsOutput reports whether executorID is registered as an output
// executor via Builder.WithOutputFrom.
func (w *Workflow) IsOutput(executorID string) bool { return w.outputIDs[executorID] }

func (w *Workflow) binding(id string) (Binding, bool) {
	b, ok := w.bindings[id]
	return b, ok
}

// claimSharedBindings enforces Binding's cross-run-reuse contract at the
// start of a fresh run: a BindInstance binding whose executor has not
// declared itself cross-run shareable may back at most one run of w.
// Resuming an existing run from a checkpoint is not a new claim, since it
// continues a run that already holds its claim.
func (w *Workflow) claimSharedBindings() error {
	w.sharedMu.Lock()
	defer w.sharedMu.Unlock()
	for id, b := range w.bindings {
		if b.shared == nil || b.isShared() {
			continue
		}
		if w.usedShared[id] {
			return fmt.Errorf("%w: binding %q wraps a non-cross-run-shareable shared instance already used by a prior run of this workflow", ErrInvalidOperation, id)
		}
	}
	for id, b := range w.bindings {
		if b.shared == nil || b.isShared() {
			continue
		}
		if w.usedShared == nil {
			w.usedShared = make(map[string]bool)
		}
		w.usedShared[id] = true
	}
	return nil
}

// Builder assembles a Workflow from bindings, edges, and request ports.
// Methods return the Builder for chaining; a failed call records the
// first error encountered and short-circuits subsequent calls, so callers
// may chain freely and check the error once, at Build.
type Builder struct {
	bindings        map[string]Binding
	ports           map[string]requestPortSpec
	edges           map[EdgeID]edgeSpec
	order           []EdgeID
	edgeSeq         int
	aliases         map[string][]EdgeID
	startExecutorID string
	outputIDs       map[string]bool
	allowConcurrent bool
	err             error
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		bindings:  make(map[string]Binding),
		ports:     make(map[string]requestPortSpec),
		edges:     make(map[EdgeID]edgeSpec),
		outputIDs: make(map[string]bool),
	}
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

func (b *Builder) idTaken(id string) bool {
	_, inBindings := b.bindings[id]
	_, inPorts := b.ports[id]
	return inBindings || inPorts
}

// AddBinding registers an executor binding. Returns ErrDuplicateID from
// Build if id collides with an existing binding or port.
func (b *Builder) AddBinding(binding Binding) *Builder {
	if b.err != nil {
		return b
	}
	if b.idTaken(binding.ID()) {
		return b.fail(fmt.Errorf("%w: binding %q", ErrDuplicateID, binding.ID()))
	}
	b.bindings[binding.ID()] = binding
	return b
}

// WithStart designates executorID as the workflow's start executor. The
// id need not already be registered via AddBinding; Build verifies it
// resolves to a binding.
func (b *Builder) WithStart(executorID string) *Builder {
	if b.err != nil {
		return b
	}
	b.startExecutorID = executorID
	return b
}

// WithOutputFrom marks the given executor ids as output executors: their
// outgoing sends additionally raise a WorkflowOutputEvent.
func (b *Builder) WithOutputFrom(executorIDs ...string) *Builder {
	if b.err != nil {
		return b
	}
	for _, id := range executorIDs {
		b.outputIDs[id] = true
	}
	return b
}

// WithAllowConcurrent sets whether the scheduler may invoke handlers for
// distinct targets concurrently within a superstep.
func (b *Builder) WithAllowConcurrent(allow bool) *Builder {
	if b.err != nil {
		return b
	}
	b.allowConcurrent = allow
	return b
}

func (b *Builder) nextEdgeID() EdgeID {
	id := EdgeID(fmt.Sprintf("e%d", b.edgeSeq))
	b.edgeSeq++
	return id
}

// AddEdge adds a Direct edge: source to sink, optionally filtered by a
// predicate evaluated against the message's PortableValue (defaults to
// "non-null and typed").
func (b *Builder) AddEdge(source, sink string, predicate ...Predicate) *Builder {
	if b.err != nil {
		return b
	}
	var pred Predicate
	if len(predicate) > 0 {
		pred = predicate[0]
	}
	id := b.nextEdgeID()
	b.edges[id] = edgeSpec{
		id:        id,
		kind:      edgeDirect,
		sourceID:  source,
		sinkIDs:   []string{sink},
		predicate: pred,
	}
	b.order = append(b.order, id)
	return b
}

// AddFanOut adds a FanOut edge: source to one or more sinks, selected by
// partitioner (nil means broadcast to every sink).
func (b *Builder) AddFanOut(source string, sinks []string, partitioner ...Partitioner) *Builder {
	if b.err != nil {
		return b
	}
	if len(sinks) == 0 {
		return b.fail(fmt.Errorf("%w: fan-out from %q declares no sinks", ErrDanglingEdge, source))
	}
	var part Partitioner
	if len(partitioner) > 0 {
		part = partitioner[0]
	}
	id := b.nextEdgeID()
	b.edges[id] = edgeSpec{
		id:          id,
		kind:        edgeFanOut,
		sourceID:    source,
		sinkIDs:     append([]string(nil), sinks...),
		partitioner: part,
	}
	b.order = append(b.order, id)
	return b
}

// AddFanIn adds a stateful FanIn edge: one aggregate is emitted to sink
// once every source in sources has delivered at least one value, in
// declaration order.
func (b *Builder) AddFanIn(sources []string, sink string) *Builder {
	if b.err != nil {
		return b
	}
	if len(sources) == 0 {
		return b.fail(fmt.Errorf("%w: fan-in into %q declares no sources", ErrDanglingEdge, sink))
	}
	id := b.nextEdgeID()
	b.edges[id] = edgeSpec{
		id:        id,
		kind:      edgeFanIn,
		sourceIDs: append([]string(nil), sources...),
		sinkID:    sink,
	}
	b.order = append(b.order, id)
	for _, s := range sources {
		// Fan-in is addressed by source as well, so the scheduler's
		// per-source outgoing lookup finds this edge for every source.
		b.registerOutgoingAlias(s, id)
	}
	return b
}

// registerOutgoingAlias records fan-in edges under each of their source ids, in
// addition to the implicit registration every edge gets under its primary
// sourceID during Build.
func (b *Builder) registerOutgoingAlias(sourceID string, id EdgeID) {
	if b.aliases == nil {
		b.aliases = make(map[string][]EdgeID)
	}
	b.aliases[sourceID] = append(b.aliases[sourceID], id)
}

// AddSwitch adds a Switch edge, reduced at build time to a FanOut whose
// partitioner evaluates cases in declaration order and falls back to
// defaultSink (or drops the message if defaultSink is "").
func (b *Builder) AddSwitch(source string, cases []SwitchCase, defaultSink string) *Builder {
	if b.err != nil {
		return b
	}
	if len(cases) == 0 {
		return b.fail(fmt.Errorf("%w: switch from %q declares no cases", ErrDanglingEdge, source))
	}
	sinks := make([]string, 0, len(cases)+1)
	for _, c := range cases {
		sinks = append(sinks, c.SinkID)
	}
	defaultIdx := -1
	if defaultSink != "" {
		defaultIdx = len(sinks)
		sinks = append(sinks, defaultSink)
	}
	casesCopy := append([]SwitchCase(nil), cases...)
	partitioner := func(msg *PortableValue, numSinks int) []int {
		for i, c := range casesCopy {
			if c.Predicate != nil && c.Predicate(msg) {
				return []int{i}
			}
		}
		if defaultIdx >= 0 {
			return []int{defaultIdx}
		}
		return nil
	}
	return b.AddFanOut(source, sinks, partitioner)
}

// AddExternalCall creates a request port named portID accepting
// requestType and producing responseType, and wires a Direct edge from
// source to the port. Use AddEdge(portID, successor) to wire the port's
// response path to its successors.
func (b *Builder) AddExternalCall(source, portID string, requestType, responseType TypeID, opts ...RequestPortOption) *Builder {
	if b.err != nil {
		return b
	}
	if b.idTaken(portID) {
		return b.fail(fmt.Errorf("%w: port %q", ErrDuplicateID, portID))
	}
	spec := requestPortSpec{id: portID, requestType: requestType, responseType: responseType}
	for _, o := range opts {
		o(&spec)
	}
	b.ports[portID] = spec
	return b.AddEdge(source, portID)
}

func (b *Builder) resolvesToKnownID(id string) bool {
	if _, ok := b.bindings[id]; ok {
		return true
	}
	if _, ok := b.ports[id]; ok {
		return true
	}
	return false
}

// Build validates and freezes the graph. It never re-instantiates
// executors: ProtocolMismatch is deferred to Run, the earliest point an
// input value actually exists to check against the start executor's
// routes.
func (b *Builder) Build() (*Workflow, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.startExecutorID == "" {
		return nil, ErrNoStart
	}
	if !b.resolvesToKnownID(b.startExecutorID) {
		return nil, fmt.Errorf("%w: start executor %q", ErrDanglingEdge, b.startExecutorID)
	}

	for _, id := range b.order {
		spec := b.edges[id]
		switch spec.kind {
		case edgeFanIn:
			for _, s := range spec.sourceIDs {
				if !b.resolvesToKnownID(s) {
					return nil, fmt.Errorf("%w: fan-in edge %s source %q", ErrDanglingEdge, id, s)
				}
			}
			if !b.resolvesToKnownID(spec.sinkID) {
				return nil, fmt.Errorf("%w: fan-in edge %s sink %q", ErrDanglingEdge, id, spec.sinkID)
			}
		default:
			if !b.resolvesToKnownID(spec.sourceID) {
				return nil, fmt.Errorf("%w: edge %s source %q", ErrDanglingEdge, id, spec.sourceID)
			}
			for _, s := range spec.sinkIDs {
				if !b.resolvesToKnownID(s) {
					return nil, fmt.Errorf("%w: edge %s sink %q", ErrDanglingEdge, id, s)
				}
			}
		}
	}

	outgoing := make(map[string][]EdgeID)
	for _, id := range b.order {
		spec := b.edges[id]
		if spec.kind == edgeFanIn {
			continue
		}
		outgoing[spec.sourceID] = append(outgoing[spec.sourceID], id)
	}
	for src, ids := range b.aliases {
		outgoing[src] = append(outgoing[src], ids...)
	}

	edges := make(map[EdgeID]edgeSpec, len(b.edges))
	for k, v := range b.edges {
		edges[k] = v
	}
	bindings := make(map[string]Binding, len(b.bindings))
	for k, v := range b.bindings {
		bindings[k] = v
	}
	ports := make(map[string]requestPortSpec, len(b.ports))
	for k, v := range b.ports {
		ports[k] = v
	}
	outputIDs := make(map[string]bool, len(b.outputIDs))
	for k, v := range b.outputIDs {
		outputIDs[k] = v
	}

	return &Workflow{
		bindings:        bindings,
		ports:           ports,
		edges:           edges,
		outgoing:        outgoing,
		startExecutorID: b.startExecutorID,
		outputIDs:       outputIDs,
		allowConcurrent: b.allowConcurrent,
	}, nil
}
