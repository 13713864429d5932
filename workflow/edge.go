package workflow

// EdgeID uniquely identifies an edge within a workflow.
type EdgeID string

// Predicate evaluates a message to decide whether an edge should
// traverse it. The edge runner passes the PortableValue wrapper itself
// and does not unwrap it; a predicate reads the typed value through
// As[T] or Is[T], which decode a delayed value on first access.
type Predicate func(msg *PortableValue) bool

// Partitioner selects zero or more sink indices for a fan-out edge. It
// must be a deterministic function of (msg, numSinks) — non-determinism
// breaks checkpoint/replay equivalence (spec.md section 4.4). A nil
// Partitioner means "broadcast to all sinks".
type Partitioner func(msg *PortableValue, numSinks int) []int

// SwitchCase is one arm of a Switch edge: the first case (in declaration
// order) whose predicate matches wins.
type SwitchCase struct {
	Predicate Predicate
	SinkID    string
}

type edgeKind int

const (
	edgeDirect edgeKind = iota
	edgeFanOut
	edgeFanIn
)

// edgeSpec is the declarative, immutable description of one edge,
// produced by the Builder and consumed by the scheduler to construct the
// matching edgeRunner for a run.
type edgeSpec struct {
	id    EdgeID
	kind  edgeKind
	label string

	// Direct / FanOut
	sourceID    string
	predicate   Predicate   // Direct only
	sinkIDs     []string    // FanOut: ordered sink list; Direct: single-element
	partitioner Partitioner // FanOut only; nil means broadcast

	// FanIn
	sourceIDs []string
	sinkID    string
}

func defaultPredicate(msg *PortableValue) bool {
	if msg == nil {
		return false
	}
	v, err := msg.resolve()
	if err != nil {
		return false
	}
	return v != nil
}
