package workflow

import (
	"fmt"
	"sync"
)

// edgeRunner translates "executor X emitted value V" into zero or more
// envelopes for the next superstep. Stateful runners (fan-in) additionally
// support exporting and importing their buffered state for checkpointing.
type edgeRunner interface {
	ID() EdgeID

	// Deliver processes one value sent from executor `from` and returns
	// the envelopes it produces for the next step. Most runners produce
	// at most one envelope per call; fan-in may produce zero (still
	// buffering) or may flush several aggregates if it was already able
	// to pop more than one ahead of this delivery.
	Deliver(from string, value PortableValue, declaredType TypeID) ([]Envelope, error)

	// Stateful reports whether this runner carries buffered state that
	// must survive a checkpoint.
	Stateful() bool

	// ExportState snapshots buffered state for a stateful runner into a
	// value built from codec, so every PortableValue it contains is
	// already reduced to TypeID+payload pairs by the time it reaches the
	// outer checkpoint encode. Only called when Stateful() is true.
	ExportState(codec Codec) (PortableValue, error)

	// ImportState restores buffered state exported by ExportState,
	// decoding any embedded TypeID+payload pairs back through codec. Only
	// called when Stateful() is true.
	ImportState(pv PortableValue, codec Codec) error
}

// FanInResult is the aggregate message a fan-in edge emits: one value
// per source, in the edge's declared source order.
type FanInResult struct {
	Values []any
}

// --- Direct ---------------------------------------------------------

type directRunner struct {
	spec edgeSpec
}

func newDirectRunner(spec edgeSpec) *directRunner {
	return &directRunner{spec: spec}
}

func (r *directRunner) ID() EdgeID { return r.spec.id }

func (r *directRunner) Deliver(from string, value PortableValue, declaredType TypeID) ([]Envelope, error) {
	pred := r.spec.predicate
	if pred == nil {
		pred = defaultPredicate
	}
	if !pred(&value) {
		return nil, nil
	}
	return []Envelope{{
		Message:      value,
		DeclaredType: declaredType,
		SourceID:     from,
		TargetID:     r.spec.sinkIDs[0],
	}}, nil
}

func (r *directRunner) Stateful() bool { return false }
func (r *directRunner) ExportState(Codec) (PortableValue, error) {
	return PortableValue{}, nil
}
func (r *directRunner) ImportState(PortableValue, Codec) error { return nil }

// --- Fan-out ----------------------------------------------------------

type fanOutRunner struct {
	spec edgeSpec
}

func newFanOutRunner(spec edgeSpec) *fanOutRunner {
	return &fanOutRunner{spec: spec}
}

func (r *fanOutRunner) ID() EdgeID { return r.spec.id }

func (r *fanOutRunner) Deliver(from string, value PortableValue, declaredType TypeID) ([]Envelope, error) {
	n := len(r.spec.sinkIDs)
	var indices []int
	if r.spec.partitioner == nil {
		indices = make([]int, n)
		for i := range indices {
			indices[i] = i
		}
	} else {
		indices = r.spec.partitioner(&value, n)
	}
	envs := make([]Envelope, 0, len(indices))
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("%w: edge %s partitioner returned out-of-range index %d (have %d sinks)", ErrEdgeFailed, r.spec.id, idx, n)
		}
		envs = append(envs, Envelope{
			Message:      value,
			DeclaredType: declaredType,
			SourceID:     from,
			TargetID:     r.spec.sinkIDs[idx],
		})
	}
	return envs, nil
}

func (r *fanOutRunner) Stateful() bool { return false }
func (r *fanOutRunner) ExportState(Codec) (PortableValue, error) {
	return PortableValue{}, nil
}
func (r *fanOutRunner) ImportState(PortableValue, Codec) error { return nil }

// --- Fan-in (stateful) -------------------------------------------------

type fanInRunner struct {
	spec edgeSpec

	mu      sync.Mutex
	buffers map[string][]PortableValue
}

func newFanInRunner(spec edgeSpec) *fanInRunner {
	buffers := make(map[string][]PortableValue, len(spec.sourceIDs))
	for _, s := range spec.sourceIDs {
		buffers[s] = nil
	}
	return &fanInRunner{spec: spec, buffers: buffers}
}

func (r *fanInRunner) ID() EdgeID { return r.spec.id }

func (r *fanInRunner) Deliver(from string, value PortableValue, declaredType TypeID) ([]Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, known := r.buffers[from]; !known {
		return nil, fmt.Errorf("%w: edge %s received input from unknown source %s", ErrEdgeFailed, r.spec.id, from)
	}
	r.buffers[from] = append(r.buffers[from], value)

	var envs []Envelope
	for r.readyLocked() {
		agg := make([]any, len(r.spec.sourceIDs))
		for i, s := range r.spec.sourceIDs {
			head := r.buffers[s][0]
			r.buffers[s] = r.buffers[s][1:]
			agg[i] = head.MustValue()
		}
		envs = append(envs, Envelope{
			Message:      NewPortableValue(FanInResult{Values: agg}),
			DeclaredType: TypeIDFor[FanInResult](),
			SourceID:     from,
			TargetID:     r.spec.sinkID,
		})
	}
	return envs, nil
}

func (r *fanInRunner) readyLocked() bool {
	for _, s := range r.spec.sourceIDs {
		if len(r.buffers[s]) == 0 {
			return false
		}
	}
	return true
}

func (r *fanInRunner) Stateful() bool { return true }

// FanInSnapshot is the exported, registerable form of a fanInRunner's
// buffers: every buffered PortableValue is reduced to a TypedPayload
// through the run's Codec, so the snapshot round-trips through JSON (or
// any other Codec) like any other checkpoint payload. Buffers is keyed
// by source id and ordered per source to match the edge's declared
// sourceIDs, so import restores identical subsequent-emission behavior.
type FanInSnapshot struct {
	Buffers map[string][]TypedPayload `json:"buffers"`
}

func (r *fanInRunner) ExportState(codec Codec) (PortableValue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := FanInSnapshot{Buffers: make(map[string][]TypedPayload, len(r.buffers))}
	for s, buf := range r.buffers {
		entries := make([]TypedPayload, 0, len(buf))
		for _, pv := range buf {
			t, payload, err := codec.Encode(pv)
			if err != nil {
				return PortableValue{}, fmt.Errorf("%w: edge %s: encode buffered value from %s: %v", ErrEdgeFailed, r.spec.id, s, err)
			}
			entries = append(entries, TypedPayload{TypeID: t, Payload: payload})
		}
		snap.Buffers[s] = entries
	}
	return NewPortableValue(snap), nil
}

func (r *fanInRunner) ImportState(pv PortableValue, codec Codec) error {
	snap, ok := As[FanInSnapshot](&pv)
	if !ok {
		return fmt.Errorf("%w: edge %s: checkpoint snapshot is not a fan-in buffer set", ErrInvalidOperation, r.spec.id)
	}
	buffers := make(map[string][]PortableValue, len(r.spec.sourceIDs))
	for _, s := range r.spec.sourceIDs {
		entries := snap.Buffers[s]
		buf := make([]PortableValue, 0, len(entries))
		for _, tp := range entries {
			decoded, err := codec.Decode(tp.TypeID, tp.Payload)
			if err != nil {
				return fmt.Errorf("%w: edge %s: decode buffered value for %s: %v", ErrEdgeFailed, r.spec.id, s, err)
			}
			buf = append(buf, decoded)
		}
		buffers[s] = buf
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buffers = buffers
	return nil
}

func newEdgeRunner(spec edgeSpec) edgeRunner {
	switch spec.kind {
	case edgeFanOut:
		return newFanOutRunner(spec)
	case edgeFanIn:
		return newFanInRunner(spec)
	default:
		return newDirectRunner(spec)
	}
}
