// Package workflow implements a declarative agent workflow runtime: an
// in-process, actor-style execution engine that runs directed graphs of
// executors under a Pregel-style superstep scheduler.
package workflow

import (
	"fmt"
	"reflect"
	"sync"
)

// TypeID is a logical type identifier carried alongside values that cross
// executor, edge, or checkpoint boundaries. Using a string identifier
// (rather than reflect.Type directly) lets a TypeID survive serialization
// and round-trip across a checkpoint even when the concrete Go type isn't
// registered on the decoding side yet.
type TypeID string

// TypeIDOf derives the logical TypeID for a value using its Go type name.
// Executors that want a stable identifier across package renames should
// register an explicit TypeID instead of relying on this default.
func TypeIDOf(v any) TypeID {
	if v == nil {
		return ""
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return TypeID(t.String())
	}
	return TypeID(t.PkgPath() + "." + t.Name())
}

// TypeIDFor derives the TypeID for a type parameter without needing a
// value in hand. It is the building block for registering typed routes.
func TypeIDFor[T any]() TypeID {
	var zero T
	return TypeIDOf(zero)
}

// Deserializer decodes a delayed PortableValue payload into a concrete
// value. It is supplied by whatever produced the delayed value (typically
// a checkpoint store or a wire codec) and is invoked at most once per
// PortableValue, the result being memoized.
type Deserializer func(payload []byte) (any, error)

// portableState is the mutable, lazily-resolved half of a PortableValue,
// held behind a pointer so every copy of a PortableValue derived from the
// same construction shares one memoized decode and one lock, instead of
// each copy carrying (and potentially racing on) its own.
type portableState struct {
	mu     sync.Mutex
	value  any
	cached bool
}

// PortableValue is a value plus its logical TypeID, supporting delayed
// deserialization so checkpoints and inter-run handoff need not eagerly
// decode values they may never read. It is a sum type: either an eager
// in-memory value, or a delayed (bytes + decoder) pair that is decoded
// and memoized on first access. PortableValue is plain data (no mutex by
// value) and is safe to copy, append to slices, and store in maps; its
// decode memoization lives behind the state pointer instead.
//
// The zero value is not usable; construct with NewPortableValue or
// NewDelayedPortableValue.
type PortableValue struct {
	typeID  TypeID
	payload []byte
	decode  Deserializer
	state   *portableState
}

// NewPortableValue wraps an already-decoded value.
func NewPortableValue(v any) PortableValue {
	return PortableValue{
		typeID: TypeIDOf(v),
		state:  &portableState{value: v, cached: true},
	}
}

// NewPortableValueAs wraps an already-decoded value under an explicit
// TypeID, overriding the type derived from the value's Go type. Used when
// the logical type is narrower than the concrete Go type (e.g. an
// interface-typed field).
func NewPortableValueAs(typeID TypeID, v any) PortableValue {
	return PortableValue{typeID: typeID, state: &portableState{value: v, cached: true}}
}

// NewDelayedPortableValue wraps an encoded payload that is decoded lazily
// on first access via As/Is. Used by JSONCodec.Decode, and so by
// checkpoint restore, when the wire payload hasn't been decoded yet.
func NewDelayedPortableValue(typeID TypeID, payload []byte, decode Deserializer) PortableValue {
	return PortableValue{typeID: typeID, payload: payload, decode: decode, state: &portableState{}}
}

// TypeID reports the logical type of the wrapped value.
func (p *PortableValue) TypeID() TypeID {
	return p.typeID
}

// resolve decodes the delayed payload exactly once and memoizes the
// result. Safe for concurrent callers, and for callers sharing different
// copies of a PortableValue built from the same constructor call.
func (p *PortableValue) resolve() (any, error) {
	if p.state == nil {
		return nil, fmt.Errorf("workflow: portable value %q has no decoder", p.typeID)
	}
	p.state.mu.Lock()
	defer p.state.mu.Unlock()
	if p.state.cached {
		return p.state.value, nil
	}
	if p.decode == nil {
		return nil, fmt.Errorf("workflow: portable value %q has no decoder", p.typeID)
	}
	v, err := p.decode(p.payload)
	if err != nil {
		return nil, fmt.Errorf("workflow: decode %q: %w", p.typeID, err)
	}
	p.state.value = v
	p.state.cached = true
	return v, nil
}

// As returns the wrapped value as T, decoding it first if it was stored
// delayed. The boolean result reports whether the value is (or decodes
// to) a T.
func As[T any](p *PortableValue) (T, bool) {
	var zero T
	v, err := p.resolve()
	if err != nil {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Is reports whether the wrapped value is (or decodes to) a T, without
// panicking on decode failure.
func Is[T any](p *PortableValue) bool {
	_, ok := As[T](p)
	return ok
}

// Equal compares two PortableValues by TypeID and decoded value equality.
// Decode failures compare unequal.
func (p *PortableValue) Equal(other *PortableValue) bool {
	if p.typeID != other.typeID {
		return false
	}
	a, errA := p.resolve()
	b, errB := other.resolve()
	if errA != nil || errB != nil {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// MustValue returns the decoded value, panicking on decode failure. It
// exists for call sites (tests, edge runners that already validated the
// type) that have already established the value decodes cleanly.
func (p *PortableValue) MustValue() any {
	v, err := p.resolve()
	if err != nil {
		panic(err)
	}
	return v
}
