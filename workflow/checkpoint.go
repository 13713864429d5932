package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Checkpoint is a committed, resumable snapshot of a run, taken only
// between supersteps after all staged writes for that step have
// committed. It carries everything the scheduler needs to resume without
// re-executing anything already committed: state, every stateful edge
// runner's buffered progress, the envelopes queued for the next step, the
// set of instantiated executors (so singleton factories are not re-run),
// outstanding external requests, and per-executor snapshots.
type Checkpoint struct {
	Version   int       `json:"version"`
	RunID     string    `json:"runId"`
	StepID    int       `json:"stepId"`
	Timestamp time.Time `json:"timestamp"`

	StateData             []CheckpointStateEntry        `json:"stateData"`
	EdgeState             []CheckpointEdgeEntry         `json:"edgeState"`
	QueuedEnvelopes       map[string][]PortableEnvelope `json:"queuedEnvelopes"`
	InstantiatedExecutors []string                      `json:"instantiatedExecutors"`
	OutstandingRequests   []PortableExternalRequest     `json:"outstandingRequests"`
	ExecutorSnapshots     map[string]TypedPayload       `json:"executorSnapshots"`
}

// CheckpointFormatVersion is the current Checkpoint wire version. Readers
// must ignore unknown fields and fall back to documented defaults for
// missing scalar fields; TypeID is always authoritative for payload
// interpretation.
const CheckpointFormatVersion = 1

// CheckpointStateEntry is the wire form of one (scope, key) -> value
// state cell.
type CheckpointStateEntry struct {
	ExecutorID string `json:"executorId"`
	ScopeName  string `json:"scopeName,omitempty"`
	Key        string `json:"key"`
	TypeID     TypeID `json:"typeId"`
	Payload    []byte `json:"payload"`
}

// CheckpointEdgeEntry is the wire form of one stateful edge runner's
// exported buffer.
type CheckpointEdgeEntry struct {
	EdgeID  EdgeID `json:"edgeId"`
	TypeID  TypeID `json:"typeId"`
	Payload []byte `json:"payload"`
}

// TypedPayload is an encoded value paired with its logical TypeID, used
// for per-executor checkpoint snapshots.
type TypedPayload struct {
	TypeID  TypeID `json:"typeId"`
	Payload []byte `json:"payload"`
}

// CheckpointManager persists and retrieves Checkpoints. The scheduler
// calls it only between supersteps, after committing staged writes, and
// never holds a lock across the call; a storage-level failure surfaces
// as CodeCheckpointError without invalidating the previously saved
// checkpoint.
type CheckpointManager interface {
	Save(ctx context.Context, cp Checkpoint) error
	Load(ctx context.Context, runID string) (Checkpoint, error)
}

// Codec encodes and decodes PortableValues to and from the wire/checkpoint
// payload form, keyed by logical TypeID. The core ships a JSON codec
// (NewJSONCodec); hosts needing a different wire format implement the
// same interface.
type Codec interface {
	Encode(pv PortableValue) (TypeID, []byte, error)
	Decode(t TypeID, payload []byte) (PortableValue, error)
}

// JSONCodec is a Codec backed by a type registry: each T that may cross a
// checkpoint boundary must be registered once, up front, via
// RegisterJSON[T].
type JSONCodec struct {
	mu       sync.RWMutex
	decoders map[TypeID]Deserializer
}

// NewJSONCodec creates a JSONCodec with the engine's own internal
// checkpoint types pre-registered (currently just FanInSnapshot, used by
// stateful fan-in edges). A custom Codec passed via WithCodec must
// register FanInSnapshot itself if the workflow uses fan-in edges and is
// ever checkpointed.
func NewJSONCodec() *JSONCodec {
	c := &JSONCodec{decoders: make(map[TypeID]Deserializer)}
	RegisterJSON[FanInSnapshot](c)
	return c
}

// RegisterJSON registers T's JSON decoder on c. It is a free function
// because Go methods cannot introduce their own type parameters.
func RegisterJSON[T any](c *JSONCodec) {
	t := TypeIDFor[T]()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decoders[t] = func(payload []byte) (any, error) {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("workflow: decode %q: %w", t, err)
		}
		return v, nil
	}
}

// Encode marshals pv's current value to JSON under its logical TypeID.
func (c *JSONCodec) Encode(pv PortableValue) (TypeID, []byte, error) {
	v, err := pv.resolve()
	if err != nil {
		return "", nil, err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("workflow: encode %q: %w", pv.TypeID(), err)
	}
	return pv.TypeID(), b, nil
}

// Decode returns a delayed PortableValue that decodes payload via t's
// registered JSON decoder on first access.
func (c *JSONCodec) Decode(t TypeID, payload []byte) (PortableValue, error) {
	c.mu.RLock()
	dec, ok := c.decoders[t]
	c.mu.RUnlock()
	if !ok {
		return PortableValue{}, fmt.Errorf("workflow: no decoder registered for type %q", t)
	}
	return NewDelayedPortableValue(t, payload, dec), nil
}

// encodeStateData converts a StateManager export into its wire form.
func encodeStateData(codec Codec, data map[ScopeKey]PortableValue) ([]CheckpointStateEntry, error) {
	entries := make([]CheckpointStateEntry, 0, len(data))
	for sk, pv := range data {
		t, payload, err := codec.Encode(pv)
		if err != nil {
			return nil, fmt.Errorf("workflow: encode state (%s,%s,%s): %w", sk.Scope.ExecutorID, sk.Scope.ScopeName, sk.Key, err)
		}
		entries = append(entries, CheckpointStateEntry{
			ExecutorID: sk.Scope.ExecutorID,
			ScopeName:  sk.Scope.ScopeName,
			Key:        sk.Key,
			TypeID:     t,
			Payload:    payload,
		})
	}
	return entries, nil
}

func decodeStateData(codec Codec, entries []CheckpointStateEntry) (map[ScopeKey]PortableValue, error) {
	out := make(map[ScopeKey]PortableValue, len(entries))
	for _, e := range entries {
		pv, err := codec.Decode(e.TypeID, e.Payload)
		if err != nil {
			return nil, fmt.Errorf("workflow: decode state (%s,%s,%s): %w", e.ExecutorID, e.ScopeName, e.Key, err)
		}
		sk := ScopeKey{Scope: ScopeID{ExecutorID: e.ExecutorID, ScopeName: e.ScopeName}, Key: e.Key}
		out[sk] = pv
	}
	return out, nil
}

func encodeEnvelope(codec Codec, env Envelope) (PortableEnvelope, error) {
	t, payload, err := codec.Encode(env.Message)
	if err != nil {
		return PortableEnvelope{}, err
	}
	return PortableEnvelope{
		MessageTypeID: t,
		Payload:       payload,
		SourceID:      env.SourceID,
		DeclaredType:  env.DeclaredType,
		TargetID:      env.TargetID,
		TraceContext:  env.TraceContext,
	}, nil
}

func decodeEnvelope(codec Codec, pe PortableEnvelope) (Envelope, error) {
	pv, err := codec.Decode(pe.MessageTypeID, pe.Payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Message:      pv,
		DeclaredType: pe.DeclaredType,
		SourceID:     pe.SourceID,
		TargetID:     pe.TargetID,
		TraceContext: pe.TraceContext,
	}, nil
}

func encodeExternalRequest(codec Codec, req ExternalRequest) (PortableExternalRequest, error) {
	t, payload, err := codec.Encode(req.Data)
	if err != nil {
		return PortableExternalRequest{}, err
	}
	return PortableExternalRequest{
		PortID:       req.PortID,
		RequestType:  req.RequestType,
		ResponseType: req.ResponseType,
		RequestID:    req.RequestID,
		DataTypeID:   t,
		DataPayload:  payload,
	}, nil
}

func decodeExternalRequest(codec Codec, pr PortableExternalRequest) (ExternalRequest, error) {
	pv, err := codec.Decode(pr.DataTypeID, pr.DataPayload)
	if err != nil {
		return ExternalRequest{}, err
	}
	return ExternalRequest{
		PortID:       pr.PortID,
		RequestType:  pr.RequestType,
		ResponseType: pr.ResponseType,
		RequestID:    pr.RequestID,
		Data:         pv,
	}, nil
}
