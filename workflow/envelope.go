package workflow

// Envelope is a message plus routing metadata: where it came from, its
// logical type, and (once resolved by the scheduler) where it is headed.
// "External" envelopes — those injected by a host rather than produced by
// an executor — have an empty SourceID.
type Envelope struct {
	// Message is the payload, carried as a PortableValue so checkpoints
	// and cross-run handoff need not eagerly decode it.
	Message PortableValue

	// DeclaredType is the logical type the sender declared for Message.
	// It is usually Message.TypeID() but may differ when a handler sends
	// a value under a narrower declared type (e.g. an interface).
	DeclaredType TypeID

	// SourceID is the id of the executor that produced this envelope, or
	// "" for an externally injected envelope.
	SourceID string

	// TargetID is the id of the executor this envelope is addressed to.
	// Populated by the edge runner that produced it.
	TargetID string

	// TraceContext carries host-supplied correlation metadata (e.g. an
	// OpenTelemetry trace/span id pair) through the run. The core never
	// interprets it.
	TraceContext map[string]string
}

// PortableEnvelope is the checkpoint/wire form of an Envelope: the
// message is always a TypeID + payload pair rather than a live
// PortableValue, so it can be serialized without a live Deserializer.
type PortableEnvelope struct {
	MessageTypeID TypeID            `json:"messageTypeId"`
	Payload       []byte            `json:"payload"`
	SourceID      string            `json:"sourceId,omitempty"`
	DeclaredType  TypeID            `json:"declaredTypeId,omitempty"`
	TargetID      string            `json:"targetId,omitempty"`
	TraceContext  map[string]string `json:"traceContext,omitempty"`
}

// ExternalRequest is a request emitted out of a run by a request port,
// awaiting a matching ExternalResponse from the host.
type ExternalRequest struct {
	PortID       string        `json:"portId"`
	RequestType  TypeID        `json:"requestType"`
	ResponseType TypeID        `json:"responseType"`
	RequestID    string        `json:"requestId"`
	Data         PortableValue `json:"-"`
}

// ExternalResponse is the host's reply to a previously emitted
// ExternalRequest, matched purely by RequestID.
type ExternalResponse struct {
	PortID    string        `json:"portId"`
	RequestID string        `json:"requestId"`
	Data      PortableValue `json:"-"`
}

// PortableExternalRequest is the wire/checkpoint form of ExternalRequest.
type PortableExternalRequest struct {
	PortID       string `json:"portId"`
	RequestType  TypeID `json:"requestType"`
	ResponseType TypeID `json:"responseType"`
	RequestID    string `json:"requestId"`
	DataTypeID   TypeID `json:"dataTypeId"`
	DataPayload  []byte `json:"dataPayload"`
}

// PortableExternalResponse is the wire form of ExternalResponse.
type PortableExternalResponse struct {
	PortID      string `json:"portId"`
	RequestID   string `json:"requestId"`
	DataTypeID  TypeID `json:"dataTypeId"`
	DataPayload []byte `json:"dataPayload"`
}
