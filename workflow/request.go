package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// requestPortSpec is the declarative description of a request port,
// produced by Builder.AddExternalCall and turned into a live requestPort
// executor by the scheduler at run construction time.
type requestPortSpec struct {
	id           string
	requestType  TypeID
	responseType TypeID
	allowWrapped bool
}

// RequestPortOption configures a request port created via
// Builder.AddExternalCall.
type RequestPortOption func(*requestPortSpec)

// AllowWrapped configures a port to forward the original request payload
// paired with its response (as a WrappedResponse) to its successors,
// instead of the bare response value.
func AllowWrapped() RequestPortOption {
	return func(s *requestPortSpec) { s.allowWrapped = true }
}

// WrappedResponse pairs a request port's original request payload with
// its resolved response. Produced only for ports configured with
// AllowWrapped.
type WrappedResponse struct {
	Request  PortableValue
	Response PortableValue
}

// RequestSink receives ExternalRequests as ports emit them during a run,
// so a host can surface them to whatever answers them.
type RequestSink interface {
	PostRequest(ctx context.Context, req ExternalRequest) error
}

// RequestSinkFunc adapts a function to a RequestSink.
type RequestSinkFunc func(ctx context.Context, req ExternalRequest) error

func (f RequestSinkFunc) PostRequest(ctx context.Context, req ExternalRequest) error {
	return f(ctx, req)
}

type pendingRequest struct {
	portID       string
	allowWrapped bool
	original     PortableValue
	req          ExternalRequest
}

// RequestCoordinator tracks a run's outstanding ExternalRequests and
// matches host-posted ExternalResponses back to them by RequestID. It is
// the sole mutator of pending-request state and is safe for concurrent
// use by the scheduler and by a host calling PostResponse.
type RequestCoordinator struct {
	mu       sync.Mutex
	pending  map[string]pendingRequest
	answered map[string]bool
	sink     RequestSink
	resolved func(portID string, value PortableValue)
}

func newRequestCoordinator(sink RequestSink) *RequestCoordinator {
	if sink == nil {
		sink = RequestSinkFunc(func(context.Context, ExternalRequest) error { return nil })
	}
	return &RequestCoordinator{pending: make(map[string]pendingRequest), answered: make(map[string]bool), sink: sink}
}

// onResolved registers the callback invoked when a response matches a
// pending request: fn is handed the port id and the value to forward to
// the port's successors. The scheduler wires this to its own envelope
// injection before the run starts.
func (c *RequestCoordinator) onResolved(fn func(portID string, value PortableValue)) {
	c.resolved = fn
}

func (c *RequestCoordinator) emit(ctx context.Context, portID string, allowWrapped bool, original PortableValue, req ExternalRequest) error {
	c.mu.Lock()
	c.pending[req.RequestID] = pendingRequest{portID: portID, allowWrapped: allowWrapped, original: original, req: req}
	c.mu.Unlock()
	return c.sink.PostRequest(ctx, req)
}

// Outstanding reports the number of requests awaiting a response.
func (c *RequestCoordinator) Outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Snapshot exports the outstanding requests, for checkpointing.
func (c *RequestCoordinator) Snapshot() []ExternalRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ExternalRequest, 0, len(c.pending))
	for _, pr := range c.pending {
		out = append(out, pr.req)
	}
	return out
}

// Restore replaces the outstanding-request set wholesale, used when
// resuming from a checkpoint. originals maps each request's id back to
// its original (possibly wrapped) request payload.
func (c *RequestCoordinator) Restore(reqs []ExternalRequest, originals map[string]PortableValue, allowWrapped map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = make(map[string]pendingRequest, len(reqs))
	for _, req := range reqs {
		c.pending[req.RequestID] = pendingRequest{
			portID:       req.PortID,
			allowWrapped: allowWrapped[req.RequestID],
			original:     originals[req.RequestID],
			req:          req,
		}
	}
}

// PostResponse matches resp against the pending request with the same
// RequestID and, if found, invokes the resolved callback with the value
// to forward to the port's successors.
func (c *RequestCoordinator) PostResponse(resp ExternalResponse) error {
	c.mu.Lock()
	pr, ok := c.pending[resp.RequestID]
	if !ok {
		duplicate := c.answered[resp.RequestID]
		c.mu.Unlock()
		if duplicate {
			return fmt.Errorf("%w: %s", ErrDuplicateResponse, resp.RequestID)
		}
		return fmt.Errorf("%w: %s", ErrUnknownRequest, resp.RequestID)
	}
	delete(c.pending, resp.RequestID)
	c.answered[resp.RequestID] = true
	c.mu.Unlock()

	value := resp.Data
	if pr.allowWrapped {
		value = NewPortableValue(WrappedResponse{Request: pr.original, Response: resp.Data})
	}
	if c.resolved != nil {
		c.resolved(pr.portID, value)
	}
	return nil
}

// requestPort is the live Executor form of a requestPortSpec: it accepts
// its declared requestType and, on each delivery, mints a RequestID,
// registers the pending request with the run's coordinator, and emits an
// ExternalRequest through the coordinator's sink. It never sends anything
// itself; the response path is driven entirely by the coordinator
// resolving a later PostResponse call.
type requestPort struct {
	spec  requestPortSpec
	coord *RequestCoordinator
}

func newRequestPort(spec requestPortSpec, coord *RequestCoordinator) *requestPort {
	return &requestPort{spec: spec, coord: coord}
}

func (p *requestPort) ID() string                { return p.spec.id }
func (p *requestPort) IncomingTypes() []TypeID   { return []TypeID{p.spec.requestType} }
func (p *requestPort) Options() ExecutorOptions  { return ExecutorOptions{} }
func (p *requestPort) CatchAll() (Handler, bool) { return nil, false }

func (p *requestPort) Route(t TypeID) (Handler, bool) {
	if t != p.spec.requestType {
		return nil, false
	}
	return p.handle, true
}

func (p *requestPort) handle(ctx context.Context, wc *Context, msg PortableValue) (any, error) {
	reqID := uuid.NewString()
	req := ExternalRequest{
		PortID:       p.spec.id,
		RequestType:  p.spec.requestType,
		ResponseType: p.spec.responseType,
		RequestID:    reqID,
		Data:         msg,
	}
	if err := p.coord.emit(ctx, p.spec.id, p.spec.allowWrapped, msg, req); err != nil {
		return nil, fmt.Errorf("workflow: port %s: emit request: %w", p.spec.id, err)
	}
	wc.AddEvent(Event{
		Kind: EventRequestHalt,
		Msg:  "awaiting external response",
		Meta: map[string]any{"portId": p.spec.id, "requestId": reqID},
	})
	return nil, nil
}
