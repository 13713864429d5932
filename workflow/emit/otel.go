package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/corvidai/agentflow-go/workflow"
)

// OTelEmitter turns every workflow.Event into a single-point OpenTelemetry
// span: a span name from event.Kind, attributes for runID/step/executorID
// plus every Meta entry that stringifies cleanly, and an error status
// when the event is an ExecutorFailure.
//
// Events don't naturally nest (a superstep can emit many independent
// events), so each becomes its own zero-duration span rather than a
// parent/child pair — a host wanting real span nesting around a handler
// invocation should start its own span inside the handler and thread its
// context through wc, which the core never inspects.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an OTelEmitter using tracer (e.g.
// otel.Tracer("agentflow-go")).
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

func (o *OTelEmitter) Emit(event workflow.Event) {
	o.emitCtx(context.Background(), event)
}

func (o *OTelEmitter) emitCtx(ctx context.Context, event workflow.Event) {
	_, span := o.tracer.Start(ctx, string(event.Kind))
	defer span.End()

	attrs := []attribute.KeyValue{
		attribute.String("run_id", event.RunID),
		attribute.Int("step", event.Step),
	}
	if event.ExecutorID != "" {
		attrs = append(attrs, attribute.String("executor_id", event.ExecutorID))
	}
	if event.Msg != "" {
		attrs = append(attrs, attribute.String("msg", event.Msg))
	}
	for k, v := range event.Meta {
		attrs = append(attrs, attribute.String("meta."+k, fmt.Sprintf("%v", v)))
	}
	span.SetAttributes(attrs...)

	if event.Kind == workflow.EventExecutorFailure {
		span.SetStatus(codes.Error, event.Msg)
	}
}

// EmitBatch starts one span per event, in order.
func (o *OTelEmitter) EmitBatch(ctx context.Context, events []workflow.Event) error {
	for _, e := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.emitCtx(ctx, e)
	}
	return nil
}

// Flush is a no-op: spans are ended synchronously in Emit; flushing the
// underlying exporter is the TracerProvider's responsibility.
func (o *OTelEmitter) Flush(context.Context) error { return nil }
