package emit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/corvidai/agentflow-go/workflow"
	"github.com/corvidai/agentflow-go/workflow/emit"
)

func TestNullEmitter_DiscardsEverything(t *testing.T) {
	n := emit.NewNullEmitter()
	n.Emit(workflow.Event{RunID: "r1", Kind: workflow.EventWorkflowOutput})
	if err := n.EmitBatch(context.Background(), []workflow.Event{{RunID: "r1"}}); err != nil {
		t.Fatalf("EmitBatch: %v", err)
	}
	if err := n.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestLogEmitter_TextMode(t *testing.T) {
	var buf bytes.Buffer
	l := emit.NewLogEmitter(&buf, false)
	l.Emit(workflow.Event{RunID: "r1", Step: 2, ExecutorID: "a", Kind: workflow.EventExecutorCompleted, Msg: "ok"})
	out := buf.String()
	if !strings.Contains(out, "ExecutorCompleted") || !strings.Contains(out, "runID=r1") || !strings.Contains(out, "executorID=a") {
		t.Fatalf("unexpected text log line: %q", out)
	}
}

func TestLogEmitter_JSONMode(t *testing.T) {
	var buf bytes.Buffer
	l := emit.NewLogEmitter(&buf, true)
	l.Emit(workflow.Event{RunID: "r1", Step: 1, Kind: workflow.EventSuperStepCompleted})
	var decoded workflow.Event
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode json log line: %v, raw=%q", err, buf.String())
	}
	if decoded.RunID != "r1" || decoded.Kind != workflow.EventSuperStepCompleted {
		t.Fatalf("decoded event = %+v", decoded)
	}
}

func TestBufferedEmitter_HistoryAndFilter(t *testing.T) {
	b := emit.NewBufferedEmitter()
	b.Emit(workflow.Event{RunID: "r1", ExecutorID: "a", Step: 1, Kind: workflow.EventExecutorInvoked})
	b.Emit(workflow.Event{RunID: "r1", ExecutorID: "b", Step: 2, Kind: workflow.EventExecutorCompleted})
	b.Emit(workflow.Event{RunID: "r2", ExecutorID: "a", Step: 1, Kind: workflow.EventExecutorInvoked})

	all := b.History("r1")
	if len(all) != 2 {
		t.Fatalf("History(r1) len = %d, want 2", len(all))
	}

	filtered := b.HistoryWithFilter("r1", emit.HistoryFilter{ExecutorID: "a"})
	if len(filtered) != 1 || filtered[0].ExecutorID != "a" {
		t.Fatalf("HistoryWithFilter(executorID=a) = %+v", filtered)
	}

	b.Clear("r1")
	if got := b.History("r1"); len(got) != 0 {
		t.Fatalf("History(r1) after Clear = %+v, want empty", got)
	}
}

func TestOTelEmitter_DoesNotPanicWithNoopTracer(t *testing.T) {
	tracer := noop.NewTracerProvider().Tracer("test")
	o := emit.NewOTelEmitter(tracer)
	o.Emit(workflow.Event{RunID: "r1", Kind: workflow.EventExecutorFailure, Msg: "boom"})
	if err := o.EmitBatch(context.Background(), []workflow.Event{{RunID: "r1", Kind: workflow.EventWorkflowOutput}}); err != nil {
		t.Fatalf("EmitBatch: %v", err)
	}
}

func TestPrometheusEmitter_CountsInvocationsAndFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := emit.NewPrometheusEmitter(reg)

	p.Emit(workflow.Event{RunID: "r1", ExecutorID: "a", Kind: workflow.EventExecutorInvoked})
	p.Emit(workflow.Event{RunID: "r1", ExecutorID: "a", Kind: workflow.EventExecutorFailure})
	p.Emit(workflow.Event{RunID: "r1", Kind: workflow.EventSuperStepCompleted, Meta: map[string]any{"hasPendingRequests": true}})

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(metrics) == 0 {
		t.Fatal("expected registered metrics, got none")
	}
}
