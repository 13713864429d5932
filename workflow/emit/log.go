package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/corvidai/agentflow-go/workflow"
)

// LogEmitter writes events as structured lines to an io.Writer, either
// human-readable key=value text or one-JSON-object-per-line, matching
// the two modes a host typically wants: a terminal during development,
// a log aggregator in production.
type LogEmitter struct {
	mu       sync.Mutex
	w        io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to w (os.Stdout if w is
// nil) in text or JSON mode.
func NewLogEmitter(w io.Writer, jsonMode bool) *LogEmitter {
	if w == nil {
		w = os.Stdout
	}
	return &LogEmitter{w: w, jsonMode: jsonMode}
}

// Emit writes one line for event.
func (l *LogEmitter) Emit(event workflow.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jsonMode {
		l.emitJSON(event)
		return
	}
	l.emitText(event)
}

func (l *LogEmitter) emitText(e workflow.Event) {
	fmt.Fprintf(l.w, "[%s] runID=%s step=%d", e.Kind, e.RunID, e.Step)
	if e.ExecutorID != "" {
		fmt.Fprintf(l.w, " executorID=%s", e.ExecutorID)
	}
	if e.Msg != "" {
		fmt.Fprintf(l.w, " msg=%q", e.Msg)
	}
	if len(e.Meta) > 0 {
		if b, err := json.Marshal(e.Meta); err == nil {
			fmt.Fprintf(l.w, " meta=%s", b)
		}
	}
	fmt.Fprintln(l.w)
}

func (l *LogEmitter) emitJSON(e workflow.Event) {
	b, err := json.Marshal(e)
	if err != nil {
		fmt.Fprintf(l.w, `{"error":%q}`+"\n", err.Error())
		return
	}
	l.w.Write(b)
	fmt.Fprintln(l.w)
}

// EmitBatch writes every event in order.
func (l *LogEmitter) EmitBatch(ctx context.Context, events []workflow.Event) error {
	for _, e := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.Emit(e)
	}
	return nil
}

// Flush is a no-op: every Emit call already wrote synchronously.
func (l *LogEmitter) Flush(context.Context) error { return nil }
