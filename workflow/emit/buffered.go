package emit

import (
	"context"
	"sync"

	"github.com/corvidai/agentflow-go/workflow"
)

// BufferedEmitter stores every event in memory, organized by run id, and
// exposes query helpers over the captured history. Useful for tests that
// assert on raised events and for short-lived debugging/monitoring
// sessions; unsuitable for long-running production workflows since
// nothing is ever evicted short of an explicit Clear.
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]workflow.Event
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]workflow.Event)}
}

// Emit appends event to its run's history.
func (b *BufferedEmitter) Emit(event workflow.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// EmitBatch appends every event in order.
func (b *BufferedEmitter) EmitBatch(ctx context.Context, events []workflow.Event) error {
	for _, e := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.Emit(e)
	}
	return nil
}

// Flush is a no-op: Emit already wrote into the in-memory buffer.
func (b *BufferedEmitter) Flush(context.Context) error { return nil }

// History returns a copy of every event recorded for runID, in raise
// order.
func (b *BufferedEmitter) History(runID string) []workflow.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]workflow.Event, len(b.events[runID]))
	copy(out, b.events[runID])
	return out
}

// HistoryFilter narrows History's result. Zero-value fields are
// unconstrained; all set fields combine with AND.
type HistoryFilter struct {
	ExecutorID string
	Kind       workflow.EventKind
	MinStep    *int
	MaxStep    *int
}

func (f HistoryFilter) matches(e workflow.Event) bool {
	if f.ExecutorID != "" && e.ExecutorID != f.ExecutorID {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.MinStep != nil && e.Step < *f.MinStep {
		return false
	}
	if f.MaxStep != nil && e.Step > *f.MaxStep {
		return false
	}
	return true
}

// HistoryWithFilter returns every event for runID matching filter, in
// raise order.
func (b *BufferedEmitter) HistoryWithFilter(runID string, filter HistoryFilter) []workflow.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []workflow.Event
	for _, e := range b.events[runID] {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// Clear discards the recorded history for runID.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, runID)
}
