package emit

import (
	"context"

	"github.com/corvidai/agentflow-go/workflow"
)

// NullEmitter discards every event. It is useful where observability
// overhead is unwanted (benchmarks, throwaway scripts) without having to
// special-case a nil Emitter throughout the scheduler.
type NullEmitter struct{}

// NewNullEmitter creates a NullEmitter.
func NewNullEmitter() *NullEmitter { return &NullEmitter{} }

func (NullEmitter) Emit(workflow.Event)                               {}
func (NullEmitter) EmitBatch(context.Context, []workflow.Event) error { return nil }
func (NullEmitter) Flush(context.Context) error                       { return nil }
