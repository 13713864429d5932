package workflow

import (
	"fmt"
	"time"
)

// ExecutionMode selects the environment a Run executes under.
type ExecutionMode int

const (
	// ModeOffThread runs supersteps on a background goroutine. The events
	// of each superstep are pushed, in raise order, to the Run's Events
	// channel (capacity 256) once that superstep finishes.
	ModeOffThread ExecutionMode = iota

	// ModeLockstep runs supersteps synchronously on the caller's
	// goroutine; events generated during a step are buffered and
	// returned in order once the step commits.
	ModeLockstep
)

// Option configures a Run. Functional options keep the embedding API
// stable as new knobs are added: only the options a caller sets diverge
// from the documented defaults.
type Option func(*runConfig) error

// runConfig collects options before they are applied to a new Run.
type runConfig struct {
	mode                    ExecutionMode
	checkpointManager       CheckpointManager
	codec                   Codec
	emitter                 Emitter
	requestSink             RequestSink
	includeExceptionDetails bool
	allowConcurrentOverride *bool
	defaultExecutorTimeout  time.Duration
	maxConcurrentExecutors  int
	maxQueueDepth           int
}

func newRunConfig() *runConfig {
	return &runConfig{
		mode:    ModeOffThread,
		codec:   NewJSONCodec(),
		emitter: NopEmitter{},
	}
}

func (c *runConfig) apply(opts []Option) error {
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o(c); err != nil {
			return err
		}
	}
	return nil
}

// WithExecutionMode selects the off-thread or lockstep environment.
// Default: ModeOffThread.
func WithExecutionMode(mode ExecutionMode) Option {
	return func(c *runConfig) error {
		c.mode = mode
		return nil
	}
}

// WithCheckpointManager attaches a CheckpointManager. When set, the
// scheduler writes a Checkpoint at the end of every superstep. Default:
// none (no checkpointing).
func WithCheckpointManager(mgr CheckpointManager) Option {
	return func(c *runConfig) error {
		c.checkpointManager = mgr
		return nil
	}
}

// WithCodec overrides the default JSON Codec used to encode checkpoint
// and wire payloads.
func WithCodec(codec Codec) Option {
	return func(c *runConfig) error {
		c.codec = codec
		return nil
	}
}

// WithEmitter attaches the Emitter events are pushed to. Default:
// NopEmitter (events are discarded).
func WithEmitter(emitter Emitter) Option {
	return func(c *runConfig) error {
		c.emitter = emitter
		return nil
	}
}

// WithRequestSink attaches the RequestSink that outstanding
// ExternalRequests are posted to as ports emit them. Default: a sink that
// discards requests (a host using request ports must set this).
func WithRequestSink(sink RequestSink) Option {
	return func(c *runConfig) error {
		c.requestSink = sink
		return nil
	}
}

// WithIncludeExceptionDetails controls whether RunError.Cause's full
// detail is retained on HandlerError/EdgeError, versus collapsed to a
// generic message. Default: false.
func WithIncludeExceptionDetails(include bool) Option {
	return func(c *runConfig) error {
		c.includeExceptionDetails = include
		return nil
	}
}

// WithAllowConcurrent overrides the Workflow's allowConcurrent flag for
// this run only.
func WithAllowConcurrent(allow bool) Option {
	return func(c *runConfig) error {
		c.allowConcurrentOverride = &allow
		return nil
	}
}

// WithDefaultExecutorTimeout bounds every handler invocation in the run
// that does not set its own ExecutorOptions.Timeout. Default: unlimited.
func WithDefaultExecutorTimeout(d time.Duration) Option {
	return func(c *runConfig) error {
		c.defaultExecutorTimeout = d
		return nil
	}
}

// WithMaxConcurrentExecutors caps how many executors the scheduler may
// invoke concurrently within one superstep when concurrent execution is
// allowed (Workflow.AllowConcurrent or WithAllowConcurrent); additional
// eligible targets queue for a free slot rather than all starting at
// once. Default: 0 (unbounded — every eligible target in the step runs
// concurrently).
func WithMaxConcurrentExecutors(n int) Option {
	return func(c *runConfig) error {
		if n < 0 {
			return fmt.Errorf("workflow: max concurrent executors must be >= 0, got %d", n)
		}
		c.maxConcurrentExecutors = n
		return nil
	}
}

// WithQueueDepth bounds the total number of envelopes the scheduler may
// hold queued for the next superstep at once. A superstep that would push
// the queue past this limit fails with CodeEdgeError rather than letting
// it grow without bound (a runaway fan-out broadcasting into a cycle,
// for example). Default: 0 (unbounded).
func WithQueueDepth(n int) Option {
	return func(c *runConfig) error {
		if n < 0 {
			return fmt.Errorf("workflow: queue depth must be >= 0, got %d", n)
		}
		c.maxQueueDepth = n
		return nil
	}
}
