package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// RunStatus is the state machine a Run moves through, per spec.md
// section 4.3: NotStarted -> Running <-> Idle <-> PendingRequests ->
// {Completed, Failed, Cancelled}.
type RunStatus int

const (
	StatusNotStarted RunStatus = iota
	StatusRunning
	StatusIdle
	StatusPendingRequests
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s RunStatus) String() string {
	switch s {
	case StatusNotStarted:
		return "NotStarted"
	case StatusRunning:
		return "Running"
	case StatusIdle:
		return "Idle"
	case StatusPendingRequests:
		return "PendingRequests"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Protocol describes what a workflow's start executor accepts, computed
// by materializing its routes (DescribeProtocol).
type Protocol struct {
	AcceptedTypes []TypeID
	AcceptsAll    bool
}

// DescribeProtocol materializes wf's start executor (invoking its
// factory) and reports the types it declares routes for.
func DescribeProtocol(wf *Workflow) (Protocol, error) {
	binding, ok := wf.binding(wf.startExecutorID)
	if !ok {
		return Protocol{}, fmt.Errorf("%w: start executor %q", ErrDanglingEdge, wf.startExecutorID)
	}
	exec, err := binding.instantiate()
	if err != nil {
		return Protocol{}, fmt.Errorf("workflow: instantiate start executor: %w", err)
	}
	_, acceptsAll := exec.CatchAll()
	return Protocol{AcceptedTypes: exec.IncomingTypes(), AcceptsAll: acceptsAll}, nil
}

// Run is a handle to one execution of a Workflow. Use Start to begin a
// fresh run or Resume to continue from a Checkpoint.
type Run struct {
	id    string
	wf    *Workflow
	cfg   *runConfig
	sched *scheduler

	events chan Event
	done   chan struct{}

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

func newRun(wf *Workflow, opts []Option) (*Run, error) {
	cfg := newRunConfig()
	if err := cfg.apply(opts); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	r := &Run{
		id:    runID,
		wf:    wf,
		cfg:   cfg,
		sched: newScheduler(wf, cfg, runID),
		done:  make(chan struct{}),
	}
	if cfg.mode == ModeOffThread {
		r.events = make(chan Event, 256)
	}
	return r, nil
}

// ID returns the run's unique identifier.
func (r *Run) ID() string { return r.id }

// Status reports the run's current state.
func (r *Run) Status() RunStatus { return r.sched.Status() }

// Err returns the error that caused a Failed run, or nil.
func (r *Run) Err() error { return r.sched.LastError() }

// Events returns the channel off-thread runs push events to. It is nil
// in lockstep mode, where events are returned directly from
// RunToNextHalt.
func (r *Run) Events() <-chan Event { return r.events }

// Start begins a fresh run of wf with the given input bound for the
// start executor, per the configured Option set. Returns
// ErrProtocolMismatch if the start executor declares no route (and no
// catch-all) for input's type.
func Start(ctx context.Context, wf *Workflow, input any, opts ...Option) (*Run, error) {
	if err := wf.claimSharedBindings(); err != nil {
		return nil, err
	}
	r, err := newRun(wf, opts)
	if err != nil {
		return nil, err
	}
	if err := r.seed(input); err != nil {
		return nil, err
	}
	r.launch(ctx)
	return r, nil
}

// Resume reconstructs a Run from a previously saved Checkpoint. The
// restored run transitions to Idle (or PendingRequests, if any external
// request was still outstanding) and can be driven onward by Enqueue or
// PostResponse followed by RunToNextHalt in lockstep mode. An off-thread
// resumed run stops at its first halt, as described on Enqueue.
func Resume(ctx context.Context, wf *Workflow, cp Checkpoint, opts ...Option) (*Run, error) {
	cfg := newRunConfig()
	if err := cfg.apply(opts); err != nil {
		return nil, err
	}
	r := &Run{
		id:    cp.RunID,
		wf:    wf,
		cfg:   cfg,
		sched: newScheduler(wf, cfg, cp.RunID),
		done:  make(chan struct{}),
	}
	if cfg.mode == ModeOffThread {
		r.events = make(chan Event, 256)
	}
	if err := r.sched.restore(ctx, cp); err != nil {
		return nil, err
	}
	r.launch(ctx)
	return r, nil
}

func (r *Run) seed(input any) error {
	exec, _, err := r.sched.ensureExecutor(r.wf.startExecutorID)
	if err != nil {
		return err
	}
	t := TypeIDOf(input)
	_, hasRoute := exec.Route(t)
	_, hasCatchAll := exec.CatchAll()
	if !hasRoute && !hasCatchAll {
		return fmt.Errorf("%w: start executor %q, input type %q", ErrProtocolMismatch, r.wf.startExecutorID, t)
	}
	r.sched.enqueue(Envelope{
		Message:      NewPortableValue(input),
		DeclaredType: t,
		TargetID:     r.wf.startExecutorID,
	})
	return nil
}

// Enqueue injects an externally-sourced message bound for targetID. It is
// queued for the next superstep, same as any handler's send. An off-thread
// run's driver goroutine exits at the run's first halt (Idle or
// PendingRequests) and is not restarted, so a message enqueued (or a
// response posted) after that point stays queued.
func (r *Run) Enqueue(targetID string, value any) {
	r.sched.enqueue(Envelope{
		Message:      NewPortableValue(value),
		DeclaredType: TypeIDOf(value),
		TargetID:     targetID,
	})
}

// PostResponse delivers a host's answer to a previously emitted
// ExternalRequest. See RequestCoordinator.PostResponse for match/error
// semantics.
func (r *Run) PostResponse(resp ExternalResponse) error {
	return r.sched.coord.PostResponse(resp)
}

// Checkpoint takes an out-of-band checkpoint of the run's current
// committed state, independent of the configured CheckpointManager's
// per-step cadence. Returns ErrInvalidOperation if called while a
// superstep is in flight in off-thread mode (status Running); callers
// should prefer WithCheckpointManager for routine checkpointing.
func (r *Run) Checkpoint(ctx context.Context) (Checkpoint, error) {
	r.sched.stepMu.Lock()
	defer r.sched.stepMu.Unlock()
	if r.cfg.mode == ModeOffThread && r.sched.status == StatusRunning {
		return Checkpoint{}, fmt.Errorf("%w: checkpoint requested while a superstep is in flight", ErrInvalidOperation)
	}
	return r.sched.buildCheckpointLocked(r.sched.step, nil)
}

func (r *Run) launch(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	if r.cfg.mode != ModeOffThread {
		return
	}
	r.mu.Lock()
	r.started = true
	r.mu.Unlock()
	go r.driveOffThread(runCtx)
}

func (r *Run) driveOffThread(ctx context.Context) {
	defer close(r.done)
	defer close(r.events)
	for {
		select {
		case <-ctx.Done():
			r.sched.stepMu.Lock()
			r.sched.status = StatusCancelled
			r.sched.stepMu.Unlock()
			return
		default:
		}
		events, err := r.sched.runStep(ctx)
		for _, e := range events {
			select {
			case r.events <- e:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			return
		}
		switch r.Status() {
		case StatusRunning:
			continue
		case StatusIdle, StatusPendingRequests:
			return
		default:
			return
		}
	}
}

// RunToNextHalt drives a lockstep run forward one or more supersteps
// until it reaches Idle, PendingRequests, Completed, Failed, or
// Cancelled, returning every event raised along the way in raise order.
// It is a no-op, returning immediately, for an off-thread run (use
// Events instead).
func (r *Run) RunToNextHalt(ctx context.Context) ([]Event, error) {
	if r.cfg.mode != ModeLockstep {
		return nil, nil
	}
	var all []Event
	for {
		select {
		case <-ctx.Done():
			r.sched.stepMu.Lock()
			r.sched.status = StatusCancelled
			r.sched.stepMu.Unlock()
			return all, ctx.Err()
		default:
		}
		events, err := r.sched.runStep(ctx)
		all = append(all, events...)
		if err != nil {
			return all, err
		}
		switch r.Status() {
		case StatusRunning:
			continue
		default:
			return all, nil
		}
	}
}

// MarkCompleted transitions an Idle run to Completed: the host's signal
// that no further input is expected. It is a no-op if the run is not
// currently Idle.
func (r *Run) MarkCompleted() {
	r.sched.stepMu.Lock()
	defer r.sched.stepMu.Unlock()
	if r.sched.status == StatusIdle {
		r.sched.status = StatusCompleted
	}
}

// Cancel cooperatively cancels an off-thread run: the scheduler stops
// draining the inbound queue after any in-flight superstep completes and
// the run surfaces status Cancelled. Handlers already committed are not
// rolled back. Cancel has no effect on a lockstep run; RunToNextHalt
// stops a lockstep run only when its own ctx is cancelled.
func (r *Run) Cancel() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Done returns a channel closed when an off-thread run's background
// driver goroutine exits. It is never closed for a lockstep run.
func (r *Run) Done() <-chan struct{} { return r.done }
