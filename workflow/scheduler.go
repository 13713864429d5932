package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// scheduler is the Pregel-style superstep engine: the only component
// allowed to mutate the inbound message queues and drive handler
// invocation (spec.md section 4.3). It is constructed fresh for each run
// and is not itself safe to share across runs.
type scheduler struct {
	wf    *Workflow
	cfg   *runConfig
	runID string

	stepMu  sync.Mutex
	step    int
	status  RunStatus
	queue   map[string][]Envelope
	lastErr error

	execMu       sync.Mutex
	executors    map[string]Executor
	instantiated map[string]bool

	edgeRunners map[EdgeID]edgeRunner
	state       *StateManager
	coord       *RequestCoordinator

	eventsMu sync.Mutex
	onEvent  func(Event)
}

func newScheduler(wf *Workflow, cfg *runConfig, runID string) *scheduler {
	s := &scheduler{
		wf:           wf,
		cfg:          cfg,
		runID:        runID,
		status:       StatusNotStarted,
		queue:        make(map[string][]Envelope),
		executors:    make(map[string]Executor),
		instantiated: make(map[string]bool),
		edgeRunners:  make(map[EdgeID]edgeRunner, len(wf.edges)),
		state:        NewStateManager(),
	}
	for id, spec := range wf.edges {
		s.edgeRunners[id] = newEdgeRunner(spec)
	}
	s.coord = newRequestCoordinator(cfg.requestSink)
	s.coord.onResolved(func(portID string, value PortableValue) {
		s.stepMu.Lock()
		defer s.stepMu.Unlock()
		if err := s.routeSendLocked(portID, value, value.TypeID()); err != nil {
			s.status = StatusFailed
			s.lastErr = newRunError(s.runID, portID, CodeEdgeError, err, s.cfg.includeExceptionDetails)
			return
		}
		if s.hasPendingWorkLocked() && (s.status == StatusIdle || s.status == StatusPendingRequests) {
			s.status = StatusRunning
		}
	})
	return s
}

func (s *scheduler) Status() RunStatus {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	return s.status
}

func (s *scheduler) LastError() error {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	return s.lastErr
}

// enqueue injects env into the queue for the next superstep to process.
func (s *scheduler) enqueue(env Envelope) {
	s.stepMu.Lock()
	defer s.stepMu.Unlock()
	s.queue[env.TargetID] = append(s.queue[env.TargetID], env)
	if s.status == StatusIdle || s.status == StatusNotStarted {
		s.status = StatusRunning
	}
}

func (s *scheduler) hasPendingWorkLocked() bool {
	return len(s.queue) > 0
}

// raiseEvent records e (in raise order) and forwards it to both the
// configured Emitter and the Run wrapper's per-step collector.
func (s *scheduler) raiseEvent(e Event) {
	if e.RunID == "" {
		e.RunID = s.runID
	}
	s.eventsMu.Lock()
	cb := s.onEvent
	s.eventsMu.Unlock()
	if cb != nil {
		cb(e)
	}
	s.cfg.emitter.Emit(e)
}

func (s *scheduler) ensureExecutor(id string) (Executor, bool, error) {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	if exec, ok := s.executors[id]; ok {
		return exec, false, nil
	}
	if spec, ok := s.wf.ports[id]; ok {
		p := newRequestPort(spec, s.coord)
		s.executors[id] = p
		s.instantiated[id] = true
		return p, true, nil
	}
	binding, ok := s.wf.binding(id)
	if !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrDanglingEdge, id)
	}
	exec, err := binding.instantiate()
	if err != nil {
		return nil, false, fmt.Errorf("workflow: instantiate executor %s: %w", id, err)
	}
	s.executors[id] = exec
	s.instantiated[id] = true
	return exec, true, nil
}

func resolveHandler(exec Executor, t TypeID) (Handler, bool) {
	if h, ok := exec.Route(t); ok {
		return h, true
	}
	return exec.CatchAll()
}

// routeSendLocked delivers value through every edge rooted at sourceID,
// appending the resulting envelopes to the next superstep's queue. Callers
// must hold stepMu.
func (s *scheduler) routeSendLocked(sourceID string, value PortableValue, declaredType TypeID) error {
	for _, id := range s.wf.outgoing[sourceID] {
		envs, err := s.edgeRunners[id].Deliver(sourceID, value, declaredType)
		if err != nil {
			return err
		}
		for _, e := range envs {
			s.queue[e.TargetID] = append(s.queue[e.TargetID], e)
			if s.cfg.maxQueueDepth > 0 && s.queueLenLocked() > s.cfg.maxQueueDepth {
				return fmt.Errorf("%w: queued envelope count exceeds WithQueueDepth limit %d", ErrEdgeFailed, s.cfg.maxQueueDepth)
			}
		}
	}
	return nil
}

// queueLenLocked sums pending envelopes across every target. Callers must
// hold stepMu.
func (s *scheduler) queueLenLocked() int {
	n := 0
	for _, envs := range s.queue {
		n += len(envs)
	}
	return n
}

type invokeResult struct {
	target       string
	outputs      *invocationOutputs
	newlyCreated bool
	err          error
}

// runStep executes exactly one superstep over the envelopes present in
// the queue at call time and returns the events raised during it. Newly
// produced envelopes land in the queue for the *next* call.
func (s *scheduler) runStep(ctx context.Context) ([]Event, error) {
	s.stepMu.Lock()
	if len(s.queue) == 0 {
		s.stepMu.Unlock()
		return nil, nil
	}
	current := s.queue
	s.queue = make(map[string][]Envelope)
	s.step++
	step := s.step
	allowConcurrent := s.wf.allowConcurrent
	if s.cfg.allowConcurrentOverride != nil {
		allowConcurrent = *s.cfg.allowConcurrentOverride
	}
	s.status = StatusRunning
	s.stepMu.Unlock()

	var collected []Event
	collect := func(e Event) { collected = append(collected, e) }
	s.eventsMu.Lock()
	s.onEvent = collect
	s.eventsMu.Unlock()

	targets := make([]string, 0, len(current))
	for t := range current {
		targets = append(targets, t)
	}
	sort.Strings(targets)

	results := make([]invokeResult, len(targets))
	concurrencySafe := allowConcurrent
	for i, target := range targets {
		exec, created, err := s.ensureExecutor(target)
		if err != nil {
			s.finishStepFailed(step, target, err)
			return collected, err
		}
		results[i] = invokeResult{target: target, newlyCreated: created}
		if !exec.Options().SupportsConcurrentSharedExecution {
			concurrencySafe = false
		}
	}

	invoke := func(i int) error {
		target := targets[i]
		exec := s.executors[target]
		out := &invocationOutputs{}
		for _, env := range current[target] {
			handler, ok := resolveHandler(exec, env.DeclaredType)
			if !ok {
				s.raiseEvent(Event{Step: step, ExecutorID: target, Kind: EventWorkflowWarning, Msg: "no matching route for envelope; dropped"})
				continue
			}
			s.raiseEvent(Event{Step: step, ExecutorID: target, Kind: EventExecutorInvoked})
			wc := newContext(s.runID, target, s.state)
			timeout := getExecutorTimeout(exec.Options(), s.cfg.defaultExecutorTimeout)
			var ret any
			err := runWithRetry(ctx, timeout, exec.Options().RetryPolicy, func(attemptCtx context.Context) error {
				wc.out.sends = nil
				wc.out.events = nil
				r, handlerErr := handler(attemptCtx, wc, env.Message)
				ret = r
				return handlerErr
			})
			if err != nil {
				code := CodeHandlerError
				var timeoutErr *handlerTimeoutError
				if errors.As(err, &timeoutErr) {
					code = CodeHandlerTimeout
				}
				return newRunError(s.runID, target, code, err, s.cfg.includeExceptionDetails)
			}
			if ret != nil && exec.Options().AutoSendHandlerResult {
				wc.SendMessage(ret)
			}
			out.sends = append(out.sends, wc.out.sends...)
			for _, ev := range wc.out.events {
				s.raiseEvent(ev)
			}
			s.raiseEvent(Event{Step: step, ExecutorID: target, Kind: EventExecutorCompleted})
		}
		results[i].outputs = out
		return nil
	}

	var runErr error
	if concurrencySafe && len(targets) > 1 {
		g, _ := errgroup.WithContext(ctx)
		if s.cfg.maxConcurrentExecutors > 0 {
			g.SetLimit(s.cfg.maxConcurrentExecutors)
		}
		for i := range targets {
			i := i
			g.Go(func() error { return invoke(i) })
		}
		runErr = g.Wait()
	} else {
		for i := range targets {
			if err := invoke(i); err != nil {
				runErr = err
				break
			}
		}
	}

	if runErr != nil {
		var re *RunError
		executorID := ""
		if errors.As(runErr, &re) {
			executorID = re.ExecutorID
		}
		s.raiseEvent(Event{Step: step, ExecutorID: executorID, Kind: EventExecutorFailure, Msg: runErr.Error()})
		s.finishStepFailed(step, executorID, runErr)
		return collected, runErr
	}

	s.stepMu.Lock()
	var newlyInstantiated []string
	for _, r := range results {
		if r.newlyCreated {
			newlyInstantiated = append(newlyInstantiated, r.target)
		}
		if r.outputs == nil {
			continue
		}
		for _, send := range r.outputs.sends {
			pv := NewPortableValueAs(send.declaredType, send.value)
			if s.wf.IsOutput(r.target) {
				s.raiseEvent(Event{Step: step, ExecutorID: r.target, Kind: EventWorkflowOutput, Payload: send.value})
			}
			if err := s.routeSendLocked(r.target, pv, send.declaredType); err != nil {
				s.status = StatusFailed
				s.lastErr = newRunError(s.runID, r.target, CodeEdgeError, err, s.cfg.includeExceptionDetails)
				s.stepMu.Unlock()
				s.raiseEvent(Event{Step: step, ExecutorID: r.target, Kind: EventExecutorFailure, Msg: s.lastErr.Error()})
				return collected, s.lastErr
			}
		}
	}
	stateUpdated := s.state.HasPendingUpdates()
	s.state.Commit()

	var checkpointTaken bool
	if s.cfg.checkpointManager != nil {
		cp, err := s.buildCheckpointLocked(step, newlyInstantiated)
		if err != nil {
			s.status = StatusFailed
			s.lastErr = newRunError(s.runID, "", CodeCheckpointError, err, s.cfg.includeExceptionDetails)
			s.stepMu.Unlock()
			return collected, s.lastErr
		}
		s.stepMu.Unlock()
		saveErr := s.cfg.checkpointManager.Save(ctx, cp)
		s.stepMu.Lock()
		if err := saveErr; err != nil {
			s.status = StatusFailed
			s.lastErr = newRunError(s.runID, "", CodeCheckpointError, err, s.cfg.includeExceptionDetails)
			s.stepMu.Unlock()
			return collected, s.lastErr
		}
		checkpointTaken = true
	}

	hasPendingMessages := s.hasPendingWorkLocked()
	hasPendingRequests := s.coord.Outstanding() > 0
	if hasPendingMessages {
		s.status = StatusRunning
	} else if hasPendingRequests {
		s.status = StatusPendingRequests
	} else {
		s.status = StatusIdle
	}
	status := s.status
	s.stepMu.Unlock()

	s.raiseEvent(Event{
		Step: step,
		Kind: EventSuperStepCompleted,
		Meta: map[string]any{
			"activatedExecutors":    targets,
			"instantiatedExecutors": newlyInstantiated,
			"stateUpdated":          stateUpdated,
			"hasPendingMessages":    hasPendingMessages,
			"hasPendingRequests":    hasPendingRequests,
			"checkpointTaken":       checkpointTaken,
			"status":                status,
		},
	})

	s.eventsMu.Lock()
	s.onEvent = nil
	s.eventsMu.Unlock()
	return collected, nil
}

func (s *scheduler) finishStepFailed(step int, executorID string, err error) {
	s.stepMu.Lock()
	s.status = StatusFailed
	s.lastErr = err
	s.stepMu.Unlock()
	s.eventsMu.Lock()
	s.onEvent = nil
	s.eventsMu.Unlock()
}

// buildCheckpointLocked must be called with stepMu held.
func (s *scheduler) buildCheckpointLocked(step int, newlyInstantiated []string) (Checkpoint, error) {
	stateData, err := s.state.ExportState()
	if err != nil {
		return Checkpoint{}, err
	}
	stateEntries, err := encodeStateData(s.cfg.codec, stateData)
	if err != nil {
		return Checkpoint{}, err
	}

	var edgeEntries []CheckpointEdgeEntry
	for id, runner := range s.edgeRunners {
		if !runner.Stateful() {
			continue
		}
		snapshot, err := runner.ExportState(s.cfg.codec)
		if err != nil {
			return Checkpoint{}, fmt.Errorf("workflow: export edge %s: %w", id, err)
		}
		t, payload, err := s.cfg.codec.Encode(snapshot)
		if err != nil {
			return Checkpoint{}, fmt.Errorf("workflow: export edge %s: %w", id, err)
		}
		edgeEntries = append(edgeEntries, CheckpointEdgeEntry{EdgeID: id, TypeID: t, Payload: payload})
	}

	queued := make(map[string][]PortableEnvelope, len(s.queue))
	for target, envs := range s.queue {
		for _, e := range envs {
			pe, err := encodeEnvelope(s.cfg.codec, e)
			if err != nil {
				return Checkpoint{}, err
			}
			queued[target] = append(queued[target], pe)
		}
	}

	s.execMu.Lock()
	instantiated := make([]string, 0, len(s.instantiated))
	for id := range s.instantiated {
		instantiated = append(instantiated, id)
	}
	executors := make(map[string]Executor, len(s.executors))
	for id, exec := range s.executors {
		executors[id] = exec
	}
	s.execMu.Unlock()
	sort.Strings(instantiated)

	snapshots := make(map[string]TypedPayload)
	for id, exec := range executors {
		cp, ok := exec.(Checkpointable)
		if !ok {
			continue
		}
		pv, err := cp.OnCheckpointing(context.Background())
		if err != nil {
			return Checkpoint{}, fmt.Errorf("workflow: checkpoint executor %s: %w", id, err)
		}
		if pv.TypeID() == "" {
			continue
		}
		t, payload, err := s.cfg.codec.Encode(pv)
		if err != nil {
			return Checkpoint{}, fmt.Errorf("workflow: encode snapshot for %s: %w", id, err)
		}
		snapshots[id] = TypedPayload{TypeID: t, Payload: payload}
	}

	outstanding := s.coord.Snapshot()
	portableOutstanding := make([]PortableExternalRequest, 0, len(outstanding))
	for _, req := range outstanding {
		pr, err := encodeExternalRequest(s.cfg.codec, req)
		if err != nil {
			return Checkpoint{}, err
		}
		portableOutstanding = append(portableOutstanding, pr)
	}

	return Checkpoint{
		Version:               CheckpointFormatVersion,
		RunID:                 s.runID,
		StepID:                step,
		StateData:             stateEntries,
		EdgeState:             edgeEntries,
		QueuedEnvelopes:       queued,
		InstantiatedExecutors: instantiated,
		OutstandingRequests:   portableOutstanding,
		ExecutorSnapshots:     snapshots,
	}, nil
}

// restore replaces all runtime state with what cp describes: committed
// state, stateful edge buffers, the next step's queue, and outstanding
// requests. Executors named in cp.InstantiatedExecutors are re-created via
// their bindings' factories and handed their saved snapshot.
func (s *scheduler) restore(ctx context.Context, cp Checkpoint) error {
	stateData, err := decodeStateData(s.cfg.codec, cp.StateData)
	if err != nil {
		return err
	}
	s.state.ImportState(stateData)

	for _, entry := range cp.EdgeState {
		runner, ok := s.edgeRunners[entry.EdgeID]
		if !ok || !runner.Stateful() {
			continue
		}
		pv, err := s.cfg.codec.Decode(entry.TypeID, entry.Payload)
		if err != nil {
			return fmt.Errorf("workflow: restore edge %s: %w", entry.EdgeID, err)
		}
		if err := runner.ImportState(pv, s.cfg.codec); err != nil {
			return fmt.Errorf("workflow: restore edge %s: %w", entry.EdgeID, err)
		}
	}

	queue := make(map[string][]Envelope, len(cp.QueuedEnvelopes))
	for target, envs := range cp.QueuedEnvelopes {
		for _, pe := range envs {
			e, err := decodeEnvelope(s.cfg.codec, pe)
			if err != nil {
				return err
			}
			queue[target] = append(queue[target], e)
		}
	}

	originals := make(map[string]PortableValue, len(cp.OutstandingRequests))
	allowWrapped := make(map[string]bool, len(cp.OutstandingRequests))
	requests := make([]ExternalRequest, 0, len(cp.OutstandingRequests))
	for _, pr := range cp.OutstandingRequests {
		req, err := decodeExternalRequest(s.cfg.codec, pr)
		if err != nil {
			return err
		}
		requests = append(requests, req)
		originals[req.RequestID] = req.Data
		if spec, ok := s.wf.ports[req.PortID]; ok {
			allowWrapped[req.RequestID] = spec.allowWrapped
		}
	}

	s.execMu.Lock()
	s.executors = make(map[string]Executor)
	s.instantiated = make(map[string]bool)
	for _, id := range cp.InstantiatedExecutors {
		if _, ok := s.wf.ports[id]; ok {
			continue // ports are re-created lazily by ensureExecutor
		}
		binding, ok := s.wf.binding(id)
		if !ok {
			s.execMu.Unlock()
			return fmt.Errorf("%w: checkpoint references unknown executor %s", ErrDanglingEdge, id)
		}
		exec, err := binding.instantiate()
		if err != nil {
			s.execMu.Unlock()
			return fmt.Errorf("workflow: re-instantiate executor %s: %w", id, err)
		}
		if snap, ok := cp.ExecutorSnapshots[id]; ok {
			if restorer, ok := exec.(Checkpointable); ok {
				pv, err := s.cfg.codec.Decode(snap.TypeID, snap.Payload)
				if err != nil {
					s.execMu.Unlock()
					return fmt.Errorf("workflow: decode snapshot for %s: %w", id, err)
				}
				if err := restorer.OnCheckpointRestored(ctx, pv); err != nil {
					s.execMu.Unlock()
					return fmt.Errorf("workflow: restore executor %s: %w", id, err)
				}
			}
		}
		s.executors[id] = exec
		s.instantiated[id] = true
	}
	s.execMu.Unlock()

	s.coord.Restore(requests, originals, allowWrapped)

	s.stepMu.Lock()
	s.queue = queue
	s.step = cp.StepID
	if len(queue) > 0 {
		s.status = StatusRunning
	} else if len(requests) > 0 {
		s.status = StatusPendingRequests
	} else {
		s.status = StatusIdle
	}
	s.stepMu.Unlock()
	return nil
}
