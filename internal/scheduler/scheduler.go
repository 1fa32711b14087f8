// Package scheduler runs a dependency graph of tasks through registered
// executors under a concurrency cap. Failures are handed to a
// recovery.Service whose decision the scheduler applies; lifecycle events
// are published on an events.Bus.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/taskengine/internal/events"
	"github.com/aristath/taskengine/internal/recovery"
)

// ExecutionResult is what an executor reports for one run.
type ExecutionResult struct {
	Success  bool
	Output   string
	Duration time.Duration // Measured by the scheduler when zero
}

// Executor performs the work for a task. It should honour ctx, which
// carries the task deadline; a result returned after the deadline is
// discarded.
type Executor func(ctx context.Context, task Task) (ExecutionResult, error)

// Config configures a Scheduler.
type Config struct {
	MaxConcurrentTasks int           // Hard cap on running tasks (default 4)
	TaskTimeout        time.Duration // Per-attempt deadline (0 = none)
	EventBuffer        int           // Per-subscriber buffer for the internal bus
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasks: 4,
		TaskTimeout:        10 * time.Minute,
		EventBuffer:        events.DefaultBufferSize,
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRecovery sets the recovery service. A default one is created otherwise.
func WithRecovery(r *recovery.Service) Option {
	return func(s *Scheduler) { s.recovery = r }
}

// WithBus publishes events on an existing bus instead of a private one.
func WithBus(b *events.Bus) Option {
	return func(s *Scheduler) { s.bus = b }
}

// WithBreakers wraps executor calls in per-executor-type circuit breakers.
func WithBreakers(r *BreakerRegistry) Option {
	return func(s *Scheduler) { s.breakers = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// outcome is the resolution of one attempt.
type outcome struct {
	ok          bool
	result      ExecutionResult
	raw         string // Failure text
	timedOut    bool
	interrupted bool // Caller context ended before the attempt resolved
}

// attempt tracks one in-flight run of a task. A result is applied only if
// the attempt is still the current one for its task.
type attempt struct {
	taskID       string
	executorType string
	started      time.Time
	ctx          context.Context
	parent       context.Context
	cancel       context.CancelFunc
	stopWatch    func() bool
	breakerDone  func(error)
	done         chan struct{}
}

type retryTimer struct {
	timer *time.Timer
	seq   uint64
}

// Scheduler orchestrates a Graph against a concurrency budget.
type Scheduler struct {
	cfg      Config
	recovery *recovery.Service
	bus      *events.Bus
	ownsBus  bool
	breakers *BreakerRegistry
	logger   *slog.Logger

	execMu    sync.RWMutex
	executors map[string]Executor

	mu        sync.Mutex
	graph     *Graph
	inflight  map[string]*attempt
	resolving int             // Recovery calls in progress
	deciding  map[string]bool // Tasks awaiting a recovery decision
	failing   map[string]bool // Failed attempts among deciding, not yet routed
	timers    map[string]retryTimer
	retrySeq  uint64
	warned    map[string]bool // Tasks already reported as missing an executor
	started   bool
	runCtx    context.Context
	cancelRun context.CancelFunc
	changed   chan struct{} // Closed and replaced on every state change
}

// New creates a Scheduler.
func New(cfg Config, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = def.MaxConcurrentTasks
	}
	if cfg.TaskTimeout < 0 {
		cfg.TaskTimeout = 0
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = def.EventBuffer
	}

	s := &Scheduler{
		cfg:       cfg,
		executors: make(map[string]Executor),
		graph:     NewGraph(),
		inflight:  make(map[string]*attempt),
		timers:    make(map[string]retryTimer),
		deciding:  make(map[string]bool),
		failing:   make(map[string]bool),
		warned:    make(map[string]bool),
		changed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.recovery == nil {
		s.recovery = recovery.New(recovery.WithLogger(s.logger))
	}
	if s.bus == nil {
		s.bus = events.NewBus(cfg.EventBuffer)
		s.bus.SetLogger(s.logger)
		s.ownsBus = true
	}
	return s
}

// Config returns the scheduler configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// Recovery returns the recovery service used for failures.
func (s *Scheduler) Recovery() *recovery.Service { return s.recovery }

// Bus returns the event bus.
func (s *Scheduler) Bus() *events.Bus { return s.bus }

// OnEvent subscribes handler to the lifecycle event stream. Handlers run
// on their own goroutine in emission order; see events.Bus.
func (s *Scheduler) OnEvent(handler events.Handler) (unsubscribe func()) {
	return s.bus.OnEvent(handler)
}

// RegisterExecutor installs fn for executorType, replacing any previous one.
func (s *Scheduler) RegisterExecutor(executorType string, fn Executor) {
	s.execMu.Lock()
	s.executors[executorType] = fn
	s.execMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	// Tasks of this type may now be dispatchable
	for id, task := range s.graph.tasks {
		if task.ExecutorType == executorType {
			delete(s.warned, id)
		}
	}
	s.pumpLocked()
}

func (s *Scheduler) executor(executorType string) (Executor, bool) {
	s.execMu.RLock()
	defer s.execMu.RUnlock()
	fn, ok := s.executors[executorType]
	return fn, ok
}

// AddTask validates spec and adds it as a pending task.
func (s *Scheduler) AddTask(spec TaskSpec) (string, error) {
	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}
	priority := spec.Priority
	if priority == 0 {
		priority = PriorityNormal
	}
	maxRetries := s.recovery.Policy().MaxRetries
	if spec.MaxRetries != nil {
		maxRetries = max(*spec.MaxRetries, 0)
	}

	var deps []string
	seen := make(map[string]bool, len(spec.Dependencies))
	for _, dep := range spec.Dependencies {
		if !seen[dep] {
			seen[dep] = true
			deps = append(deps, dep)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	task := &Task{
		ID:           id,
		Name:         spec.Name,
		Description:  spec.Description,
		Priority:     priority,
		Dependencies: deps,
		ExecutorType: spec.ExecutorType,
		MaxRetries:   maxRetries,
		CreatedAt:    now,
	}
	task.setStatus(TaskPending, now)

	if err := s.graph.Add(task); err != nil {
		return "", err
	}

	// A dependency that already failed terminally blocks the new task
	for _, depID := range deps {
		if s.blocksDependentsLocked(s.graph.tasks[depID]) {
			s.blockLocked(task, "dependency failed", depID, now)
			s.cascadeLocked(task.ID, now)
			break
		}
	}

	s.logger.Debug("task added", "task_id", id, "executor", task.ExecutorType)
	s.pumpLocked()
	return id, nil
}

// AddDependency makes taskID depend on depID. taskID must still be pending.
func (s *Scheduler) AddDependency(taskID, depID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.graph.Get(taskID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrTaskNotFound, taskID)
	}
	if task.Status != TaskPending {
		return fmt.Errorf("%w: task %q is %s", ErrInvalidTransition, taskID, task.Status)
	}
	if err := s.graph.AddDependency(taskID, depID); err != nil {
		return err
	}

	if s.blocksDependentsLocked(s.graph.tasks[depID]) {
		now := time.Now()
		s.blockLocked(task, "dependency failed", depID, now)
		s.cascadeLocked(task.ID, now)
		s.notifyLocked()
	}
	return nil
}

// Task returns a copy of the task with the given ID.
func (s *Scheduler) Task(taskID string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.graph.Get(taskID)
	if !ok {
		return Task{}, false
	}
	return *cloneTask(task), true
}

// Tasks returns copies of all tasks in creation order.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyTasks(s.graph.Tasks())
}

// GetRunnableTasks returns pending tasks whose dependencies are all
// completed, by priority then creation order, truncated to the free
// concurrency capacity.
func (s *Scheduler) GetRunnableTasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	free := s.cfg.MaxConcurrentTasks - len(s.inflight)
	if free <= 0 {
		return nil
	}
	runnable := s.graph.Runnable()
	if len(runnable) > free {
		runnable = runnable[:free]
	}
	return copyTasks(runnable)
}

// GetExecutionOrder returns all tasks in a topological order using the
// dispatch tie-break. It is an estimate; actual dispatch is dynamic.
func (s *Scheduler) GetExecutionOrder() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyTasks(s.graph.Order())
}

// GetStatus returns aggregate task counts by status.
func (s *Scheduler) GetStatus() StatusCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Counts()
}

// Stats returns the recovery service counters.
func (s *Scheduler) Stats() recovery.Stats {
	return s.recovery.Stats()
}

// ExecuteTask runs one attempt of a pending, ready task with the executor
// registered for executorType (the task's own type when empty) and blocks
// until the attempt resolves. Task failures are not returned as errors;
// they are resolved through recovery and the event stream.
func (s *Scheduler) ExecuteTask(ctx context.Context, taskID, executorType string) error {
	s.mu.Lock()

	task, ok := s.graph.Get(taskID)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrTaskNotFound, taskID)
	}
	if executorType == "" {
		executorType = task.ExecutorType
	}
	fn, ok := s.executor(executorType)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrExecutorNotRegistered, executorType)
	}
	if !s.graph.Ready(task) || s.deciding[taskID] {
		s.mu.Unlock()
		return fmt.Errorf("%w: task %q is %s or has unfinished dependencies", ErrTaskNotRunnable, taskID, task.Status)
	}
	if len(s.inflight) >= s.cfg.MaxConcurrentTasks {
		s.mu.Unlock()
		return ErrCapacityExhausted
	}

	a := s.launchLocked(ctx, task, executorType, fn)
	s.mu.Unlock()

	<-a.done
	return nil
}

// Start begins automatic dispatch. Dispatch stops when ctx ends or Stop
// is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.runCtx, s.cancelRun = context.WithCancel(ctx)
	s.started = true
	s.logger.Debug("scheduler started", "max_concurrent", s.cfg.MaxConcurrentTasks)
	s.pumpLocked()
}

// Stop halts automatic dispatch and interrupts running attempts, which
// return to pending. Pending retry delays are skipped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.started = false
	s.cancelRun()

	now := time.Now()
	for id, rt := range s.timers {
		rt.timer.Stop()
		delete(s.timers, id)
		if task, ok := s.graph.Get(id); ok && task.RetryPending {
			task.RetryPending = false
			task.setStatus(TaskPending, now)
		}
	}
	s.notifyLocked()
}

// Close stops the scheduler and closes its bus if it owns it.
func (s *Scheduler) Close() {
	s.Stop()
	if s.ownsBus {
		s.bus.Close()
	}
}

// Wait blocks until nothing is running, resolving or waiting to be
// requeued, or until ctx ends.
func (s *Scheduler) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.idleLocked() {
			s.mu.Unlock()
			return nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run starts dispatch, waits until the graph can make no more progress,
// then stops.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	defer s.Stop()
	return s.Wait(ctx)
}

func (s *Scheduler) idleLocked() bool {
	return len(s.inflight) == 0 && s.resolving == 0 && len(s.timers) == 0
}

func (s *Scheduler) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

// pumpLocked dispatches runnable tasks until capacity is used up.
func (s *Scheduler) pumpLocked() {
	defer s.notifyLocked()

	if !s.started || s.runCtx.Err() != nil {
		return
	}

	for _, task := range s.graph.Runnable() {
		if len(s.inflight) >= s.cfg.MaxConcurrentTasks {
			return
		}
		if s.deciding[task.ID] {
			continue
		}
		fn, ok := s.executor(task.ExecutorType)
		if !ok {
			if !s.warned[task.ID] {
				s.warned[task.ID] = true
				s.logger.Warn("skipping dispatch, executor not registered", "task_id", task.ID, "executor", task.ExecutorType)
			}
			continue
		}
		s.launchLocked(s.runCtx, task, task.ExecutorType, fn)
	}
}

// launchLocked marks task running, emits task_started and starts the
// executor outside the lock.
func (s *Scheduler) launchLocked(parent context.Context, task *Task, executorType string, fn Executor) *attempt {
	now := time.Now()
	a := &attempt{
		taskID:       task.ID,
		executorType: executorType,
		started:      now,
		parent:       parent,
		done:         make(chan struct{}),
	}
	if s.cfg.TaskTimeout > 0 {
		a.ctx, a.cancel = context.WithTimeout(parent, s.cfg.TaskTimeout)
	} else {
		a.ctx, a.cancel = context.WithCancel(parent)
	}

	task.StartedAt = &now
	task.setStatus(TaskRunning, now)
	s.inflight[task.ID] = a

	s.publishLocked(events.TaskStarted, task.ID, now, events.StartedPayload{
		Name:         task.Name,
		ExecutorType: executorType,
		Attempt:      task.RetryCount + 1,
	})
	s.logger.Debug("task dispatched", "task_id", task.ID, "executor", executorType, "attempt", task.RetryCount+1)

	// Fires on deadline or caller cancellation even if the executor never returns
	a.stopWatch = context.AfterFunc(a.ctx, func() {
		switch {
		case a.parent.Err() != nil:
			s.finish(a, outcome{interrupted: true})
		case errors.Is(a.ctx.Err(), context.DeadlineExceeded):
			s.finish(a, outcome{timedOut: true})
		}
	})

	var rejected *outcome
	if s.breakers != nil {
		done, err := s.breakers.Allow(executorType)
		if err != nil {
			rejected = &outcome{raw: fmt.Sprintf("executor %q unavailable: %v", executorType, err)}
		}
		a.breakerDone = done
	}

	snapshot := *cloneTask(task)
	go func() {
		if rejected != nil {
			s.finish(a, *rejected)
			return
		}
		s.finish(a, s.invoke(a, snapshot, fn))
	}()

	return a
}

// invoke calls the executor, guarded by the circuit breaker when configured.
func (s *Scheduler) invoke(a *attempt, task Task, fn Executor) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("executor panic", "task_id", task.ID, "executor", a.executorType, "err", fmt.Sprint(r))
			out = outcome{raw: fmt.Sprintf("executor panic: %v", r)}
		}
	}()

	res, err := fn(a.ctx, task)
	if err != nil {
		return outcome{result: res, raw: err.Error()}
	}
	if !res.Success {
		raw := res.Output
		if raw == "" {
			raw = "executor reported failure"
		}
		return outcome{result: res, raw: raw}
	}
	return outcome{ok: true, result: res}
}

// finish applies the first outcome of an attempt. Later outcomes for the
// same attempt, or for an attempt that is no longer current, are dropped.
func (s *Scheduler) finish(a *attempt, out outcome) {
	s.mu.Lock()

	if cur, ok := s.inflight[a.taskID]; !ok || cur != a {
		s.mu.Unlock()
		if !out.interrupted && !out.timedOut {
			s.logger.Debug("discarding stale result", "task_id", a.taskID)
		}
		return
	}
	delete(s.inflight, a.taskID)
	a.stopWatch()
	a.cancel()

	// Normalize failures caused by our own deadline or caller cancellation
	if !out.ok && !out.interrupted && !out.timedOut {
		if a.parent.Err() != nil {
			out.interrupted = true
		} else if errors.Is(a.ctx.Err(), context.DeadlineExceeded) {
			out.timedOut = true
		}
	}
	if out.timedOut {
		out.ok = false
		out.raw = fmt.Sprintf("task timed out after %s: %s", s.cfg.TaskTimeout, context.DeadlineExceeded)
	}

	s.reportBreaker(a, out)

	now := time.Now()
	task := s.graph.tasks[a.taskID]
	elapsed := now.Sub(a.started)

	switch {
	case out.interrupted:
		task.setStatus(TaskPending, now)
		s.logger.Debug("task interrupted", "task_id", task.ID)
		s.pumpLocked()
		s.mu.Unlock()
		close(a.done)

	case out.ok:
		duration := out.result.Duration
		if duration <= 0 {
			duration = elapsed
		}
		task.Result = out.result.Output
		task.Duration = duration
		task.CompletedAt = &now
		task.setStatus(TaskCompleted, now)
		s.publishLocked(events.TaskCompleted, task.ID, now, events.CompletedPayload{
			Output:   out.result.Output,
			Duration: duration,
		})
		s.logger.Debug("task completed", "task_id", task.ID, "duration", duration)
		s.pumpLocked()
		s.mu.Unlock()
		close(a.done)

	default:
		task.LastError = out.raw
		task.Duration = elapsed
		task.setStatus(TaskFailed, now)
		s.resolving++
		s.deciding[task.ID] = true
		s.failing[task.ID] = true
		maxRetries := task.MaxRetries
		s.mu.Unlock()

		res := s.recovery.HandleFailureWithLimit(a.parent, a.taskID, out.raw, maxRetries)
		s.applyDecision(a, res, elapsed)
		close(a.done)
	}
}

func (s *Scheduler) reportBreaker(a *attempt, out outcome) {
	if a.breakerDone == nil {
		return
	}
	switch {
	case out.ok:
		a.breakerDone(nil)
	case out.interrupted:
		a.breakerDone(context.Canceled)
	default:
		a.breakerDone(errors.New(out.raw))
	}
}

// applyDecision applies a recovery decision to the task that produced it.
func (s *Scheduler) applyDecision(a *attempt, res recovery.Result, elapsed time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resolving--
	delete(s.deciding, a.taskID)
	delete(s.failing, a.taskID)
	task, ok := s.graph.Get(a.taskID)
	if !ok || task.Status != TaskFailed || task.RetryPending {
		s.notifyLocked()
		return
	}

	now := time.Now()
	switch res.Action {
	case recovery.ActionRetry:
		task.RetryCount = min(res.RetryCount, task.MaxRetries)
		task.RetryPending = true
		s.publishLocked(events.TaskRetried, task.ID, now, events.RetriedPayload{
			Error:      res.Classified,
			RetryCount: task.RetryCount,
			MaxRetries: task.MaxRetries,
			Delay:      res.RetryDelay,
		})
		s.scheduleRequeueLocked(task, res.RetryDelay)

	case recovery.ActionRollback:
		task.RolledBack = true
		task.CompletedAt = &now
		task.setStatus(TaskBlocked, now)
		s.publishLocked(events.TaskBlocked, task.ID, now, events.BlockedPayload{
			Reason:     "rolled back",
			RolledBack: true,
		})
		s.cascadeLocked(task.ID, now)

	default:
		task.CompletedAt = &now
		if res.Alert {
			s.publishLocked(events.TaskFailed, task.ID, now, events.FailedPayload{
				Error:    res.Classified,
				Action:   res.Action,
				Duration: elapsed,
			})
		}
		s.cascadeLocked(task.ID, now)
	}

	s.pumpLocked()
}

// scheduleRequeueLocked returns task to pending after delay.
func (s *Scheduler) scheduleRequeueLocked(task *Task, delay time.Duration) {
	if delay <= 0 {
		task.RetryPending = false
		task.setStatus(TaskPending, time.Now())
		return
	}

	s.retrySeq++
	seq := s.retrySeq
	id := task.ID
	s.timers[id] = retryTimer{
		timer: time.AfterFunc(delay, func() { s.requeue(id, seq) }),
		seq:   seq,
	}
}

func (s *Scheduler) requeue(taskID string, seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.timers[taskID]
	if !ok || rt.seq != seq {
		return
	}
	delete(s.timers, taskID)

	task, ok := s.graph.Get(taskID)
	if !ok || task.Status != TaskFailed || !task.RetryPending {
		s.notifyLocked()
		return
	}
	task.RetryPending = false
	task.setStatus(TaskPending, time.Now())
	s.logger.Debug("task requeued", "task_id", taskID, "retry", task.RetryCount)
	s.pumpLocked()
}

// RollbackTask runs the rollback hook for a failed or pending task via the
// recovery service. On success the task and its dependents are blocked.
func (s *Scheduler) RollbackTask(ctx context.Context, taskID string) (recovery.RollbackResult, error) {
	s.mu.Lock()
	task, ok := s.graph.Get(taskID)
	if !ok {
		s.mu.Unlock()
		return recovery.RollbackResult{TaskID: taskID}, fmt.Errorf("%w: %q", ErrTaskNotFound, taskID)
	}
	if (task.Status != TaskFailed && task.Status != TaskPending) || s.deciding[taskID] {
		s.mu.Unlock()
		return recovery.RollbackResult{TaskID: taskID}, fmt.Errorf("%w: cannot roll back %s task %q", ErrInvalidTransition, task.Status, taskID)
	}
	// Hold the task still while the hook runs
	if rt, ok := s.timers[taskID]; ok {
		rt.timer.Stop()
		delete(s.timers, taskID)
	}
	s.resolving++
	s.deciding[taskID] = true
	s.mu.Unlock()

	res := s.recovery.Rollback(ctx, taskID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolving--
	delete(s.deciding, taskID)

	now := time.Now()
	switch {
	case res.Success:
		task.RetryPending = false
		task.RolledBack = true
		task.CompletedAt = &now
		task.setStatus(TaskBlocked, now)
		s.publishLocked(events.TaskBlocked, taskID, now, events.BlockedPayload{
			Reason:     "rolled back",
			RolledBack: true,
		})
		s.cascadeLocked(taskID, now)
	case task.RetryPending:
		// The requeue timer was cancelled above
		task.RetryPending = false
		task.setStatus(TaskPending, now)
	}
	s.pumpLocked()
	return res, nil
}

// cascadeLocked blocks every non-terminal transitive dependent of taskID.
func (s *Scheduler) cascadeLocked(taskID string, now time.Time) {
	for _, dep := range s.graph.TransitiveDependents(taskID) {
		if dep.Terminal() || dep.Status == TaskRunning {
			continue
		}
		if rt, ok := s.timers[dep.ID]; ok {
			rt.timer.Stop()
			delete(s.timers, dep.ID)
		}
		dep.RetryPending = false
		s.blockLocked(dep, "dependency failed", taskID, now)
	}
}

func (s *Scheduler) blockLocked(task *Task, reason, blockedBy string, now time.Time) {
	task.setStatus(TaskBlocked, now)
	s.publishLocked(events.TaskBlocked, task.ID, now, events.BlockedPayload{
		Reason:    reason,
		BlockedBy: blockedBy,
	})
	s.logger.Debug("task blocked", "task_id", task.ID, "blocked_by", blockedBy)
}

// publishLocked emits an event. Holding the lock keeps emission order
// consistent with the order of status transitions.
func (s *Scheduler) publishLocked(typ events.Type, taskID string, at time.Time, payload any) {
	s.bus.Publish(events.Event{
		Type:      typ,
		TaskID:    taskID,
		Timestamp: at,
		Payload:   payload,
	})
}

// blocksDependentsLocked reports whether dependents of task can never run.
func (s *Scheduler) blocksDependentsLocked(task *Task) bool {
	if s.deciding[task.ID] {
		return false
	}
	return task.Status == TaskBlocked || (task.Status == TaskFailed && !task.RetryPending)
}

func copyTasks(tasks []*Task) []Task {
	out := make([]Task, len(tasks))
	for i, task := range tasks {
		out[i] = *cloneTask(task)
	}
	return out
}
