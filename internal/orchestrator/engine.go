// Package orchestrator assembles a runnable engine from configuration:
// scheduler, recovery, subprocess executors, worktrees, checkpointing and
// metrics.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskengine/internal/backend"
	"github.com/aristath/taskengine/internal/config"
	"github.com/aristath/taskengine/internal/events"
	"github.com/aristath/taskengine/internal/metrics"
	"github.com/aristath/taskengine/internal/persistence"
	"github.com/aristath/taskengine/internal/plan"
	"github.com/aristath/taskengine/internal/recovery"
	"github.com/aristath/taskengine/internal/scheduler"
	"github.com/aristath/taskengine/internal/worktree"
)

// ErrNoStore is returned by Resume when persistence is disabled.
var ErrNoStore = errors.New("persistence disabled")

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	store     persistence.Store
	executors map[string]scheduler.Executor
}

// WithLogger sets the logger shared by all components.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStore uses an existing store instead of opening cfg.Persistence.Path.
// The engine does not close it.
func WithStore(s persistence.Store) Option {
	return func(o *options) { o.store = s }
}

// WithExecutor registers an in-process executor alongside the configured
// command executors. It replaces a command executor of the same type.
func WithExecutor(executorType string, fn scheduler.Executor) Option {
	return func(o *options) {
		if o.executors == nil {
			o.executors = make(map[string]scheduler.Executor)
		}
		o.executors[executorType] = fn
	}
}

// Engine owns one scheduler and everything wired around it.
type Engine struct {
	cfg    *config.OrchestratorConfig
	logger *slog.Logger

	bus       *events.Bus
	recovery  *recovery.Service
	scheduler *scheduler.Scheduler
	processes *backend.ProcessManager
	worktrees *worktree.Manager // nil unless an executor uses worktrees

	store        persistence.Store
	ownsStore    bool
	checkpointer *persistence.Checkpointer

	registry *prometheus.Registry
	metrics  *metrics.Collector
	server   *metrics.Server

	detach []func()
}

// New builds an engine. A nil cfg uses config.DefaultConfig.
func New(cfg *config.OrchestratorConfig, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	e := &Engine{
		cfg:       cfg,
		logger:    o.logger,
		bus:       events.NewBus(cfg.Scheduler.EventBuffer),
		processes: backend.NewProcessManager(),
	}
	e.bus.SetLogger(e.logger)

	if usesWorktrees(cfg) {
		wt, err := worktree.New(worktree.Config{
			RepoPath:   cfg.Worktree.RepoPath,
			BaseBranch: cfg.Worktree.BaseBranch,
			Dir:        cfg.Worktree.Dir,
		})
		if err != nil {
			return nil, err
		}
		e.worktrees = wt
	}

	recoveryOpts := []recovery.Option{
		recovery.WithPolicy(recovery.Policy{
			MaxRetries:           cfg.Recovery.MaxRetries,
			RetryDelay:           cfg.Recovery.RetryDelay.Std(),
			EnableRollback:       cfg.Recovery.EnableRollback,
			AlertAfterMaxRetries: cfg.Recovery.AlertAfterMaxRetries,
		}),
		recovery.WithLogger(e.logger),
	}
	if cfg.Recovery.EnableRollback && e.worktrees != nil {
		recoveryOpts = append(recoveryOpts, recovery.WithRollbackHook(worktree.RollbackHook(e.worktrees)))
	}
	e.recovery = recovery.New(recoveryOpts...)

	schedOpts := []scheduler.Option{
		scheduler.WithRecovery(e.recovery),
		scheduler.WithBus(e.bus),
		scheduler.WithLogger(e.logger),
	}
	if cfg.CircuitBreaker.Enabled {
		schedOpts = append(schedOpts, scheduler.WithBreakers(scheduler.NewBreakerRegistry(scheduler.BreakerSettings{
			ConsecutiveFailures: uint32(cfg.CircuitBreaker.ConsecutiveFailures),
			OpenTimeout:         cfg.CircuitBreaker.OpenTimeout.Std(),
		}, e.logger)))
	}
	e.scheduler = scheduler.New(scheduler.Config{
		MaxConcurrentTasks: cfg.Scheduler.MaxConcurrentTasks,
		TaskTimeout:        cfg.Scheduler.TaskTimeout.Std(),
		EventBuffer:        cfg.Scheduler.EventBuffer,
	}, schedOpts...)

	backendOpts := []backend.Option{
		backend.WithProcessManager(e.processes),
		backend.WithLogger(e.logger),
	}
	if e.worktrees != nil {
		backendOpts = append(backendOpts, backend.WithWorktrees(e.worktrees))
	}
	if err := backend.RegisterAll(e.scheduler, backendConfigs(cfg.Executors), backendOpts...); err != nil {
		e.Close()
		return nil, err
	}
	for typ, fn := range o.executors {
		e.scheduler.RegisterExecutor(typ, fn)
	}

	if err := e.openStore(o.store); err != nil {
		e.Close()
		return nil, err
	}
	if e.store != nil {
		e.checkpointer = persistence.NewCheckpointer(e.store, e.scheduler, cfg.Persistence.CheckpointInterval.Std(), e.logger)
		e.detach = append(e.detach, e.checkpointer.Attach(e.bus))
	}

	if cfg.Metrics.Addr != "" {
		e.registry = prometheus.NewRegistry()
		e.metrics = metrics.New(e.registry, e.scheduler)
		e.detach = append(e.detach, e.metrics.Attach(e.bus))
		e.server = metrics.NewServer(cfg.Metrics.Addr, metrics.Handler(e.registry, e.scheduler))
	}

	return e, nil
}

func (e *Engine) openStore(store persistence.Store) error {
	if store != nil {
		e.store = store
		return nil
	}
	if e.cfg.Persistence.Path == "" {
		return nil
	}
	s, err := persistence.NewSQLiteStore(context.Background(), e.cfg.Persistence.Path)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	e.store = s
	e.ownsStore = true
	return nil
}

func usesWorktrees(cfg *config.OrchestratorConfig) bool {
	for _, ec := range cfg.Executors {
		if ec.UseWorktree {
			return true
		}
	}
	return false
}

func backendConfigs(executors map[string]config.ExecutorConfig) map[string]backend.Config {
	out := make(map[string]backend.Config, len(executors))
	for typ, ec := range executors {
		out[typ] = backend.Config{
			Command:     ec.Command,
			Args:        ec.Args,
			WorkDir:     ec.WorkDir,
			Env:         ec.Env,
			UseWorktree: ec.UseWorktree,
		}
	}
	return out
}

// Scheduler returns the engine's scheduler.
func (e *Engine) Scheduler() *scheduler.Scheduler { return e.scheduler }

// Bus returns the event bus all components publish on.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Registry returns the metrics registry, or nil when metrics are disabled.
func (e *Engine) Registry() *prometheus.Registry { return e.registry }

// Checkpointer returns the checkpointer, or nil when persistence is disabled.
func (e *Engine) Checkpointer() *persistence.Checkpointer { return e.checkpointer }

// DefaultExecutor is the executor type given to plan tasks that name
// none: the only configured executor, else "shell" when configured.
func (e *Engine) DefaultExecutor() string {
	types := slices.Sorted(maps.Keys(e.cfg.Executors))
	switch {
	case len(types) == 1:
		return types[0]
	case slices.Contains(types, "shell"):
		return "shell"
	}
	return ""
}

// LoadPlan reads a plan file and adds its tasks. Tasks already present,
// such as those restored by Resume, are skipped. It returns the IDs added.
func (e *Engine) LoadPlan(path string) ([]string, error) {
	f, err := plan.Load(path)
	if err != nil {
		return nil, err
	}
	f.Tasks = slices.DeleteFunc(f.Tasks, func(def plan.TaskDef) bool {
		_, ok := e.scheduler.Task(def.ID)
		return ok
	})
	ids, err := plan.Apply(e.scheduler, f, e.DefaultExecutor())
	if err != nil {
		return ids, err
	}
	e.logger.Info("plan loaded", "path", path, "tasks", len(ids))
	return ids, nil
}

// Resume restores the last checkpoint. It reports false when the store
// holds none.
func (e *Engine) Resume(ctx context.Context) (bool, error) {
	if e.store == nil {
		return false, ErrNoStore
	}
	snap, ok, err := e.store.LoadSnapshot(ctx)
	if err != nil {
		return false, fmt.Errorf("loading checkpoint: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := e.scheduler.Restore(snap); err != nil {
		return false, fmt.Errorf("restoring checkpoint: %w", err)
	}
	e.logger.Info("checkpoint restored", "tasks", len(snap.Tasks), "taken_at", snap.TakenAt)
	return true, nil
}

// Run dispatches tasks until the graph can make no more progress or ctx
// ends. The checkpointer and metrics server run alongside and stop with
// the scheduler; a final checkpoint is written on the way out.
func (e *Engine) Run(ctx context.Context) error {
	if e.worktrees != nil {
		// Clean stale worktrees from prior crashes
		if err := e.worktrees.Prune(ctx); err != nil {
			e.logger.Warn("failed to prune stale worktrees", "err", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		return e.scheduler.Run(gctx)
	})
	if e.checkpointer != nil {
		g.Go(func() error {
			return e.checkpointer.Run(gctx)
		})
	}
	if e.server != nil {
		g.Go(func() error {
			if err := e.server.ListenAndServe(gctx); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	err := g.Wait()
	counts := e.scheduler.GetStatus()
	e.logger.Info("run finished",
		"completed", counts.Completed,
		"failed", counts.Failed,
		"blocked", counts.Blocked,
		"pending", counts.Pending)
	return err
}

// Close stops the scheduler, kills leftover subprocesses, closes the bus
// and the store when the engine opened it.
func (e *Engine) Close() error {
	for _, detach := range e.detach {
		detach()
	}
	e.detach = nil

	var errs []error
	if e.scheduler != nil {
		e.scheduler.Close()
	}
	if err := e.processes.KillAll(); err != nil {
		errs = append(errs, err)
	}
	e.bus.Close()
	if e.ownsStore && e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, err)
		}
		e.ownsStore = false
	}
	return errors.Join(errs...)
}
