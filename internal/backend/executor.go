package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/aristath/taskengine/internal/scheduler"
	"github.com/aristath/taskengine/internal/worktree"
)

// ErrNoCommand is returned when a Config has no command.
var ErrNoCommand = errors.New("executor has no command")

// CommandExecutor runs each task as a subprocess described by a Config.
type CommandExecutor struct {
	cfg    Config
	pm     *ProcessManager
	wt     *worktree.Manager
	logger *slog.Logger
}

// Option configures a CommandExecutor.
type Option func(*CommandExecutor)

// WithProcessManager tracks subprocesses in pm.
func WithProcessManager(pm *ProcessManager) Option {
	return func(e *CommandExecutor) { e.pm = pm }
}

// WithWorktrees supplies the manager used when Config.UseWorktree is set.
func WithWorktrees(m *worktree.Manager) Option {
	return func(e *CommandExecutor) { e.wt = m }
}

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *CommandExecutor) { e.logger = l }
}

// NewCommandExecutor validates cfg and returns an executor for it.
func NewCommandExecutor(cfg Config, opts ...Option) (*CommandExecutor, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("%w: %q", ErrNoCommand, cfg.Type)
	}
	e := &CommandExecutor{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.UseWorktree && e.wt == nil {
		return nil, fmt.Errorf("executor %q uses worktrees but no worktree manager is configured", cfg.Type)
	}
	return e, nil
}

// Execute runs task and satisfies scheduler.Executor. A non-zero exit is
// returned as an error whose text includes stderr.
func (e *CommandExecutor) Execute(ctx context.Context, task scheduler.Task) (scheduler.ExecutionResult, error) {
	start := time.Now()
	logger := e.logger.With("task_id", task.ID, "executor", e.cfg.Type)

	dir := e.cfg.WorkDir
	var wt *worktree.Worktree
	if e.cfg.UseWorktree {
		var err error
		if wt, err = e.prepareWorktree(ctx, task.ID); err != nil {
			return scheduler.ExecutionResult{}, err
		}
		dir = wt.Path
	}

	cmd := newCommand(ctx, e.cfg.Command, expandArgs(e.cfg.Args, task)...)
	cmd.Dir = dir
	cmd.Env = e.environ(task)
	cmd.Stdin = strings.NewReader(task.Description)

	logger.Debug("starting subprocess", "command", e.cfg.Command, "dir", dir)
	stdout, _, err := executeCommand(ctx, cmd, e.pm)
	if err != nil {
		// The worktree stays behind for inspection or rollback
		return scheduler.ExecutionResult{}, err
	}

	if wt != nil {
		if err := e.integrate(ctx, wt, task); err != nil {
			return scheduler.ExecutionResult{}, err
		}
	}

	return scheduler.ExecutionResult{
		Success:  true,
		Output:   string(bytes.TrimSpace(stdout)),
		Duration: time.Since(start),
	}, nil
}

// prepareWorktree creates a fresh worktree, discarding one left by a
// previous attempt.
func (e *CommandExecutor) prepareWorktree(ctx context.Context, taskID string) (*worktree.Worktree, error) {
	if stale, ok, err := e.wt.Find(ctx, taskID); err != nil {
		return nil, err
	} else if ok {
		if err := e.wt.ForceCleanup(ctx, stale); err != nil {
			return nil, fmt.Errorf("discarding previous worktree: %w", err)
		}
	}
	return e.wt.Create(ctx, taskID)
}

// integrate commits the task's changes, merges them and removes the worktree.
func (e *CommandExecutor) integrate(ctx context.Context, wt *worktree.Worktree, task scheduler.Task) error {
	msg := fmt.Sprintf("%s: %s", task.ID, task.Name)
	if err := e.wt.Commit(ctx, wt, msg); err != nil && !errors.Is(err, worktree.ErrNoChanges) {
		return fmt.Errorf("committing task changes: %w", err)
	}

	res, err := e.wt.MergeDefault(ctx, wt)
	if err != nil {
		return err
	}
	if !res.Merged {
		return res.Err
	}

	if err := e.wt.Cleanup(ctx, wt); err != nil {
		e.logger.Warn("worktree cleanup failed", "task_id", task.ID, "err", err)
	}
	return nil
}

func (e *CommandExecutor) environ(task scheduler.Task) []string {
	env := os.Environ()
	for _, key := range slices.Sorted(maps.Keys(e.cfg.Env)) {
		env = append(env, key+"="+e.cfg.Env[key])
	}
	return append(env, EnvTaskID+"="+task.ID, EnvTaskName+"="+task.Name)
}

// expandArgs substitutes task fields into the argument templates.
func expandArgs(args []string, task scheduler.Task) []string {
	r := strings.NewReplacer(
		"{{id}}", task.ID,
		"{{name}}", task.Name,
		"{{description}}", task.Description,
	)
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = r.Replace(arg)
	}
	return out
}

// RegisterAll installs one CommandExecutor per entry in cfgs. The map key
// is the executor type.
func RegisterAll(s *scheduler.Scheduler, cfgs map[string]Config, opts ...Option) error {
	for _, typ := range slices.Sorted(maps.Keys(cfgs)) {
		cfg := cfgs[typ]
		cfg.Type = typ
		ce, err := NewCommandExecutor(cfg, opts...)
		if err != nil {
			return err
		}
		s.RegisterExecutor(typ, ce.Execute)
	}
	return nil
}
