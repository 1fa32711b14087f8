package config

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Validate reports every problem found in cfg.
func (cfg *OrchestratorConfig) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if cfg.Scheduler.MaxConcurrentTasks < 1 {
		add("scheduler.max_concurrent_tasks must be at least 1, got %d", cfg.Scheduler.MaxConcurrentTasks)
	}
	if cfg.Scheduler.TaskTimeout < 0 {
		add("scheduler.task_timeout must not be negative")
	}
	if cfg.Scheduler.EventBuffer < 0 {
		add("scheduler.event_buffer must not be negative")
	}
	if cfg.Recovery.MaxRetries < 0 {
		add("recovery.max_retries must not be negative, got %d", cfg.Recovery.MaxRetries)
	}
	if cfg.Recovery.RetryDelay < 0 {
		add("recovery.retry_delay must not be negative")
	}
	if cfg.CircuitBreaker.Enabled && cfg.CircuitBreaker.ConsecutiveFailures < 1 {
		add("circuit_breaker.consecutive_failures must be at least 1 when enabled")
	}
	if cfg.CircuitBreaker.OpenTimeout < 0 {
		add("circuit_breaker.open_timeout must not be negative")
	}
	if cfg.Persistence.CheckpointInterval < 0 {
		add("persistence.checkpoint_interval must not be negative")
	}

	// Sorted so the report is stable
	names := make([]string, 0, len(cfg.Executors))
	for name := range cfg.Executors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if cfg.Executors[name].Command == "" {
			add("executors.%s.command is required", name)
		}
	}

	switch cfg.Logging.Format {
	case "", "text", "json":
	default:
		add("logging.format must be text or json, got %q", cfg.Logging.Format)
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(problems...))
}
