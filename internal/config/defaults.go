package config

import "time"

// DefaultConfig returns the built-in configuration with a single "shell" executor.
func DefaultConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		Scheduler: SchedulerConfig{
			MaxConcurrentTasks: 4,
			TaskTimeout:        Duration(10 * time.Minute),
			EventBuffer:        256,
		},
		Recovery: RecoveryConfig{
			MaxRetries:           3,
			RetryDelay:           Duration(time.Second),
			EnableRollback:       false,
			AlertAfterMaxRetries: true,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:             false,
			ConsecutiveFailures: 5,
			OpenTimeout:         Duration(30 * time.Second),
		},
		Executors: map[string]ExecutorConfig{
			"shell": {
				Command: "sh",
				Args:    []string{"-c", "{{description}}"},
			},
		},
		Worktree: WorktreeConfig{
			RepoPath:   ".",
			BaseBranch: "main",
			Dir:        ".taskengine/worktrees",
		},
		Persistence: PersistenceConfig{
			Path:               ".taskengine/state.db",
			CheckpointInterval: Duration(2 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
