package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that reads and writes JSON as "1m30s".
// Bare numbers are accepted as nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case nil:
		// null leaves the value unchanged
	case float64:
		*d = Duration(time.Duration(val))
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", data)
	}
	return nil
}

// SchedulerConfig bounds task dispatch.
type SchedulerConfig struct {
	MaxConcurrentTasks int      `json:"max_concurrent_tasks"`
	TaskTimeout        Duration `json:"task_timeout"`           // 0 disables the per-attempt deadline
	EventBuffer        int      `json:"event_buffer,omitempty"` // Per-subscriber event queue length
}

// RecoveryConfig is the failure policy applied by the recovery service.
type RecoveryConfig struct {
	MaxRetries           int      `json:"max_retries"`
	RetryDelay           Duration `json:"retry_delay"`
	EnableRollback       bool     `json:"enable_rollback"`
	AlertAfterMaxRetries bool     `json:"alert_after_max_retries"`
}

// CircuitBreakerConfig opens a per-executor breaker after consecutive failures.
type CircuitBreakerConfig struct {
	Enabled             bool     `json:"enabled"`
	ConsecutiveFailures int      `json:"consecutive_failures"`
	OpenTimeout         Duration `json:"open_timeout"`
}

// ExecutorConfig defines how tasks of one executor type are run as a subprocess.
type ExecutorConfig struct {
	Command     string            `json:"command"`                // Binary to run
	Args        []string          `json:"args,omitempty"`         // May contain {{id}}, {{name}}, {{description}}
	WorkDir     string            `json:"work_dir,omitempty"`     // Defaults to the current directory
	Env         map[string]string `json:"env,omitempty"`          // Added to the inherited environment
	UseWorktree bool              `json:"use_worktree,omitempty"` // Run each task in its own git worktree
}

// WorktreeConfig locates the repository used for per-task worktrees.
type WorktreeConfig struct {
	RepoPath   string `json:"repo_path"`
	BaseBranch string `json:"base_branch"`
	Dir        string `json:"dir"` // Worktree root, relative to repo_path when not absolute
}

// PersistenceConfig controls checkpointing. An empty path disables it.
type PersistenceConfig struct {
	Path               string   `json:"path"`
	CheckpointInterval Duration `json:"checkpoint_interval"`
}

// LoggingConfig selects the log level and handler.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text or json
}

// MetricsConfig controls the Prometheus endpoint. An empty addr disables it.
type MetricsConfig struct {
	Addr string `json:"addr"`
}

// OrchestratorConfig is the top-level configuration.
type OrchestratorConfig struct {
	Scheduler      SchedulerConfig           `json:"scheduler"`
	Recovery       RecoveryConfig            `json:"recovery"`
	CircuitBreaker CircuitBreakerConfig      `json:"circuit_breaker"`
	Executors      map[string]ExecutorConfig `json:"executors"`
	Worktree       WorktreeConfig            `json:"worktree"`
	Persistence    PersistenceConfig         `json:"persistence"`
	Logging        LoggingConfig             `json:"logging"`
	Metrics        MetricsConfig             `json:"metrics"`
}
