package recovery

import (
	"context"
	"time"

	"github.com/aristath/taskengine/internal/classifier"
)

// Action is the decision taken for a failed task.
type Action string

const (
	ActionRetry    Action = "retry"
	ActionRollback Action = "rollback"
	ActionAlert    Action = "alert"
)

// Policy governs retry/rollback/alert decisions. Retry eligibility is
// uniform across error kinds.
type Policy struct {
	MaxRetries           int           `json:"max_retries"`
	RetryDelay           time.Duration `json:"retry_delay"`
	EnableRollback       bool          `json:"enable_rollback"`
	AlertAfterMaxRetries bool          `json:"alert_after_max_retries"`
}

// DefaultPolicy returns 3 retries, 1s apart, no rollback, alert on exhaustion.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:           3,
		RetryDelay:           time.Second,
		EnableRollback:       false,
		AlertAfterMaxRetries: true,
	}
}

// Record is the per-task failure bookkeeping.
type Record struct {
	FailureCount  int    `json:"failure_count"`
	RetryCount    int    `json:"retry_count"`
	RollbackCount int    `json:"rollback_count"`
	LastError     string `json:"last_error"`
	LastAction    Action `json:"last_action"`
}

// Result is the decision returned by HandleFailure.
type Result struct {
	TaskID     string
	Action     Action
	Classified classifier.ClassifiedError
	RetryDelay time.Duration // Wait before requeue (ActionRetry only)
	RetryCount int           // Retries consumed after this decision
	RolledBack bool          // Rollback hook reported success
	Alert      bool          // A terminal failure event should be emitted
}

// RollbackResult is returned by Rollback.
type RollbackResult struct {
	Success bool
	TaskID  string
	Err     error
}

// RollbackHook undoes the side effects of a task. It reports false (or an
// error) when the rollback could not be performed.
type RollbackHook func(ctx context.Context, taskID string) (bool, error)

// Stats are process-lifetime counters plus the active policy.
type Stats struct {
	TotalFailures  int
	TotalRetries   int
	TotalRollbacks int
	Policy         Policy
}
