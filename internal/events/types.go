package events

import (
	"time"

	"github.com/aristath/taskengine/internal/classifier"
	"github.com/aristath/taskengine/internal/recovery"
)

// Type identifies a task lifecycle event.
type Type string

// Event type constants
const (
	TaskStarted   Type = "task_started"
	TaskCompleted Type = "task_completed"
	TaskFailed    Type = "task_failed"
	TaskBlocked   Type = "task_blocked"
	TaskRetried   Type = "task_retried"
)

// Event is a single lifecycle notification. Payload holds one of the
// *Payload types below, matching Type.
type Event struct {
	Type      Type      `json:"type"`
	TaskID    string    `json:"task_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// StartedPayload accompanies TaskStarted.
type StartedPayload struct {
	Name         string `json:"name"`
	ExecutorType string `json:"executor_type"`
	Attempt      int    `json:"attempt"` // 1 for the first run
}

// CompletedPayload accompanies TaskCompleted.
type CompletedPayload struct {
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
}

// FailedPayload accompanies TaskFailed, emitted for terminal failures.
type FailedPayload struct {
	Error    classifier.ClassifiedError `json:"error"`
	Action   recovery.Action            `json:"action"`
	Duration time.Duration              `json:"duration"`
}

// RetriedPayload accompanies TaskRetried.
type RetriedPayload struct {
	Error      classifier.ClassifiedError `json:"error"`
	RetryCount int                        `json:"retry_count"`
	MaxRetries int                        `json:"max_retries"`
	Delay      time.Duration              `json:"delay"`
}

// BlockedPayload accompanies TaskBlocked.
type BlockedPayload struct {
	Reason     string `json:"reason"`
	BlockedBy  string `json:"blocked_by,omitempty"` // Upstream task that caused a cascade
	RolledBack bool   `json:"rolled_back"`
}
