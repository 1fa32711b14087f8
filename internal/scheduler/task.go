package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus int

const (
	TaskPending   TaskStatus = iota // Waiting for dependencies or capacity
	TaskRunning                     // Currently executing
	TaskCompleted                   // Finished successfully
	TaskFailed                      // Failed; terminal unless a requeue is pending
	TaskBlocked                     // Rolled back or cut off by a failed dependency
)

var statusNames = [...]string{"pending", "running", "completed", "failed", "blocked"}

func (s TaskStatus) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("TaskStatus(%d)", int(s))
}

// ParseStatus is the inverse of TaskStatus.String.
func ParseStatus(s string) (TaskStatus, error) {
	for i, name := range statusNames {
		if strings.EqualFold(name, s) {
			return TaskStatus(i), nil
		}
	}
	return TaskPending, fmt.Errorf("unknown task status %q", s)
}

func (s TaskStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *TaskStatus) UnmarshalText(text []byte) error {
	v, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Priority orders runnable tasks. The zero value means "unset" and is
// normalized to PriorityNormal when a task is added.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// ParsePriority parses a priority name. Empty input yields PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PriorityNormal, nil
	}
	for p, name := range priorityNames {
		if strings.EqualFold(name, s) {
			return p, nil
		}
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Priority) UnmarshalText(text []byte) error {
	v, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// StatusChange is one entry of a task's status history.
type StatusChange struct {
	Status TaskStatus `json:"status"`
	At     time.Time  `json:"at"`
}

// Task represents a unit of work in the graph.
type Task struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Description   string         `json:"description,omitempty"`
	Priority      Priority       `json:"priority"`
	Status        TaskStatus     `json:"status"`
	Dependencies  []string       `json:"dependencies,omitempty"` // Task IDs this task depends on
	ExecutorType  string         `json:"executor_type"`          // Key into the executor registry
	MaxRetries    int            `json:"max_retries"`
	RetryCount    int            `json:"retry_count"`
	Result        string         `json:"result,omitempty"`     // Output of the successful run
	LastError     string         `json:"last_error,omitempty"` // Raw text of the last failure
	RolledBack    bool           `json:"rolled_back,omitempty"`
	RetryPending  bool           `json:"retry_pending,omitempty"` // Failed, waiting to be requeued
	Duration      time.Duration  `json:"duration,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	StatusHistory []StatusChange `json:"status_history,omitempty"`
	Sequence      int64          `json:"sequence"` // Creation order, used as tie-break
}

// Terminal reports whether the task can no longer change status.
func (t *Task) Terminal() bool {
	switch t.Status {
	case TaskCompleted, TaskBlocked:
		return true
	case TaskFailed:
		return !t.RetryPending
	}
	return false
}

// TaskSpec describes a task to add.
type TaskSpec struct {
	ID           string // Generated when empty
	Name         string
	Description  string
	Priority     Priority // Zero means PriorityNormal
	Dependencies []string
	ExecutorType string
	MaxRetries   *int // nil inherits the recovery policy's MaxRetries
}

// IntPtr is a helper for TaskSpec.MaxRetries.
func IntPtr(v int) *int { return &v }

func (t *Task) setStatus(status TaskStatus, at time.Time) {
	t.Status = status
	t.StatusHistory = append(t.StatusHistory, StatusChange{Status: status, At: at})
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	if task.Dependencies != nil {
		cp.Dependencies = append([]string(nil), task.Dependencies...)
	}
	if task.StatusHistory != nil {
		cp.StatusHistory = append([]StatusChange(nil), task.StatusHistory...)
	}
	if task.StartedAt != nil {
		ts := *task.StartedAt
		cp.StartedAt = &ts
	}
	if task.CompletedAt != nil {
		ts := *task.CompletedAt
		cp.CompletedAt = &ts
	}
	return &cp
}
