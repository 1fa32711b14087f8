package scheduler

import "errors"

var (
	ErrDependencyCycle       = errors.New("dependency cycle detected")
	ErrTaskNotFound          = errors.New("task not found")
	ErrUnknownDependency     = errors.New("unknown dependency")
	ErrDuplicateTask         = errors.New("task already exists")
	ErrExecutorNotRegistered = errors.New("executor not registered")
	ErrTaskNotRunnable       = errors.New("task is not runnable")
	ErrCapacityExhausted     = errors.New("concurrency limit reached")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrSchedulerBusy         = errors.New("scheduler has tasks in flight")
)
