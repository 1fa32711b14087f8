package scheduler

import (
	"fmt"
	"slices"
	"time"

	"github.com/aristath/taskengine/internal/recovery"
)

// Snapshot is the exportable state of a Scheduler: every task plus the
// recovery records.
type Snapshot struct {
	Tasks    []Task                     `json:"tasks"` // Creation order
	Recovery map[string]recovery.Record `json:"recovery"`
	TakenAt  time.Time                  `json:"taken_at"`
}

// Snapshot exports all tasks and recovery records. A failed attempt whose
// recovery decision is still pending is exported as retry pending, so a
// restore runs it again.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	tasks := copyTasks(s.graph.Tasks())
	for i := range tasks {
		if s.failing[tasks[i].ID] && tasks[i].Status == TaskFailed {
			tasks[i].RetryPending = true
		}
	}
	s.mu.Unlock()

	return Snapshot{
		Tasks:    tasks,
		Recovery: s.recovery.Records(),
		TakenAt:  time.Now(),
	}
}

// Restore replaces the graph with the tasks in snap and restores recovery
// records. Dependencies must exist and be acyclic. Tasks that were
// running, or waiting to be requeued, return to pending. Executor types
// are not checked; that happens at dispatch.
func (s *Scheduler) Restore(snap Snapshot) error {
	tasks := slices.Clone(snap.Tasks)
	slices.SortStableFunc(tasks, func(a, b Task) int {
		switch {
		case a.Sequence < b.Sequence:
			return -1
		case a.Sequence > b.Sequence:
			return 1
		}
		return 0
	})

	g := NewGraph()
	now := time.Now()
	for i := range tasks {
		task := cloneTask(&tasks[i])
		if task.ID == "" {
			return fmt.Errorf("restore: task at index %d has no id", i)
		}
		if _, dup := g.tasks[task.ID]; dup {
			return fmt.Errorf("restore: %w: %q", ErrDuplicateTask, task.ID)
		}
		if task.Priority == 0 {
			task.Priority = PriorityNormal
		}
		if task.RetryCount > task.MaxRetries {
			task.RetryCount = task.MaxRetries
		}
		if task.Status == TaskRunning || (task.Status == TaskFailed && task.RetryPending) {
			task.RetryPending = false
			task.StartedAt = nil
			task.setStatus(TaskPending, now)
		}

		if task.Sequence == 0 {
			g.nextSeq++
			task.Sequence = g.nextSeq
		} else if task.Sequence > g.nextSeq {
			g.nextSeq = task.Sequence
		}
		// Edges are checked once every task is present
		g.tasks[task.ID] = task
	}
	for _, task := range g.tasks {
		for _, depID := range task.Dependencies {
			g.dependents[depID] = append(g.dependents[depID], task.ID)
		}
	}
	for _, deps := range g.dependents {
		slices.Sort(deps)
	}

	if _, err := g.Validate(); err != nil {
		return fmt.Errorf("restore: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.inflight) > 0 || s.resolving > 0 {
		return ErrSchedulerBusy
	}
	for id, rt := range s.timers {
		rt.timer.Stop()
		delete(s.timers, id)
	}
	s.graph = g
	s.warned = make(map[string]bool)
	s.recovery.RestoreRecords(snap.Recovery)

	// Interrupted tasks whose dependencies failed while they were in flight
	for _, task := range g.Tasks() {
		if s.blocksDependentsLocked(task) {
			s.cascadeLocked(task.ID, now)
		}
	}

	s.pumpLocked()
	return nil
}
