package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aristath/taskengine/internal/recovery"
)

// TestSnapshotRestore verifies a snapshot rebuilds an equivalent scheduler.
func TestSnapshotRestore(t *testing.T) {
	src := newTestScheduler(t, Config{}, testPolicy(1))
	src.RegisterExecutor("ok", okExecutor)
	src.RegisterExecutor("fail", failExecutor)
	mustAdd(t, src, TaskSpec{ID: "A", ExecutorType: "ok", Priority: PriorityHigh})
	mustAdd(t, src, TaskSpec{ID: "B", ExecutorType: "fail", Dependencies: []string{"A"}})
	mustAdd(t, src, TaskSpec{ID: "C", ExecutorType: "ok", Dependencies: []string{"B"}})
	mustAdd(t, src, TaskSpec{ID: "D", ExecutorType: "unregistered"})
	runToIdle(t, src)

	snap := src.Snapshot()
	if len(snap.Tasks) != 4 || snap.Tasks[0].ID != "A" {
		t.Fatalf("unexpected snapshot tasks: %+v", snap.Tasks)
	}
	if snap.Recovery["B"].FailureCount != 2 {
		t.Errorf("expected recovery record for B, got %+v", snap.Recovery)
	}

	// Snapshots survive a JSON round trip, as the checkpoint store needs
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	dst := newTestScheduler(t, Config{}, testPolicy(1))
	if err := dst.Restore(decoded); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if got, want := dst.GetStatus(), src.GetStatus(); got != want {
		t.Errorf("status after restore = %+v, want %+v", got, want)
	}
	if got := dst.Stats(); got.TotalFailures != 2 || got.TotalRetries != 1 {
		t.Errorf("recovery stats not restored: %+v", got)
	}
	a := assertStatus(t, dst, "A", TaskCompleted)
	if a.Priority != PriorityHigh || a.Result != "done A" {
		t.Errorf("task fields not restored: %+v", a)
	}

	// New tasks continue the creation sequence
	id := mustAdd(t, dst, TaskSpec{ID: "E"})
	if e, _ := dst.Task(id); e.Sequence <= snap.Tasks[3].Sequence {
		t.Errorf("expected sequence after %d, got %d", snap.Tasks[3].Sequence, e.Sequence)
	}
}

// TestRestore_ResetsInterruptedTasks verifies running and retry-pending tasks return to pending.
func TestRestore_ResetsInterruptedTasks(t *testing.T) {
	now := time.Now()
	snap := Snapshot{
		Tasks: []Task{
			{ID: "A", Status: TaskRunning, ExecutorType: "ok", StartedAt: &now, Sequence: 1},
			{ID: "B", Status: TaskFailed, RetryPending: true, ExecutorType: "ok", MaxRetries: 3, RetryCount: 1, Sequence: 2},
			{ID: "C", Status: TaskPending, ExecutorType: "ok", Dependencies: []string{"A", "B"}, Sequence: 3},
		},
		Recovery: map[string]recovery.Record{"B": {FailureCount: 1, RetryCount: 1, LastAction: recovery.ActionRetry}},
	}

	s := newTestScheduler(t, Config{}, testPolicy(3))
	if err := s.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	a := assertStatus(t, s, "A", TaskPending)
	if a.StartedAt != nil {
		t.Error("expected StartedAt cleared for interrupted task")
	}
	b := assertStatus(t, s, "B", TaskPending)
	if b.RetryPending || b.RetryCount != 1 {
		t.Errorf("unexpected retry state: %+v", b)
	}

	// Executors are looked up lazily, so registering after restore works
	s.RegisterExecutor("ok", okExecutor)
	runToIdle(t, s)
	assertStatus(t, s, "C", TaskCompleted)
}

// TestSnapshot_FailureAwaitingDecision verifies a failed attempt whose
// recovery decision is still running is restored as pending, not as a
// terminal failure that blocks its dependents.
func TestSnapshot_FailureAwaitingDecision(t *testing.T) {
	hooked := make(chan struct{})
	release := make(chan struct{})
	hook := func(ctx context.Context, taskID string) (bool, error) {
		close(hooked)
		<-release
		return true, nil
	}
	policy := testPolicy(0)
	policy.EnableRollback = true
	src := newTestScheduler(t, Config{}, policy, recovery.WithRollbackHook(hook))
	src.RegisterExecutor("fail", failExecutor)
	mustAdd(t, src, TaskSpec{ID: "A", ExecutorType: "fail"})
	mustAdd(t, src, TaskSpec{ID: "B", ExecutorType: "ok", Dependencies: []string{"A"}})

	done := make(chan error, 1)
	go func() { done <- src.ExecuteTask(context.Background(), "A", "") }()
	<-hooked

	snap := src.Snapshot()
	close(release)
	<-done

	if a := snap.Tasks[0]; a.Status != TaskFailed || !a.RetryPending {
		t.Fatalf("expected A exported as retry pending, got %s (retry pending %v)", a.Status, a.RetryPending)
	}

	dst := newTestScheduler(t, Config{}, testPolicy(0))
	if err := dst.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	assertStatus(t, dst, "A", TaskPending)
	assertStatus(t, dst, "B", TaskPending)

	// Once decided, the task is exported as it is
	if a, _ := src.Task("A"); a.Status != TaskBlocked {
		t.Errorf("expected A blocked after rollback, got %s", a.Status)
	}
	if a := src.Snapshot().Tasks[0]; a.RetryPending {
		t.Error("decided task still exported as retry pending")
	}
}

// TestRestore_Rejects verifies restore re-validates the graph.
func TestRestore_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		tasks   []Task
		wantErr error
	}{
		{
			name: "cycle",
			tasks: []Task{
				{ID: "A", Dependencies: []string{"B"}, Sequence: 1},
				{ID: "B", Dependencies: []string{"A"}, Sequence: 2},
			},
			wantErr: ErrDependencyCycle,
		},
		{
			name:    "unknown dependency",
			tasks:   []Task{{ID: "A", Dependencies: []string{"ghost"}}},
			wantErr: ErrUnknownDependency,
		},
		{
			name:    "duplicate",
			tasks:   []Task{{ID: "A"}, {ID: "A"}},
			wantErr: ErrDuplicateTask,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler(t, Config{}, testPolicy(0))
			mustAdd(t, s, TaskSpec{ID: "keep"})

			err := s.Restore(Snapshot{Tasks: tt.tasks})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Restore error = %v, want %v", err, tt.wantErr)
			}
			// The previous graph is untouched
			if _, ok := s.Task("keep"); !ok {
				t.Error("failed restore replaced the graph")
			}
		})
	}
}

// TestRestore_BusyScheduler verifies restore is refused while tasks run.
func TestRestore_BusyScheduler(t *testing.T) {
	s := newTestScheduler(t, Config{}, testPolicy(0))
	release := make(chan struct{})
	started := make(chan struct{})
	s.RegisterExecutor("block", func(ctx context.Context, task Task) (ExecutionResult, error) {
		close(started)
		<-release
		return ExecutionResult{Success: true}, nil
	})
	mustAdd(t, s, TaskSpec{ID: "A", ExecutorType: "block"})

	done := make(chan error, 1)
	go func() { done <- s.ExecuteTask(context.Background(), "A", "") }()
	<-started

	if err := s.Restore(Snapshot{}); !errors.Is(err, ErrSchedulerBusy) {
		t.Errorf("expected ErrSchedulerBusy, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("ExecuteTask: %v", err)
	}
}
