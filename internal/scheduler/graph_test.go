package scheduler

import (
	"errors"
	"strings"
	"testing"
)

// rawGraph inserts tasks without edge checks, the way Restore builds a graph.
func rawGraph(tasks ...*Task) *Graph {
	g := NewGraph()
	for _, task := range tasks {
		g.nextSeq++
		task.Sequence = g.nextSeq
		g.tasks[task.ID] = task
	}
	for _, task := range tasks {
		for _, dep := range task.Dependencies {
			g.dependents[dep] = append(g.dependents[dep], task.ID)
		}
	}
	return g
}

func ids(tasks []*Task) []string {
	out := make([]string, len(tasks))
	for i, task := range tasks {
		out[i] = task.ID
	}
	return out
}

// TestGraphValidate tests validation with various graph structures.
func TestGraphValidate(t *testing.T) {
	tests := []struct {
		name        string
		graph       *Graph
		wantErr     error
		errContains string
	}{
		{
			name: "valid linear chain",
			graph: rawGraph(
				&Task{ID: "A"},
				&Task{ID: "B", Dependencies: []string{"A"}},
				&Task{ID: "C", Dependencies: []string{"B"}},
			),
		},
		{
			name: "disconnected components",
			graph: rawGraph(
				&Task{ID: "A"},
				&Task{ID: "B", Dependencies: []string{"A"}},
				&Task{ID: "C"},
				&Task{ID: "D", Dependencies: []string{"C"}},
			),
		},
		{
			name: "direct cycle",
			graph: rawGraph(
				&Task{ID: "A", Dependencies: []string{"B"}},
				&Task{ID: "B", Dependencies: []string{"A"}},
			),
			wantErr: ErrDependencyCycle,
		},
		{
			name: "transitive cycle",
			graph: rawGraph(
				&Task{ID: "A", Dependencies: []string{"B"}},
				&Task{ID: "B", Dependencies: []string{"C"}},
				&Task{ID: "C", Dependencies: []string{"A"}},
			),
			wantErr: ErrDependencyCycle,
		},
		{
			name:    "self-loop",
			graph:   rawGraph(&Task{ID: "A", Dependencies: []string{"A"}}),
			wantErr: ErrDependencyCycle,
		},
		{
			name:        "missing dependency",
			graph:       rawGraph(&Task{ID: "A", Dependencies: []string{"nonexistent"}}),
			wantErr:     ErrUnknownDependency,
			errContains: "nonexistent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := tt.graph.Validate()

			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				if len(order) != tt.graph.Len() {
					t.Errorf("expected %d tasks in order, got %d: %v", tt.graph.Len(), len(order), order)
				}
				return
			}

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("error %q doesn't contain %q", err.Error(), tt.errContains)
			}
		})
	}
}

// TestGraphAdd verifies insertion-time checks.
func TestGraphAdd(t *testing.T) {
	g := NewGraph()
	if err := g.Add(&Task{ID: "A"}); err != nil {
		t.Fatalf("Add(A): %v", err)
	}
	if err := g.Add(&Task{ID: "A"}); !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("expected ErrDuplicateTask, got %v", err)
	}
	if err := g.Add(&Task{ID: "B", Dependencies: []string{"ghost"}}); !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("expected ErrUnknownDependency, got %v", err)
	}
	if err := g.Add(&Task{ID: "C", Dependencies: []string{"C"}}); !errors.Is(err, ErrDependencyCycle) {
		t.Errorf("expected ErrDependencyCycle for self dependency, got %v", err)
	}
	if _, ok := g.Get("B"); ok {
		t.Error("rejected task must not enter the graph")
	}
}

// TestGraphAddDependency verifies cycle-closing edges are rejected.
func TestGraphAddDependency(t *testing.T) {
	g := NewGraph()
	_ = g.Add(&Task{ID: "A"})
	_ = g.Add(&Task{ID: "B", Dependencies: []string{"A"}})
	_ = g.Add(&Task{ID: "C", Dependencies: []string{"B"}})

	if err := g.AddDependency("A", "C"); !errors.Is(err, ErrDependencyCycle) {
		t.Fatalf("expected ErrDependencyCycle, got %v", err)
	}
	if a, _ := g.Get("A"); len(a.Dependencies) != 0 {
		t.Errorf("rejected edge was recorded: %v", a.Dependencies)
	}

	if err := g.AddDependency("C", "A"); err != nil {
		t.Fatalf("AddDependency(C, A): %v", err)
	}
	// Repeated edges are ignored
	if err := g.AddDependency("C", "A"); err != nil {
		t.Fatalf("repeat AddDependency(C, A): %v", err)
	}
	if c, _ := g.Get("C"); len(c.Dependencies) != 2 {
		t.Errorf("expected 2 dependencies, got %v", c.Dependencies)
	}

	if err := g.AddDependency("ghost", "A"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
	if _, err := g.Validate(); err != nil {
		t.Errorf("graph should remain valid: %v", err)
	}
}

// TestGraphRunnable tests readiness and dispatch ordering.
func TestGraphRunnable(t *testing.T) {
	g := rawGraph(
		&Task{ID: "low", Priority: PriorityLow},
		&Task{ID: "crit", Priority: PriorityCritical},
		&Task{ID: "norm1", Priority: PriorityNormal},
		&Task{ID: "norm2", Priority: PriorityNormal},
		&Task{ID: "done", Priority: PriorityHigh, Status: TaskCompleted},
		&Task{ID: "after-done", Priority: PriorityHigh, Dependencies: []string{"done"}},
		&Task{ID: "after-low", Priority: PriorityCritical, Dependencies: []string{"low"}},
		&Task{ID: "running", Priority: PriorityCritical, Status: TaskRunning},
	)

	got := strings.Join(ids(g.Runnable()), ",")
	want := "crit,after-done,norm1,norm2,low"
	if got != want {
		t.Errorf("Runnable() = %s, want %s", got, want)
	}
}

// TestGraphOrder verifies topological order with the priority tie-break.
func TestGraphOrder(t *testing.T) {
	g := NewGraph()
	_ = g.Add(&Task{ID: "A", Priority: PriorityNormal})
	_ = g.Add(&Task{ID: "B", Priority: PriorityLow, Dependencies: []string{"A"}})
	_ = g.Add(&Task{ID: "C", Priority: PriorityHigh, Dependencies: []string{"A"}})
	_ = g.Add(&Task{ID: "D", Priority: PriorityCritical, Dependencies: []string{"B", "C"}})
	_ = g.Add(&Task{ID: "E", Priority: PriorityLow})

	got := strings.Join(ids(g.Order()), ",")
	want := "A,C,B,D,E"
	if got != want {
		t.Errorf("Order() = %s, want %s", got, want)
	}
}

// TestGraphTransitiveDependents verifies downstream discovery.
func TestGraphTransitiveDependents(t *testing.T) {
	g := NewGraph()
	_ = g.Add(&Task{ID: "A"})
	_ = g.Add(&Task{ID: "B", Dependencies: []string{"A"}})
	_ = g.Add(&Task{ID: "C", Dependencies: []string{"A"}})
	_ = g.Add(&Task{ID: "D", Dependencies: []string{"B", "C"}})
	_ = g.Add(&Task{ID: "E"})

	got := strings.Join(ids(g.TransitiveDependents("A")), ",")
	if got != "B,C,D" {
		t.Errorf("TransitiveDependents(A) = %s, want B,C,D", got)
	}
	if deps := g.TransitiveDependents("E"); len(deps) != 0 {
		t.Errorf("expected no dependents of E, got %v", ids(deps))
	}
}

func TestGraphCounts(t *testing.T) {
	g := rawGraph(
		&Task{ID: "a", Status: TaskPending},
		&Task{ID: "b", Status: TaskRunning},
		&Task{ID: "c", Status: TaskCompleted},
		&Task{ID: "d", Status: TaskFailed},
		&Task{ID: "e", Status: TaskFailed, RetryPending: true},
		&Task{ID: "f", Status: TaskBlocked},
	)
	want := StatusCounts{Total: 6, Pending: 1, Running: 1, Completed: 1, Failed: 1, RetryPending: 1, Blocked: 1}
	if got := g.Counts(); got != want {
		t.Errorf("Counts() = %+v, want %+v", got, want)
	}
}
