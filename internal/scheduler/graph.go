package scheduler

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gammazero/toposort"
)

// Graph holds tasks and their dependency edges. It is not safe for
// concurrent use; the Scheduler serializes access.
type Graph struct {
	tasks      map[string]*Task    // All tasks indexed by ID
	dependents map[string][]string // Maps taskID -> tasks that depend on it
	nextSeq    int64
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		tasks:      make(map[string]*Task),
		dependents: make(map[string][]string),
	}
}

// Add inserts a task. All dependencies must already exist, so a new task
// can never close a cycle. A zero Sequence is assigned the next value.
func (g *Graph) Add(task *Task) error {
	if _, exists := g.tasks[task.ID]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTask, task.ID)
	}
	for _, depID := range task.Dependencies {
		if depID == task.ID {
			return fmt.Errorf("%w: task %q depends on itself", ErrDependencyCycle, task.ID)
		}
		if _, exists := g.tasks[depID]; !exists {
			return fmt.Errorf("%w: task %q depends on non-existent task %q", ErrUnknownDependency, task.ID, depID)
		}
	}

	if task.Sequence == 0 {
		g.nextSeq++
		task.Sequence = g.nextSeq
	} else if task.Sequence > g.nextSeq {
		g.nextSeq = task.Sequence
	}

	g.tasks[task.ID] = task
	for _, depID := range task.Dependencies {
		g.dependents[depID] = append(g.dependents[depID], task.ID)
	}
	return nil
}

// AddDependency adds the edge taskID -> depID, rejecting edges that would
// close a cycle.
func (g *Graph) AddDependency(taskID, depID string) error {
	task, ok := g.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrTaskNotFound, taskID)
	}
	if _, ok := g.tasks[depID]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDependency, depID)
	}
	if slices.Contains(task.Dependencies, depID) {
		return nil
	}
	if taskID == depID || g.dependsOn(depID, taskID) {
		return fmt.Errorf("%w: %q -> %q", ErrDependencyCycle, taskID, depID)
	}

	task.Dependencies = append(task.Dependencies, depID)
	g.dependents[depID] = append(g.dependents[depID], taskID)
	return nil
}

// dependsOn reports whether from transitively depends on target.
func (g *Graph) dependsOn(from, target string) bool {
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, dep := range g.tasks[id].Dependencies {
			if dep == target {
				return true
			}
			if !seen[dep] {
				seen[dep] = true
				stack = append(stack, dep)
			}
		}
	}
	return false
}

// Get returns the live task by ID.
func (g *Graph) Get(taskID string) (*Task, bool) {
	task, ok := g.tasks[taskID]
	return task, ok
}

// Len returns the number of tasks.
func (g *Graph) Len() int { return len(g.tasks) }

// Tasks returns live tasks in creation order.
func (g *Graph) Tasks() []*Task {
	tasks := make([]*Task, 0, len(g.tasks))
	for _, task := range g.tasks {
		tasks = append(tasks, task)
	}
	slices.SortFunc(tasks, func(a, b *Task) int { return compareSeq(a, b) })
	return tasks
}

// TransitiveDependents returns every task downstream of taskID, in
// creation order.
func (g *Graph) TransitiveDependents(taskID string) []*Task {
	seen := map[string]bool{}
	queue := append([]string(nil), g.dependents[taskID]...)
	var out []*Task
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, g.tasks[id])
		queue = append(queue, g.dependents[id]...)
	}
	slices.SortFunc(out, func(a, b *Task) int { return compareSeq(a, b) })
	return out
}

// Ready reports whether task is pending with every dependency completed.
func (g *Graph) Ready(task *Task) bool {
	if task.Status != TaskPending {
		return false
	}
	for _, depID := range task.Dependencies {
		dep, ok := g.tasks[depID]
		if !ok || dep.Status != TaskCompleted {
			return false
		}
	}
	return true
}

// Runnable returns ready tasks ordered by priority (highest first) then
// creation order.
func (g *Graph) Runnable() []*Task {
	var ready []*Task
	for _, task := range g.tasks {
		if g.Ready(task) {
			ready = append(ready, task)
		}
	}
	slices.SortFunc(ready, compareDispatch)
	return ready
}

// Order returns a topological ordering of all tasks. Among tasks whose
// dependencies are already placed, higher priority then earlier creation
// goes first.
func (g *Graph) Order() []*Task {
	indegree := make(map[string]int, len(g.tasks))
	var ready []*Task
	for id, task := range g.tasks {
		indegree[id] = len(task.Dependencies)
		if indegree[id] == 0 {
			ready = append(ready, task)
		}
	}

	order := make([]*Task, 0, len(g.tasks))
	for len(ready) > 0 {
		slices.SortFunc(ready, compareDispatch)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, depID := range g.dependents[next.ID] {
			indegree[depID]--
			if indegree[depID] == 0 {
				ready = append(ready, g.tasks[depID])
			}
		}
	}
	return order
}

// Validate checks that every dependency exists and that the graph is
// acyclic. Returns task IDs in a topological order.
func (g *Graph) Validate() ([]string, error) {
	for taskID, task := range g.tasks {
		for _, depID := range task.Dependencies {
			if _, exists := g.tasks[depID]; !exists {
				return nil, fmt.Errorf("%w: task %q depends on non-existent task %q", ErrUnknownDependency, taskID, depID)
			}
		}
	}

	var edges []toposort.Edge
	for taskID, task := range g.tasks {
		if len(task.Dependencies) == 0 {
			// Edge from nil keeps isolated tasks in the result
			edges = append(edges, toposort.Edge{nil, taskID})
			continue
		}
		for _, depID := range task.Dependencies {
			edges = append(edges, toposort.Edge{depID, taskID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDependencyCycle, err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(g.tasks) {
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		var missing []string
		for taskID := range g.tasks {
			if !found[taskID] {
				missing = append(missing, taskID)
			}
		}
		slices.Sort(missing)
		return nil, fmt.Errorf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// StatusCounts aggregates tasks by status.
type StatusCounts struct {
	Total        int `json:"total"`
	Pending      int `json:"pending"`
	Running      int `json:"running"`
	Completed    int `json:"completed"`
	Failed       int `json:"failed"`        // Terminal failures
	RetryPending int `json:"retry_pending"` // Failed, waiting to be requeued
	Blocked      int `json:"blocked"`
}

// Counts returns aggregate counts by status.
func (g *Graph) Counts() StatusCounts {
	var c StatusCounts
	for _, task := range g.tasks {
		c.Total++
		switch task.Status {
		case TaskPending:
			c.Pending++
		case TaskRunning:
			c.Running++
		case TaskCompleted:
			c.Completed++
		case TaskFailed:
			if task.RetryPending {
				c.RetryPending++
			} else {
				c.Failed++
			}
		case TaskBlocked:
			c.Blocked++
		}
	}
	return c
}

func compareSeq(a, b *Task) int {
	switch {
	case a.Sequence < b.Sequence:
		return -1
	case a.Sequence > b.Sequence:
		return 1
	}
	return 0
}

func compareDispatch(a, b *Task) int {
	if a.Priority != b.Priority {
		if a.Priority > b.Priority {
			return -1
		}
		return 1
	}
	return compareSeq(a, b)
}
