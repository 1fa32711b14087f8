// Package plan loads task graphs from YAML or JSON files.
package plan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gammazero/toposort"
	"gopkg.in/yaml.v3"

	"github.com/aristath/taskengine/internal/scheduler"
)

// ErrInvalidPlan wraps structural problems found while parsing.
var ErrInvalidPlan = errors.New("invalid plan")

// TaskDef is one task entry of a plan file.
type TaskDef struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Priority    string   `yaml:"priority" json:"priority"` // low, normal, high, critical
	DependsOn   []string `yaml:"depends_on" json:"depends_on"`
	Executor    string   `yaml:"executor" json:"executor"`
	MaxRetries  *int     `yaml:"max_retries" json:"max_retries"` // Omitted inherits the recovery policy
}

// File is a parsed plan.
type File struct {
	Tasks []TaskDef `yaml:"tasks" json:"tasks"`
}

// Load reads and parses the plan at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a YAML or JSON plan and checks ids and priorities.
// Unknown fields are rejected.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidPlan)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}

	seen := make(map[string]bool, len(f.Tasks))
	for i, def := range f.Tasks {
		if def.ID == "" {
			return nil, fmt.Errorf("%w: task %d has no id", ErrInvalidPlan, i+1)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("%w: duplicate task id %q", ErrInvalidPlan, def.ID)
		}
		seen[def.ID] = true
		if _, err := scheduler.ParsePriority(def.Priority); err != nil {
			return nil, fmt.Errorf("%w: task %q: %w", ErrInvalidPlan, def.ID, err)
		}
		if def.MaxRetries != nil && *def.MaxRetries < 0 {
			return nil, fmt.Errorf("%w: task %q: negative max_retries", ErrInvalidPlan, def.ID)
		}
	}
	return &f, nil
}

// Spec converts the definition to a scheduler task spec. defaultExecutor
// is used when the entry names none.
func (d TaskDef) Spec(defaultExecutor string) scheduler.TaskSpec {
	prio, _ := scheduler.ParsePriority(d.Priority)
	executor := d.Executor
	if executor == "" {
		executor = defaultExecutor
	}
	name := d.Name
	if name == "" {
		name = d.ID
	}
	return scheduler.TaskSpec{
		ID:           d.ID,
		Name:         name,
		Description:  d.Description,
		Priority:     prio,
		Dependencies: d.DependsOn,
		ExecutorType: executor,
		MaxRetries:   d.MaxRetries,
	}
}

// Order returns the definitions so that each one follows its dependencies,
// otherwise keeping file order. Dependencies outside the file are resolved
// by exists.
func (f *File) Order(exists func(id string) bool) ([]TaskDef, error) {
	if len(f.Tasks) == 0 {
		return nil, nil
	}
	byID := make(map[string]TaskDef, len(f.Tasks))
	for _, def := range f.Tasks {
		byID[def.ID] = def
	}

	var edges []toposort.Edge
	for _, def := range f.Tasks {
		edges = append(edges, toposort.Edge{nil, def.ID})
		for _, dep := range def.DependsOn {
			if _, ok := byID[dep]; ok {
				edges = append(edges, toposort.Edge{dep, def.ID})
				continue
			}
			if exists == nil || !exists(dep) {
				return nil, fmt.Errorf("%w: task %q depends on %q", scheduler.ErrUnknownDependency, def.ID, dep)
			}
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return nil, fmt.Errorf("%w: %v", scheduler.ErrDependencyCycle, err)
	}

	// Passes over file order keep independent entries in the order written
	ordered := make([]TaskDef, 0, len(f.Tasks))
	placed := make(map[string]bool, len(f.Tasks))
	for len(ordered) < len(f.Tasks) {
		for _, def := range f.Tasks {
			if placed[def.ID] || !depsPlaced(def, byID, placed) {
				continue
			}
			placed[def.ID] = true
			ordered = append(ordered, def)
		}
	}
	return ordered, nil
}

func depsPlaced(def TaskDef, byID map[string]TaskDef, placed map[string]bool) bool {
	for _, dep := range def.DependsOn {
		if _, inFile := byID[dep]; inFile && !placed[dep] {
			return false
		}
	}
	return true
}

// Apply adds the plan's tasks to s in dependency order. Nothing is added
// when the plan references unknown tasks or contains a cycle.
func Apply(s *scheduler.Scheduler, f *File, defaultExecutor string) ([]string, error) {
	ordered, err := f.Order(func(id string) bool {
		_, ok := s.Task(id)
		return ok
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(ordered))
	for _, def := range ordered {
		id, err := s.AddTask(def.Spec(defaultExecutor))
		if err != nil {
			return ids, fmt.Errorf("adding task %q: %w", def.ID, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
