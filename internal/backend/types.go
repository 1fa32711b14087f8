// Package backend runs tasks as subprocesses.
package backend

// Config defines how tasks of one executor type are run.
type Config struct {
	Type        string            // Executor type the config is registered under
	Command     string            // Binary to run
	Args        []string          // May contain {{id}}, {{name}}, {{description}}
	WorkDir     string            // Ignored when UseWorktree is set
	Env         map[string]string // Added to the inherited environment
	UseWorktree bool              // Run in a per-task git worktree and merge on success
}

// Task environment variables set for every subprocess.
const (
	EnvTaskID   = "TASKENGINE_TASK_ID"
	EnvTaskName = "TASKENGINE_TASK_NAME"
)
