// Package worktree gives each task its own git worktree and branch, and
// merges or discards the result.
package worktree

// MergeStrategy selects how conflicting hunks are resolved when merging a
// task branch back to the base branch.
type MergeStrategy int

const (
	// MergeOrt uses git's default ort strategy and fails on conflicts
	MergeOrt MergeStrategy = iota
	// MergeOurs resolves conflicting hunks in favour of the base branch
	MergeOurs
	// MergeTheirs resolves conflicting hunks in favour of the task branch
	MergeTheirs
)

func (s MergeStrategy) String() string {
	switch s {
	case MergeOurs:
		return "ours"
	case MergeTheirs:
		return "theirs"
	default:
		return "ort"
	}
}

// BranchPrefix prefixes every task branch.
const BranchPrefix = "task/"

// Worktree describes a task's checkout.
type Worktree struct {
	Path   string // Absolute path to the worktree directory
	Branch string // e.g. "task/build"
	TaskID string
	Head   string // HEAD commit at creation or listing time
}

// MergeResult reports the outcome of Merge. Conflicts are reported here
// rather than as an error.
type MergeResult struct {
	Merged        bool
	ConflictFiles []string
	Err           error
}

// Config configures a Manager.
type Config struct {
	RepoPath        string        // Path to the git repository
	BaseBranch      string        // Branch to fork from and merge into (default "main")
	Dir             string        // Worktree root, relative to RepoPath unless absolute (default ".worktrees")
	DefaultStrategy MergeStrategy // Used by MergeDefault
}
