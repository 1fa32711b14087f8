package worktree

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// ErrNoChanges is returned by Commit when the worktree is clean.
var ErrNoChanges = errors.New("no changes to commit")

// Manager manages git worktrees for parallel task execution.
type Manager struct {
	config  Config
	root    string      // Absolute worktree root
	tasks   *keyedMutex // Serializes create/merge/cleanup of one task
	mergeMu sync.Mutex  // Serializes operations on the base checkout
}

// New creates a worktree manager.
func New(cfg Config) (*Manager, error) {
	if cfg.RepoPath == "" {
		cfg.RepoPath = "."
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	if cfg.Dir == "" {
		cfg.Dir = ".worktrees"
	}

	repo, err := filepath.Abs(cfg.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("resolving repo path: %w", err)
	}
	cfg.RepoPath = repo

	root := cfg.Dir
	if !filepath.IsAbs(root) {
		root = filepath.Join(repo, root)
	}

	return &Manager{config: cfg, root: root, tasks: newKeyedMutex()}, nil
}

// Config returns the manager configuration with resolved paths.
func (m *Manager) Config() Config { return m.config }

// git runs a git subcommand in dir and returns its trimmed combined output.
func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	out := strings.TrimSpace(string(output))
	if err != nil {
		return out, fmt.Errorf("git %s: %w (output: %s)", args[0], err, out)
	}
	return out, nil
}

// Path returns where the worktree for taskID lives.
func (m *Manager) Path(taskID string) string {
	return filepath.Join(m.root, taskID)
}

// Create adds a worktree on a new branch forked from the base branch.
func (m *Manager) Create(ctx context.Context, taskID string) (*Worktree, error) {
	m.tasks.Lock(taskID)
	defer m.tasks.Unlock(taskID)

	branch := BranchPrefix + taskID
	wtPath := m.Path(taskID)

	// worktree add touches the shared .git directory
	m.mergeMu.Lock()
	_, err := git(ctx, m.config.RepoPath, "worktree", "add", "-b", branch, wtPath, m.config.BaseBranch)
	m.mergeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to create worktree for %s: %w", taskID, err)
	}

	head, err := git(ctx, wtPath, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD commit: %w", err)
	}

	return &Worktree{Path: wtPath, Branch: branch, TaskID: taskID, Head: head}, nil
}

// Commit stages and commits everything in the worktree.
func (m *Manager) Commit(ctx context.Context, wt *Worktree, message string) error {
	status, err := git(ctx, wt.Path, "status", "--porcelain")
	if err != nil {
		return err
	}
	if status == "" {
		return ErrNoChanges
	}
	if _, err := git(ctx, wt.Path, "add", "-A"); err != nil {
		return err
	}
	if _, err := git(ctx, wt.Path, "commit", "-m", message); err != nil {
		return err
	}
	return nil
}

// MergeDefault merges with the configured default strategy.
func (m *Manager) MergeDefault(ctx context.Context, wt *Worktree) (*MergeResult, error) {
	return m.Merge(ctx, wt, m.config.DefaultStrategy)
}

// Merge merges the task branch into the base branch. With MergeOrt a
// conflict is detected up front and the base checkout is left untouched.
func (m *Manager) Merge(ctx context.Context, wt *Worktree, strategy MergeStrategy) (*MergeResult, error) {
	m.tasks.Lock(wt.TaskID)
	defer m.tasks.Unlock(wt.TaskID)
	m.mergeMu.Lock()
	defer m.mergeMu.Unlock()

	repo := m.config.RepoPath
	if _, err := git(ctx, repo, "checkout", m.config.BaseBranch); err != nil {
		return &MergeResult{Err: fmt.Errorf("failed to checkout base branch: %w", err)}, nil
	}

	if strategy == MergeOrt {
		// Dry run; non-zero exit or CONFLICT lines mean the merge would fail
		out, err := git(ctx, repo, "merge-tree", "--write-tree", m.config.BaseBranch, wt.Branch)
		if err != nil || strings.Contains(out, "CONFLICT") {
			return &MergeResult{
				Err:           fmt.Errorf("merge conflict detected: %s", out),
				ConflictFiles: parseConflictFiles(out),
			}, nil
		}
	}

	args := []string{"merge", "--no-ff", "-m", fmt.Sprintf("Merge %s", wt.Branch)}
	switch strategy {
	case MergeOurs:
		args = append(args, "-X", "ours")
	case MergeTheirs:
		args = append(args, "-X", "theirs")
	}
	args = append(args, wt.Branch)

	if _, err := git(ctx, repo, args...); err != nil {
		// Leave the base checkout clean for the next merge
		git(context.WithoutCancel(ctx), repo, "merge", "--abort")
		return &MergeResult{Err: fmt.Errorf("merge failed: %w", err)}, nil
	}

	return &MergeResult{Merged: true}, nil
}

// parseConflictFiles extracts paths from "CONFLICT (content): Merge conflict in <file>" lines.
func parseConflictFiles(output string) []string {
	var conflicts []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "CONFLICT") {
			continue
		}
		if i := strings.LastIndex(line, " in "); i >= 0 {
			conflicts = append(conflicts, strings.TrimSpace(line[i+len(" in "):]))
		}
	}
	return conflicts
}

// Cleanup removes the worktree and deletes the branch, forcing each step
// only when the polite attempt fails.
func (m *Manager) Cleanup(ctx context.Context, wt *Worktree) error {
	return m.remove(ctx, wt, false)
}

// ForceCleanup removes the worktree and branch even with uncommitted or
// unmerged work.
func (m *Manager) ForceCleanup(ctx context.Context, wt *Worktree) error {
	return m.remove(ctx, wt, true)
}

func (m *Manager) remove(ctx context.Context, wt *Worktree, force bool) error {
	m.tasks.Lock(wt.TaskID)
	defer m.tasks.Unlock(wt.TaskID)
	m.mergeMu.Lock()
	defer m.mergeMu.Unlock()

	repo := m.config.RepoPath
	var errs []error

	if force {
		if _, err := git(ctx, repo, "worktree", "remove", "--force", wt.Path); err != nil {
			errs = append(errs, err)
		}
		if _, err := git(ctx, repo, "branch", "-D", wt.Branch); err != nil {
			errs = append(errs, err)
		}
	} else {
		if _, err := git(ctx, repo, "worktree", "remove", wt.Path); err != nil {
			if _, forceErr := git(ctx, repo, "worktree", "remove", "--force", wt.Path); forceErr != nil {
				errs = append(errs, err, forceErr)
			}
		}
		if _, err := git(ctx, repo, "branch", "-d", wt.Branch); err != nil {
			if _, forceErr := git(ctx, repo, "branch", "-D", wt.Branch); forceErr != nil {
				errs = append(errs, err, forceErr)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup of %s: %w", wt.TaskID, errors.Join(errs...))
	}
	return nil
}

// Find returns the worktree for taskID, if one is registered.
func (m *Manager) Find(ctx context.Context, taskID string) (*Worktree, bool, error) {
	worktrees, err := m.List(ctx)
	if err != nil {
		return nil, false, err
	}
	for i := range worktrees {
		if worktrees[i].TaskID == taskID {
			return &worktrees[i], true, nil
		}
	}
	return nil, false, nil
}

// List returns all worktrees in the repository, including the main one.
// TaskID is set for worktrees on task branches.
func (m *Manager) List(ctx context.Context) ([]Worktree, error) {
	output, err := git(ctx, m.config.RepoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}
	return parseWorktreeList(output), nil
}

func parseWorktreeList(output string) []Worktree {
	var worktrees []Worktree
	var current Worktree

	flush := func() {
		if current.Path != "" {
			worktrees = append(worktrees, current)
		}
		current = Worktree{}
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
			if id, ok := strings.CutPrefix(current.Branch, BranchPrefix); ok {
				current.TaskID = id
			}
		}
	}
	flush()

	return worktrees
}

// Prune cleans up metadata for worktrees whose directories are gone.
func (m *Manager) Prune(ctx context.Context) error {
	if _, err := git(ctx, m.config.RepoPath, "worktree", "prune"); err != nil {
		return fmt.Errorf("failed to prune worktrees: %w", err)
	}
	return nil
}
