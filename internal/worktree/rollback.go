package worktree

import (
	"context"

	"github.com/aristath/taskengine/internal/recovery"
)

// RollbackHook discards a failed task's worktree and branch. It reports
// false when the task has no worktree to discard.
func RollbackHook(m *Manager) recovery.RollbackHook {
	return func(ctx context.Context, taskID string) (bool, error) {
		wt, ok, err := m.Find(ctx, taskID)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		if err := m.ForceCleanup(ctx, wt); err != nil {
			return false, err
		}
		return true, nil
	}
}
