package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL,
		status TEXT NOT NULL,
		executor_type TEXT NOT NULL,
		max_retries INTEGER NOT NULL,
		retry_count INTEGER NOT NULL,
		result TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		rolled_back INTEGER NOT NULL DEFAULT 0,
		retry_pending INTEGER NOT NULL DEFAULT 0,
		duration_ns INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_seq ON tasks(seq);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (task_id, depends_on_id),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE,
		FOREIGN KEY (depends_on_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_task_dependencies_task_id ON task_dependencies(task_id);

	CREATE TABLE IF NOT EXISTS task_status_history (
		task_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		status TEXT NOT NULL,
		at TEXT NOT NULL,
		PRIMARY KEY (task_id, position),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS recovery_records (
		task_id TEXT PRIMARY KEY,
		failure_count INTEGER NOT NULL,
		retry_count INTEGER NOT NULL,
		rollback_count INTEGER NOT NULL,
		last_error TEXT NOT NULL DEFAULT '',
		last_action TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		taken_at TEXT NOT NULL,
		task_count INTEGER NOT NULL
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
