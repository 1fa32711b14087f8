package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/taskengine/internal/scheduler"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const taskColumns = `id, seq, name, description, priority, status, executor_type, max_retries, retry_count,
	result, last_error, rolled_back, retry_pending, duration_ns, created_at, started_at, completed_at`

// SaveTask saves or updates a task, its dependencies and status history.
// Dependencies must already be stored.
func (s *SQLiteStore) SaveTask(ctx context.Context, task *scheduler.Task) error {
	// Begin transaction with serializable isolation (BEGIN IMMEDIATE)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertTask(ctx, tx, task); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?`, task.ID); err != nil {
		return fmt.Errorf("failed to delete old dependencies: %w", err)
	}
	for _, depID := range task.Dependencies {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, depID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("foreign key constraint failed: dependency task %s does not exist", depID)
		}
		if err != nil {
			return fmt.Errorf("failed to check dependency existence: %w", err)
		}
	}
	if err := insertDependencies(ctx, tx, task); err != nil {
		return err
	}
	if err := replaceHistory(ctx, tx, task); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID, including its dependencies and history.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*scheduler.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task: %w", err)
	}

	byID := map[string]*scheduler.Task{task.ID: task}
	if err := loadDependencies(ctx, s.db, byID, taskID); err != nil {
		return nil, err
	}
	if err := loadHistory(ctx, s.db, byID, taskID); err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks returns all tasks in creation order.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*scheduler.Task, error) {
	return listTasks(ctx, s.db)
}

func listTasks(ctx context.Context, q queryer) ([]*scheduler.Task, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	var tasks []*scheduler.Task
	byID := make(map[string]*scheduler.Task)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
		byID[task.ID] = task
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	// Close before the follow-up queries; the pool has one connection
	rows.Close()

	if err := loadDependencies(ctx, q, byID, ""); err != nil {
		return nil, err
	}
	if err := loadHistory(ctx, q, byID, ""); err != nil {
		return nil, err
	}
	return tasks, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*scheduler.Task, error) {
	task := &scheduler.Task{}
	var (
		status                 string
		priority               int
		rolledBack, retryPend  int
		durationNS             int64
		createdAt              string
		startedAt, completedAt sql.NullString
	)

	err := row.Scan(&task.ID, &task.Sequence, &task.Name, &task.Description, &priority, &status,
		&task.ExecutorType, &task.MaxRetries, &task.RetryCount, &task.Result, &task.LastError,
		&rolledBack, &retryPend, &durationNS, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if task.Status, err = scheduler.ParseStatus(status); err != nil {
		return nil, err
	}
	task.Priority = scheduler.Priority(priority)
	task.RolledBack = rolledBack != 0
	task.RetryPending = retryPend != 0
	task.Duration = time.Duration(durationNS)
	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if task.StartedAt, err = parseNullTime(startedAt); err != nil {
		return nil, err
	}
	if task.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	return task, nil
}

func upsertTask(ctx context.Context, q queryer, task *scheduler.Task) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			seq = excluded.seq,
			name = excluded.name,
			description = excluded.description,
			priority = excluded.priority,
			status = excluded.status,
			executor_type = excluded.executor_type,
			max_retries = excluded.max_retries,
			retry_count = excluded.retry_count,
			result = excluded.result,
			last_error = excluded.last_error,
			rolled_back = excluded.rolled_back,
			retry_pending = excluded.retry_pending,
			duration_ns = excluded.duration_ns,
			created_at = excluded.created_at,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			updated_at = CURRENT_TIMESTAMP
	`, task.ID, task.Sequence, task.Name, task.Description, int(task.Priority), task.Status.String(),
		task.ExecutorType, task.MaxRetries, task.RetryCount, task.Result, task.LastError,
		boolInt(task.RolledBack), boolInt(task.RetryPending), int64(task.Duration),
		formatTime(task.CreatedAt), formatNullTime(task.StartedAt), formatNullTime(task.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", task.ID, err)
	}
	return nil
}

func insertDependencies(ctx context.Context, q queryer, task *scheduler.Task) error {
	for i, depID := range task.Dependencies {
		_, err := q.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, depends_on_id, position)
			VALUES (?, ?, ?)
		`, task.ID, depID, i)
		if err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", task.ID, depID, err)
		}
	}
	return nil
}

func replaceHistory(ctx context.Context, q queryer, task *scheduler.Task) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM task_status_history WHERE task_id = ?`, task.ID); err != nil {
		return fmt.Errorf("failed to delete old history: %w", err)
	}
	for i, change := range task.StatusHistory {
		_, err := q.ExecContext(ctx, `
			INSERT INTO task_status_history (task_id, position, status, at)
			VALUES (?, ?, ?, ?)
		`, task.ID, i, change.Status.String(), formatTime(change.At))
		if err != nil {
			return fmt.Errorf("failed to insert history for %s: %w", task.ID, err)
		}
	}
	return nil
}

// loadDependencies fills Dependencies for tasks in byID. An empty taskID
// loads every row.
func loadDependencies(ctx context.Context, q queryer, byID map[string]*scheduler.Task, taskID string) error {
	query := `SELECT task_id, depends_on_id FROM task_dependencies`
	var args []any
	if taskID != "" {
		query += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY task_id, position`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, depID string
		if err := rows.Scan(&id, &depID); err != nil {
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		if task, ok := byID[id]; ok {
			task.Dependencies = append(task.Dependencies, depID)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating dependencies: %w", err)
	}
	return nil
}

func loadHistory(ctx context.Context, q queryer, byID map[string]*scheduler.Task, taskID string) error {
	query := `SELECT task_id, status, at FROM task_status_history`
	var args []any
	if taskID != "" {
		query += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY task_id, position`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, status, at string
		if err := rows.Scan(&id, &status, &at); err != nil {
			return fmt.Errorf("failed to scan history: %w", err)
		}
		task, ok := byID[id]
		if !ok {
			continue
		}
		st, err := scheduler.ParseStatus(status)
		if err != nil {
			return err
		}
		ts, err := parseTime(at)
		if err != nil {
			return err
		}
		task.StatusHistory = append(task.StatusHistory, scheduler.StatusChange{Status: st, At: ts})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating history: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
