package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aristath/taskengine/internal/recovery"
	"github.com/aristath/taskengine/internal/scheduler"
)

// SaveSnapshot replaces the stored state with snap in one transaction.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap scheduler.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"task_status_history", "task_dependencies", "recovery_records", "tasks"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	// All task rows first so dependency foreign keys resolve
	for i := range snap.Tasks {
		if err := upsertTask(ctx, tx, &snap.Tasks[i]); err != nil {
			return err
		}
	}
	for i := range snap.Tasks {
		if err := insertDependencies(ctx, tx, &snap.Tasks[i]); err != nil {
			return err
		}
		if err := replaceHistory(ctx, tx, &snap.Tasks[i]); err != nil {
			return err
		}
	}

	for taskID, rec := range snap.Recovery {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO recovery_records (task_id, failure_count, retry_count, rollback_count, last_error, last_action)
			VALUES (?, ?, ?, ?, ?, ?)
		`, taskID, rec.FailureCount, rec.RetryCount, rec.RollbackCount, rec.LastError, string(rec.LastAction))
		if err != nil {
			return fmt.Errorf("failed to insert recovery record %s: %w", taskID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO checkpoints (id, taken_at, task_count) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET taken_at = excluded.taken_at, task_count = excluded.task_count
	`, formatTime(snap.TakenAt), len(snap.Tasks))
	if err != nil {
		return fmt.Errorf("failed to record checkpoint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadSnapshot returns the last saved snapshot. ok is false when no
// checkpoint has been written yet.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (snap scheduler.Snapshot, ok bool, err error) {
	var takenAt string
	err = s.db.QueryRowContext(ctx, `SELECT taken_at FROM checkpoints WHERE id = 1`).Scan(&takenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return scheduler.Snapshot{}, false, nil
	}
	if err != nil {
		return scheduler.Snapshot{}, false, fmt.Errorf("failed to query checkpoint: %w", err)
	}
	if snap.TakenAt, err = parseTime(takenAt); err != nil {
		return scheduler.Snapshot{}, false, err
	}

	tasks, err := listTasks(ctx, s.db)
	if err != nil {
		return scheduler.Snapshot{}, false, err
	}
	snap.Tasks = make([]scheduler.Task, len(tasks))
	for i, task := range tasks {
		snap.Tasks[i] = *task
	}

	snap.Recovery, err = s.loadRecords(ctx)
	if err != nil {
		return scheduler.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *SQLiteStore) loadRecords(ctx context.Context) (map[string]recovery.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, failure_count, retry_count, rollback_count, last_error, last_action
		FROM recovery_records
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query recovery records: %w", err)
	}
	defer rows.Close()

	records := make(map[string]recovery.Record)
	for rows.Next() {
		var id, action string
		var rec recovery.Record
		if err := rows.Scan(&id, &rec.FailureCount, &rec.RetryCount, &rec.RollbackCount, &rec.LastError, &action); err != nil {
			return nil, fmt.Errorf("failed to scan recovery record: %w", err)
		}
		rec.LastAction = recovery.Action(action)
		records[id] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recovery records: %w", err)
	}
	return records, nil
}
