package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func scanScheduledTask(row pgx.Row) (*ScheduledTask, error) {
	var t ScheduledTask
	var description, lastResult *string
	var meta []byte
	err := row.Scan(&t.ID, &t.Name, &t.CronExpr, &t.Prompt, &description,
		&t.Enabled, &t.CreatedAt, &t.UpdatedAt, &t.LastRunAt, &t.RunCount,
		&lastResult, &meta)
	if err != nil {
		return nil, err
	}
	if description != nil {
		t.Description = *description
	}
	if lastResult != nil {
		t.LastResult = *lastResult
	}
	t.Metadata = unmarshalMeta(meta)
	return &t, nil
}

const scheduledTaskColumns = `task_id, name, cron_expression, prompt, description,
	enabled, created_at, updated_at, last_run_at, run_count, last_result, metadata`

// CreateScheduledTask inserts a new task. Names are unique.
func (s *Store) CreateScheduledTask(ctx context.Context, t *ScheduledTask) (*ScheduledTask, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	meta, err := marshalMeta(t.Metadata)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO scheduled_tasks (task_id, name, cron_expression, prompt, description, enabled, metadata)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)`,
		t.ID, t.Name, t.CronExpr, t.Prompt, t.Description, t.Enabled, meta)
	if err != nil {
		return nil, fmt.Errorf("create scheduled task: %w", err)
	}
	return s.GetScheduledTask(ctx, t.ID)
}

// GetScheduledTask fetches one task by id.
func (s *Store) GetScheduledTask(ctx context.Context, id uuid.UUID) (*ScheduledTask, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM scheduled_tasks WHERE task_id = $1`, scheduledTaskColumns), id)
	t, err := scanScheduledTask(row)
	if err != nil {
		return nil, mapRowErr(err, "get scheduled task")
	}
	return t, nil
}

// ListScheduledTasks returns all tasks; enabledOnly restricts to enabled.
func (s *Store) ListScheduledTasks(ctx context.Context, enabledOnly bool) ([]*ScheduledTask, error) {
	query := fmt.Sprintf(`SELECT %s FROM scheduled_tasks`, scheduledTaskColumns)
	if enabledOnly {
		query += ` WHERE enabled = TRUE`
	}
	query += ` ORDER BY name`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list scheduled tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*ScheduledTask
	for rows.Next() {
		t, err := scanScheduledTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// DeleteScheduledTask removes a task.
func (s *Store) DeleteScheduledTask(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM scheduled_tasks WHERE task_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete scheduled task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete scheduled task: %w", ErrNotFound)
	}
	return nil
}

// RecordTaskRun bumps run_count, sets last_run_at, and stores the result
// (caller truncates).
func (s *Store) RecordTaskRun(ctx context.Context, id uuid.UUID, result string, at time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE scheduled_tasks
		 SET last_run_at = $2, run_count = run_count + 1, last_result = $3, updated_at = now()
		 WHERE task_id = $1`,
		id, at.UTC(), result)
	if err != nil {
		return fmt.Errorf("record task run: %w", err)
	}
	return nil
}

// SetScheduledTaskEnabled flips the enabled flag.
func (s *Store) SetScheduledTaskEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE scheduled_tasks SET enabled = $2, updated_at = now() WHERE task_id = $1`,
		id, enabled)
	if err != nil {
		return fmt.Errorf("set scheduled task enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set scheduled task enabled: %w", ErrNotFound)
	}
	return nil
}
