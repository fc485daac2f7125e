package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	var description *string
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &description, &t.Status,
		&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if description != nil {
		t.Description = *description
	}
	return &t, nil
}

const taskColumns = `task_id, project_id, title, description, status, created_at, updated_at`

// CreateTask inserts a project task.
func (s *Store) CreateTask(ctx context.Context, t *Task) (*Task, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = "backlog"
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO tasks (task_id, project_id, title, description, status)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5)`,
		t.ID, t.ProjectID, t.Title, t.Description, t.Status)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return s.GetTask(ctx, t.ID)
}

// GetTask fetches one task by id.
func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*Task, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM tasks WHERE task_id = $1`, taskColumns), id)
	t, err := scanTask(row)
	if err != nil {
		return nil, mapRowErr(err, "get task")
	}
	return t, nil
}

// ListTasks returns tasks filtered by project and status (either may be
// empty).
func (s *Store) ListTasks(ctx context.Context, projectID *uuid.UUID, status string) ([]*Task, error) {
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE 1=1`, taskColumns)
	var args []any
	if projectID != nil {
		args = append(args, *projectID)
		query += fmt.Sprintf(` AND project_id = $%d`, len(args))
	}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTaskStatus moves a task to a new status.
func (s *Store) UpdateTaskStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE tasks SET status = $2, updated_at = now() WHERE task_id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update task status: %w", ErrNotFound)
	}
	return nil
}

// DeleteTask removes a task.
func (s *Store) DeleteTask(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM tasks WHERE task_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete task: %w", ErrNotFound)
	}
	return nil
}
