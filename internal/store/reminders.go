package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func scanReminder(row pgx.Row) (*Reminder, error) {
	var r Reminder
	var result *string
	err := row.Scan(&r.ID, &r.Message, &r.RemindAt, &r.Status, &r.Delivered,
		&r.SessionID, &r.CreatedAt, &r.CompletedAt, &result)
	if err != nil {
		return nil, err
	}
	if result != nil {
		r.Result = *result
	}
	return &r, nil
}

const reminderColumns = `reminder_id, message, remind_at, status, delivered,
	session_id, created_at, completed_at, result`

// CreateReminder inserts a pending reminder. Naive remind_at values are
// treated as UTC by the caller before they get here.
func (s *Store) CreateReminder(ctx context.Context, r *Reminder) (*Reminder, error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO reminders (reminder_id, message, remind_at, status, session_id)
		 VALUES ($1, $2, $3, 'pending', $4)`,
		r.ID, r.Message, r.RemindAt.UTC(), r.SessionID)
	if err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}
	return s.GetReminder(ctx, r.ID)
}

// GetReminder fetches one reminder by id.
func (s *Store) GetReminder(ctx context.Context, id uuid.UUID) (*Reminder, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM reminders WHERE reminder_id = $1`, reminderColumns), id)
	r, err := scanReminder(row)
	if err != nil {
		return nil, mapRowErr(err, "get reminder")
	}
	return r, nil
}

// ListReminders returns reminders, optionally filtered by status.
func (s *Store) ListReminders(ctx context.Context, status string) ([]*Reminder, error) {
	query := fmt.Sprintf(`SELECT %s FROM reminders`, reminderColumns)
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY remind_at`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	var reminders []*Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

// PendingReminders returns all pending reminders, earliest first.
func (s *Store) PendingReminders(ctx context.Context) ([]*Reminder, error) {
	return s.ListReminders(ctx, ReminderPending)
}

// UndeliveredReminders returns completed reminders not yet shown to a
// client.
func (s *Store) UndeliveredReminders(ctx context.Context) ([]*Reminder, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM reminders
		 WHERE status = 'completed' AND delivered = FALSE
		 ORDER BY completed_at`, reminderColumns))
	if err != nil {
		return nil, fmt.Errorf("undelivered reminders: %w", err)
	}
	defer rows.Close()

	var reminders []*Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

// CompleteReminder moves a pending reminder to completed. The WHERE clause
// enforces the only legal forward transition; completing a cancelled or
// already-completed reminder is a not-found.
func (s *Store) CompleteReminder(ctx context.Context, id uuid.UUID, result string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE reminders
		 SET status = 'completed', completed_at = $2, result = NULLIF($3, '')
		 WHERE reminder_id = $1 AND status = 'pending'`,
		id, time.Now().UTC(), result)
	if err != nil {
		return fmt.Errorf("complete reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("complete reminder: %w", ErrNotFound)
	}
	return nil
}

// MarkReminderDelivered flags a completed reminder as delivered.
func (s *Store) MarkReminderDelivered(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE reminders SET delivered = TRUE
		 WHERE reminder_id = $1 AND status = 'completed'`, id)
	if err != nil {
		return fmt.Errorf("mark reminder delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark reminder delivered: %w", ErrNotFound)
	}
	return nil
}

// CancelReminder moves a pending reminder to cancelled.
func (s *Store) CancelReminder(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE reminders SET status = 'cancelled'
		 WHERE reminder_id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("cancel reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("cancel reminder: %w", ErrNotFound)
	}
	return nil
}

// DeleteReminder removes a reminder outright.
func (s *Store) DeleteReminder(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM reminders WHERE reminder_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete reminder: %w", ErrNotFound)
	}
	return nil
}
