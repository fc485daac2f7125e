package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func scanPendingResult(row pgx.Row) (*PendingResult, error) {
	var p PendingResult
	var sessionID *string
	err := row.Scan(&p.ID, &p.TaskName, &p.Prompt, &p.Response, &sessionID,
		&p.Delivered, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if sessionID != nil {
		p.SessionID = *sessionID
	}
	return &p, nil
}

const pendingResultColumns = `result_id, task_name, prompt, response, session_id, delivered, created_at`

// QueuePendingResult stores a scheduled-task result produced while no
// client was connected.
func (s *Store) QueuePendingResult(ctx context.Context, p *PendingResult) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO pending_scheduler_results (result_id, task_name, prompt, response, session_id)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''))`,
		p.ID, p.TaskName, p.Prompt, p.Response, p.SessionID)
	if err != nil {
		return fmt.Errorf("queue pending result: %w", err)
	}
	return nil
}

// UndeliveredResults returns queued results not yet replayed, oldest first.
func (s *Store) UndeliveredResults(ctx context.Context) ([]*PendingResult, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM pending_scheduler_results
		 WHERE delivered = FALSE ORDER BY created_at`, pendingResultColumns))
	if err != nil {
		return nil, fmt.Errorf("undelivered results: %w", err)
	}
	defer rows.Close()

	var results []*PendingResult
	for rows.Next() {
		p, err := scanPendingResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending result: %w", err)
		}
		results = append(results, p)
	}
	return results, rows.Err()
}

// MarkResultDelivered flags a queued result as replayed.
func (s *Store) MarkResultDelivered(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE pending_scheduler_results SET delivered = TRUE WHERE result_id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark result delivered: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark result delivered: %w", ErrNotFound)
	}
	return nil
}
