package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.Name, &s.UserID, &s.Preview, &s.Active,
		&s.CreatedAt, &s.LastMessageAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

const sessionColumns = `session_id, name, user_id, preview, active, created_at, last_message_at`

// EnsureSession inserts a session row if absent and returns the row either
// way. Used by the session runner bootstrap.
func (s *Store) EnsureSession(ctx context.Context, id uuid.UUID, name, userID string) (*Session, error) {
	if userID == "" {
		userID = DefaultUserID
	}
	_, err := s.db.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (session_id, name, user_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_id) DO NOTHING`, s.chatTable("chat_sessions")),
		id, name, userID)
	if err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}
	return s.GetSession(ctx, id)
}

// GetSession fetches one session by id.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE session_id = $1`,
		sessionColumns, s.chatTable("chat_sessions")), id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, mapRowErr(err, "get session")
	}
	return sess, nil
}

// ListSessions returns all active sessions, most recently used first.
func (s *Store) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE active = TRUE
		 ORDER BY last_message_at DESC NULLS LAST, created_at DESC`,
		sessionColumns, s.chatTable("chat_sessions")))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// RenameSession updates a session's display name.
func (s *Store) RenameSession(ctx context.Context, id uuid.UUID, name string) (*Session, error) {
	tag, err := s.db.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET name = $2 WHERE session_id = $1`,
		s.chatTable("chat_sessions")), id, name)
	if err != nil {
		return nil, fmt.Errorf("rename session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("rename session: %w", ErrNotFound)
	}
	return s.GetSession(ctx, id)
}

// DeactivateSession soft-deletes a session. History is retained.
func (s *Store) DeactivateSession(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET active = FALSE WHERE session_id = $1`,
		s.chatTable("chat_sessions")), id)
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deactivate session: %w", ErrNotFound)
	}
	return nil
}

// TouchSession updates the last-message timestamp and preview text.
func (s *Store) TouchSession(ctx context.Context, id uuid.UUID, preview string, at time.Time) error {
	const previewLimit = 120
	if len(preview) > previewLimit {
		preview = preview[:previewLimit]
	}
	_, err := s.db.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET last_message_at = $2, preview = $3 WHERE session_id = $1`,
		s.chatTable("chat_sessions")), id, at.UTC(), preview)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}
