package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	var agentName *string
	var meta []byte
	err := row.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &agentName,
		&meta, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if agentName != nil {
		m.AgentName = *agentName
	}
	m.Metadata = unmarshalMeta(meta)
	return &m, nil
}

const messageColumns = `message_id, session_id, role, content, agent_name, metadata, created_at`

// AddMessage appends one message and bumps the session's last-message
// timestamp in the same transaction.
func (s *Store) AddMessage(ctx context.Context, m *Message) (uuid.UUID, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	meta, err := marshalMeta(m.Metadata)
	if err != nil {
		return uuid.Nil, err
	}
	var agentName *string
	if m.AgentName != "" {
		agentName = &m.AgentName
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("add message: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (message_id, session_id, role, content, agent_name, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`, s.chatTable("chat_messages")),
		m.ID, m.SessionID, m.Role, m.Content, agentName, meta, m.CreatedAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("add message: %w", err)
	}

	preview := m.Content
	const previewLimit = 120
	if len(preview) > previewLimit {
		preview = preview[:previewLimit]
	}
	_, err = tx.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET last_message_at = $2, preview = $3 WHERE session_id = $1`,
		s.chatTable("chat_sessions")), m.SessionID, m.CreatedAt, preview)
	if err != nil {
		return uuid.Nil, fmt.Errorf("add message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("add message: %w", err)
	}
	return m.ID, nil
}

// AddMessages appends a batch of messages atomically.
func (s *Store) AddMessages(ctx context.Context, sessionID uuid.UUID, msgs []*Message) ([]uuid.UUID, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("add messages: %w", err)
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, len(msgs))
	now := time.Now().UTC()
	for _, m := range msgs {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.SessionID = sessionID
		meta, err := marshalMeta(m.Metadata)
		if err != nil {
			return nil, err
		}
		var agentName *string
		if m.AgentName != "" {
			agentName = &m.AgentName
		}
		_, err = tx.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s (message_id, session_id, role, content, agent_name, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`, s.chatTable("chat_messages")),
			m.ID, m.SessionID, m.Role, m.Content, agentName, meta, m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("add messages: %w", err)
		}
		ids = append(ids, m.ID)
	}

	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		preview := last.Content
		if len(preview) > 120 {
			preview = preview[:120]
		}
		_, err = tx.Exec(ctx, fmt.Sprintf(
			`UPDATE %s SET last_message_at = $2, preview = $3 WHERE session_id = $1`,
			s.chatTable("chat_sessions")), sessionID, last.CreatedAt, preview)
		if err != nil {
			return nil, fmt.Errorf("add messages: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("add messages: %w", err)
	}
	return ids, nil
}

// ListMessages returns a page of messages in chronological order plus the
// total count for the session.
func (s *Store) ListMessages(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	if limit <= 0 {
		limit = 200
	}

	var total int
	err := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT count(*) FROM %s WHERE session_id = $1`,
		s.chatTable("chat_messages")), sessionID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM %s WHERE session_id = $1
		 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		messageColumns, s.chatTable("chat_messages")), sessionID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, total, rows.Err()
}

// RecentMessages returns the last n messages in chronological order. Used
// for history replay into a fresh runtime session.
func (s *Store) RecentMessages(ctx context.Context, sessionID uuid.UUID, n int) ([]*Message, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM (
			SELECT %s FROM %s WHERE session_id = $1
			ORDER BY created_at DESC LIMIT $2
		 ) recent ORDER BY created_at ASC`,
		messageColumns, messageColumns, s.chatTable("chat_messages")), sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountMessages returns the message count for a session.
func (s *Store) CountMessages(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var total int
	err := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT count(*) FROM %s WHERE session_id = $1`,
		s.chatTable("chat_messages")), sessionID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return total, nil
}
