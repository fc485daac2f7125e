package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/perrymanuk/radbot/internal/db"
)

// Store bundles all DAOs over one database.
type Store struct {
	db         *db.DB
	chatSchema string
}

// New creates a Store. chatSchema is the Postgres schema holding the chat
// history tables.
func New(database *db.DB, chatSchema string) *Store {
	if chatSchema == "" {
		chatSchema = "radbot_chathistory"
	}
	return &Store{db: database, chatSchema: chatSchema}
}

// chatTable qualifies a chat history table with its schema.
func (s *Store) chatTable(name string) string {
	return s.chatSchema + "." + name
}

// mapRowErr converts pgx.ErrNoRows into ErrNotFound and annotates everything
// else.
func mapRowErr(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// marshalMeta serializes optional metadata for a JSONB column. Nil maps
// become SQL NULL.
func marshalMeta(m map[string]any) (any, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}

// unmarshalMeta deserializes a JSONB column into a map, tolerating NULL.
func unmarshalMeta(raw []byte) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
