package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func scanWebhook(row pgx.Row) (*Webhook, error) {
	var w Webhook
	var secret *string
	err := row.Scan(&w.ID, &w.Name, &w.PathSuffix, &w.PromptTemplate, &secret,
		&w.Enabled, &w.TriggerCount, &w.CreatedAt, &w.LastTriggeredAt)
	if err != nil {
		return nil, err
	}
	if secret != nil {
		w.Secret = *secret
	}
	return &w, nil
}

const webhookColumns = `webhook_id, name, path_suffix, prompt_template, secret,
	enabled, trigger_count, created_at, last_triggered_at`

// CreateWebhook inserts a webhook definition. Name and path suffix are
// unique; the path suffix is case-sensitive.
func (s *Store) CreateWebhook(ctx context.Context, w *Webhook) (*Webhook, error) {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO webhook_definitions (webhook_id, name, path_suffix, prompt_template, secret, enabled)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
		w.ID, w.Name, w.PathSuffix, w.PromptTemplate, w.Secret, w.Enabled)
	if err != nil {
		return nil, fmt.Errorf("create webhook: %w", err)
	}
	return s.GetWebhook(ctx, w.ID)
}

// GetWebhook fetches one webhook by id.
func (s *Store) GetWebhook(ctx context.Context, id uuid.UUID) (*Webhook, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM webhook_definitions WHERE webhook_id = $1`, webhookColumns), id)
	w, err := scanWebhook(row)
	if err != nil {
		return nil, mapRowErr(err, "get webhook")
	}
	return w, nil
}

// GetWebhookByPath fetches an enabled webhook by its path suffix. The
// lookup is case-sensitive.
func (s *Store) GetWebhookByPath(ctx context.Context, pathSuffix string) (*Webhook, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM webhook_definitions
		 WHERE path_suffix = $1 AND enabled = TRUE`, webhookColumns), pathSuffix)
	w, err := scanWebhook(row)
	if err != nil {
		return nil, mapRowErr(err, "get webhook by path")
	}
	return w, nil
}

// ListWebhooks returns all webhook definitions.
func (s *Store) ListWebhooks(ctx context.Context) ([]*Webhook, error) {
	rows, err := s.db.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM webhook_definitions ORDER BY name`, webhookColumns))
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []*Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

// DeleteWebhook removes a webhook definition.
func (s *Store) DeleteWebhook(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM webhook_definitions WHERE webhook_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete webhook: %w", ErrNotFound)
	}
	return nil
}

// RecordWebhookTrigger bumps the trigger count and timestamp.
func (s *Store) RecordWebhookTrigger(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`UPDATE webhook_definitions
		 SET trigger_count = trigger_count + 1, last_triggered_at = $2
		 WHERE webhook_id = $1`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record webhook trigger: %w", err)
	}
	return nil
}
