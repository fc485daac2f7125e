package db

import (
	"context"
	"fmt"
	"strings"
)

// schemaStatements is the idempotent DDL run at every boot. Every statement
// uses IF NOT EXISTS so a second run is a no-op. %s is the chat history
// schema name.
var schemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS %[1]s`,

	`CREATE TABLE IF NOT EXISTS %[1]s.chat_sessions (
		session_id UUID PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT 'web_user',
		preview TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_message_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_sessions_last_message
		ON %[1]s.chat_sessions (last_message_at DESC NULLS LAST)`,

	`CREATE TABLE IF NOT EXISTS %[1]s.chat_messages (
		message_id UUID PRIMARY KEY,
		session_id UUID NOT NULL REFERENCES %[1]s.chat_sessions(session_id),
		role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
		content TEXT NOT NULL,
		agent_name TEXT,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_session_time
		ON %[1]s.chat_messages (session_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS projects (
		project_id UUID PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS tasks (
		task_id UUID PRIMARY KEY,
		project_id UUID REFERENCES projects(project_id),
		title TEXT NOT NULL,
		description TEXT,
		status TEXT NOT NULL DEFAULT 'backlog',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_project_status
		ON tasks (project_id, status)`,

	`CREATE TABLE IF NOT EXISTS scheduled_tasks (
		task_id UUID PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		cron_expression TEXT NOT NULL,
		prompt TEXT NOT NULL,
		description TEXT,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_run_at TIMESTAMPTZ,
		run_count BIGINT NOT NULL DEFAULT 0,
		last_result TEXT,
		metadata JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_enabled
		ON scheduled_tasks (enabled)`,

	`CREATE TABLE IF NOT EXISTS reminders (
		reminder_id UUID PRIMARY KEY,
		message TEXT NOT NULL,
		remind_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'completed', 'cancelled')),
		delivered BOOLEAN NOT NULL DEFAULT FALSE,
		session_id UUID,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ,
		result TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reminders_pending
		ON reminders (remind_at) WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_reminders_undelivered
		ON reminders (completed_at) WHERE status = 'completed' AND delivered = FALSE`,

	`CREATE TABLE IF NOT EXISTS webhook_definitions (
		webhook_id UUID PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		path_suffix TEXT NOT NULL UNIQUE,
		prompt_template TEXT NOT NULL,
		secret TEXT,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		trigger_count BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_triggered_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_definitions_path
		ON webhook_definitions (path_suffix)`,

	`CREATE TABLE IF NOT EXISTS pending_scheduler_results (
		result_id UUID PRIMARY KEY,
		task_name TEXT NOT NULL,
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		session_id TEXT,
		delivered BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pending_results_undelivered
		ON pending_scheduler_results (created_at) WHERE delivered = FALSE`,

	`CREATE TABLE IF NOT EXISTS config_overrides (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// InitSchema creates all tables and indexes if absent. Safe to run on every
// boot; running it twice leaves the database unchanged.
func (d *DB) InitSchema(ctx context.Context, chatSchema string) error {
	if chatSchema == "" {
		chatSchema = "radbot_chathistory"
	}
	for _, stmt := range schemaStatements {
		sql := stmt
		if strings.Contains(stmt, "%[1]s") {
			sql = fmt.Sprintf(stmt, chatSchema)
		}
		if _, err := d.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("schema init: %w", err)
		}
	}
	return nil
}

// LoadConfigOverrides reads the config_overrides table into a map. Used at
// boot to apply DB-level overrides on top of file/env configuration.
func (d *DB) LoadConfigOverrides(ctx context.Context) (map[string]string, error) {
	rows, err := d.pool.Query(ctx, `SELECT key, value FROM config_overrides`)
	if err != nil {
		return nil, fmt.Errorf("load config overrides: %w", err)
	}
	defer rows.Close()

	overrides := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan config override: %w", err)
		}
		overrides[key] = value
	}
	return overrides, rows.Err()
}
