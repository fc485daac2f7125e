// Package store provides data access for sessions, messages, scheduled
// tasks, reminders, webhooks, and the pending-result queue.
package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DefaultUserID is the shared user namespace of the default deployment.
const DefaultUserID = "web_user"

// Session is a chat session row.
type Session struct {
	ID            uuid.UUID  `json:"session_id"`
	Name          string     `json:"name"`
	UserID        string     `json:"user_id"`
	Preview       string     `json:"preview"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

// Message is one chat message. Messages are append-only.
type Message struct {
	ID        uuid.UUID      `json:"message_id"`
	SessionID uuid.UUID      `json:"session_id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	AgentName string         `json:"agent_name,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Roles for Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ScheduledTask is a cron-triggered recurring prompt.
type ScheduledTask struct {
	ID          uuid.UUID      `json:"task_id"`
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expression"`
	Prompt      string         `json:"prompt"`
	Description string         `json:"description,omitempty"`
	Enabled     bool           `json:"enabled"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	LastRunAt   *time.Time     `json:"last_run_at,omitempty"`
	RunCount    int64          `json:"run_count"`
	LastResult  string         `json:"last_result,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Reminder statuses. Valid transitions are pending -> completed ->
// delivered, or pending -> cancelled.
const (
	ReminderPending   = "pending"
	ReminderCompleted = "completed"
	ReminderCancelled = "cancelled"
)

// Reminder is a one-shot time-triggered notification.
type Reminder struct {
	ID          uuid.UUID  `json:"reminder_id"`
	Message     string     `json:"message"`
	RemindAt    time.Time  `json:"remind_at"`
	Status      string     `json:"status"`
	Delivered   bool       `json:"delivered"`
	SessionID   *uuid.UUID `json:"session_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      string     `json:"result,omitempty"`
}

// Webhook is an HTTP-triggered prompt definition. Secret is write-only over
// the API; list responses mask it.
type Webhook struct {
	ID              uuid.UUID  `json:"webhook_id"`
	Name            string     `json:"name"`
	PathSuffix      string     `json:"path_suffix"`
	PromptTemplate  string     `json:"prompt_template"`
	Secret          string     `json:"-"`
	Enabled         bool       `json:"enabled"`
	TriggerCount    int64      `json:"trigger_count"`
	CreatedAt       time.Time  `json:"created_at"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
}

// PendingResult is a scheduled-task result queued while no client was
// connected, replayed on the next connection.
type PendingResult struct {
	ID        uuid.UUID `json:"result_id"`
	TaskName  string    `json:"task_name"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	SessionID string    `json:"session_id,omitempty"`
	Delivered bool      `json:"delivered"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is a project task row, exposed to the agent through local tools.
type Task struct {
	ID          uuid.UUID  `json:"task_id"`
	ProjectID   *uuid.UUID `json:"project_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
