// Package scheduler runs cron-scheduled tasks and one-shot reminders,
// feeding their prompts through the agent pipeline and replaying results
// that fired while no client was connected.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/perrymanuk/radbot/internal/common/logger"
	"github.com/perrymanuk/radbot/internal/push"
	"github.com/perrymanuk/radbot/internal/sanitize"
	"github.com/perrymanuk/radbot/internal/session"
	"github.com/perrymanuk/radbot/internal/store"
)

// OfflineSessionName is the synthetic session scheduled work runs in when
// no client is connected.
const OfflineSessionName = "scheduler-offline"

// reminderJobPrefix namespaces reminder job ids next to task ids.
const reminderJobPrefix = "reminder_"

// ConnectionManager is the WebSocket surface the engine talks to.
type ConnectionManager interface {
	BroadcastToSession(sessionID string, payload []byte)
	BroadcastToAllSessions(payload []byte) int
	HasConnections() bool
	AnySessionID() (string, bool)
}

// SessionManager hands out session runners.
type SessionManager interface {
	GetOrCreate(ctx context.Context, sessionID uuid.UUID) (*session.Runner, error)
}

// Engine is the process-wide scheduler.
type Engine struct {
	st        *store.Store
	sanitizer *sanitize.Sanitizer
	notifier  push.Provider
	log       *logger.Logger

	resultCap   int
	pushBodyCap int

	cron       *cron.Cron
	cronParser cron.Parser

	mu          sync.Mutex
	cronEntries map[string]cron.EntryID
	reminders   map[string]*reminderJob
	connMgr     ConnectionManager
	sessions    SessionManager
	started     bool
}

type reminderJob struct {
	timer    *time.Timer
	remindAt time.Time
}

var (
	instanceMu sync.Mutex
	instance   *Engine
)

// CreateInstance builds the singleton. Calling it twice returns the
// existing instance.
func CreateInstance(st *store.Store, sanitizer *sanitize.Sanitizer, notifier push.Provider,
	resultCap, pushBodyCap int, log *logger.Logger) *Engine {

	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil {
		return instance
	}
	if resultCap <= 0 {
		resultCap = 4096
	}
	if pushBodyCap <= 0 {
		pushBodyCap = 2048
	}

	// Strict five-field cron: minute, hour, day of month, month, day of
	// week. No seconds, no descriptors.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	instance = &Engine{
		st:          st,
		sanitizer:   sanitizer,
		notifier:    notifier,
		log:         log,
		resultCap:   resultCap,
		pushBodyCap: pushBodyCap,
		cron:        cron.New(cron.WithParser(parser)),
		cronParser:  parser,
		cronEntries: make(map[string]cron.EntryID),
		reminders:   make(map[string]*reminderJob),
	}
	return instance
}

// Instance returns the singleton, or nil before CreateInstance.
func Instance() *Engine {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	return instance
}

// resetInstance drops the singleton. Test hook.
func resetInstance() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	instance = nil
}

// Inject wires the connection and session managers. Must be called before
// Start.
func (e *Engine) Inject(connMgr ConnectionManager, sessions SessionManager) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connMgr = connMgr
	e.sessions = sessions
}

// Start loads every enabled task and pending reminder and starts the
// timer. Idempotent.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	tasks, err := e.st.ListScheduledTasks(ctx, true)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		e.RegisterTask(t)
	}

	reminders, err := e.st.PendingReminders(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, r := range reminders {
		if !r.RemindAt.After(now) {
			// Already due at boot: complete without firing, leave
			// undelivered so replay picks it up.
			if err := e.st.CompleteReminder(ctx, r.ID, "missed while offline"); err != nil {
				e.log.WithError(err).Warn("complete overdue reminder failed",
					zap.String("reminder_id", r.ID.String()))
			}
			continue
		}
		e.RegisterReminder(r)
	}

	e.cron.Start()
	e.log.Info("scheduler started",
		zap.Int("tasks", len(tasks)), zap.Int("reminders", len(reminders)))
	return nil
}

// Shutdown stops the timer without waiting for jobs in flight.
func (e *Engine) Shutdown() {
	e.cron.Stop()
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, job := range e.reminders {
		job.timer.Stop()
		delete(e.reminders, id)
	}
	e.log.Info("scheduler stopped")
}

// RegisterTask adds or replaces a cron entry for a task. Malformed
// expressions are logged and skipped, never fatal.
func (e *Engine) RegisterTask(t *store.ScheduledTask) {
	if !t.Enabled {
		return
	}
	if _, err := e.cronParser.Parse(t.CronExpr); err != nil {
		e.log.Warn("invalid cron expression, task skipped",
			zap.String("task", t.Name),
			zap.String("cron", t.CronExpr),
			zap.Error(err))
		return
	}

	jobID := t.ID.String()
	taskID, name, prompt := t.ID, t.Name, t.Prompt

	e.mu.Lock()
	if entryID, ok := e.cronEntries[jobID]; ok {
		e.cron.Remove(entryID)
	}
	entryID, err := e.cron.AddFunc(t.CronExpr, func() {
		e.executeTask(taskID, name, prompt)
	})
	if err == nil {
		e.cronEntries[jobID] = entryID
	}
	e.mu.Unlock()

	if err != nil {
		e.log.WithError(err).Warn("cron registration failed", zap.String("task", name))
		return
	}
	e.log.Info("scheduled task registered",
		zap.String("task", name), zap.String("cron", t.CronExpr))
}

// UnregisterTask removes a task's cron entry.
func (e *Engine) UnregisterTask(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entryID, ok := e.cronEntries[id.String()]; ok {
		e.cron.Remove(entryID)
		delete(e.cronEntries, id.String())
	}
}

// RegisterReminder arms a one-shot timer. A naive remind_at was already
// normalized to UTC by the store.
func (e *Engine) RegisterReminder(r *store.Reminder) {
	jobID := reminderJobPrefix + r.ID.String()
	delay := time.Until(r.RemindAt)
	if delay < 0 {
		delay = 0
	}
	reminderID := r.ID

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.reminders[jobID]; ok {
		existing.timer.Stop()
	}
	e.reminders[jobID] = &reminderJob{
		remindAt: r.RemindAt,
		timer: time.AfterFunc(delay, func() {
			e.mu.Lock()
			delete(e.reminders, jobID)
			e.mu.Unlock()
			e.executeReminder(reminderID)
		}),
	}
}

// CancelReminder disarms a reminder's timer; a cancelled reminder never
// fires.
func (e *Engine) CancelReminder(id uuid.UUID) {
	jobID := reminderJobPrefix + id.String()
	e.mu.Lock()
	defer e.mu.Unlock()
	if job, ok := e.reminders[jobID]; ok {
		job.timer.Stop()
		delete(e.reminders, jobID)
	}
}

// NextRunTime returns the next scheduled instant for a job id (task uuid
// or "reminder_"+uuid), or nil when unknown.
func (e *Engine) NextRunTime(jobID string) *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entryID, ok := e.cronEntries[jobID]; ok {
		next := e.cron.Entry(entryID).Next
		if next.IsZero() {
			return nil
		}
		return &next
	}
	if job, ok := e.reminders[jobID]; ok {
		at := job.remindAt
		return &at
	}
	return nil
}

// ParseCron validates a five-field cron expression.
func (e *Engine) ParseCron(expr string) error {
	_, err := e.cronParser.Parse(expr)
	return err
}
