package scheduler

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perrymanuk/radbot/internal/sanitize"
	"github.com/perrymanuk/radbot/internal/session"
	"github.com/perrymanuk/radbot/internal/store"
	"github.com/perrymanuk/radbot/pkg/wsproto"
)

// jobTimeout bounds one scheduled agent turn.
const jobTimeout = 5 * time.Minute

// deps snapshots the injected managers under the engine lock.
func (e *Engine) deps() (ConnectionManager, SessionManager) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connMgr, e.sessions
}

// TriggerTask fires a task immediately, outside its cron schedule.
func (e *Engine) TriggerTask(ctx context.Context, id uuid.UUID) error {
	t, err := e.st.GetScheduledTask(ctx, id)
	if err != nil {
		return err
	}
	go e.executeTask(t.ID, t.Name, t.Prompt)
	return nil
}

// executeTask runs one scheduled task through the agent pipeline. When no
// client is connected the result is queued for replay instead of dropped.
func (e *Engine) executeTask(taskID uuid.UUID, name, prompt string) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	log := e.log.WithFields(zap.String("task", name), zap.String("task_id", taskID.String()))
	connMgr, sessions := e.deps()
	if connMgr == nil || sessions == nil {
		log.Error("scheduler fired before managers were injected")
		return
	}

	prompt = e.sanitizer.Clean(prompt, sanitize.SourceScheduler)

	// Pick an output session: any connected one, else the offline channel.
	online := false
	sessionID := session.SyntheticSessionID(OfflineSessionName)
	if sid, ok := connMgr.AnySessionID(); ok {
		if parsed, err := uuid.Parse(sid); err == nil {
			sessionID = parsed
			online = true
		}
	}

	announcement := fmt.Sprintf("[Scheduled Task: %s] %s", name, prompt)
	connMgr.BroadcastToAllSessions(wsproto.Message("system", announcement))
	connMgr.BroadcastToAllSessions(wsproto.Status(wsproto.StatusThinking))

	runner, err := sessions.GetOrCreate(ctx, sessionID)
	if err != nil {
		log.WithError(err).Error("scheduled task session bootstrap failed")
		connMgr.BroadcastToAllSessions(wsproto.Status(wsproto.StatusReady))
		return
	}
	if err := runner.PersistSystemMessage(ctx, announcement); err != nil {
		log.WithError(err).Warn("persist task announcement failed")
	}

	result, err := runner.ProcessMessage(ctx, prompt)
	if err != nil {
		log.WithError(err).Error("scheduled task turn failed")
		if rerr := e.st.RecordTaskRun(ctx, taskID, truncateUTF8("error: "+err.Error(), e.resultCap), time.Now().UTC()); rerr != nil {
			log.WithError(rerr).Warn("record task run failed")
		}
		connMgr.BroadcastToAllSessions(wsproto.Status(wsproto.StatusReady))
		return
	}

	connMgr.BroadcastToAllSessions(wsproto.Message("assistant", result.Response))
	if len(result.Events) > 0 {
		connMgr.BroadcastToAllSessions(wsproto.Events(result.Events))
	}
	connMgr.BroadcastToAllSessions(wsproto.Status(wsproto.StatusReady))

	if err := e.st.RecordTaskRun(ctx, taskID, truncateUTF8(result.Response, e.resultCap), time.Now().UTC()); err != nil {
		log.WithError(err).Warn("record task run failed")
	}

	if e.notifier != nil && e.notifier.Available() {
		if err := e.notifier.Send(ctx, "Scheduled: "+name,
			truncateUTF8(result.Response, e.pushBodyCap), nil); err != nil {
			log.WithError(err).Warn("push notification failed")
		}
	}

	if !online {
		pending := &store.PendingResult{
			TaskName:  name,
			Prompt:    prompt,
			Response:  result.Response,
			SessionID: OfflineSessionName,
		}
		if err := e.st.QueuePendingResult(ctx, pending); err != nil {
			log.WithError(err).Error("queue offline result failed")
		} else {
			log.Info("scheduled task result queued for replay")
		}
	}

	log.Info("scheduled task complete", zap.Bool("online", online))
}

// executeReminder fires a one-shot reminder. The reminder completes even
// when no client is there; delivery then waits for the next connection.
func (e *Engine) executeReminder(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	log := e.log.WithFields(zap.String("reminder_id", id.String()))

	// Re-read the row: the reminder may have been cancelled or edited
	// between arming the timer and firing.
	r, err := e.st.GetReminder(ctx, id)
	if err != nil {
		if err != store.ErrNotFound {
			log.WithError(err).Error("load reminder failed")
		}
		return
	}
	if r.Status != store.ReminderPending {
		return
	}
	message := e.sanitizer.Clean(r.Message, sanitize.SourceReminder)

	if err := e.st.CompleteReminder(ctx, id, message); err != nil {
		if err == store.ErrNotFound {
			// Cancelled between arming and firing.
			return
		}
		log.WithError(err).Error("complete reminder failed")
		return
	}

	if e.notifier != nil && e.notifier.Available() {
		if err := e.notifier.Send(ctx, "Reminder",
			truncateUTF8(message, e.pushBodyCap), nil); err != nil {
			log.WithError(err).Warn("reminder push failed")
		}
	}

	connMgr, _ := e.deps()
	if connMgr == nil || !connMgr.HasConnections() {
		log.Info("reminder completed with no client connected")
		return
	}

	connMgr.BroadcastToAllSessions(wsproto.Message("system", "[Reminder] "+message))
	e.persistToAnySession(ctx, connMgr, "[Reminder] "+message)

	if err := e.st.MarkReminderDelivered(ctx, id); err != nil {
		log.WithError(err).Warn("mark reminder delivered failed")
	}
	log.Info("reminder delivered")
}

// DeliverPendingReminders drains reminders that completed while no client
// was connected. Invoked when the first connection registers.
func (e *Engine) DeliverPendingReminders(ctx context.Context) {
	connMgr, _ := e.deps()
	if connMgr == nil || !connMgr.HasConnections() {
		return
	}

	pending, err := e.st.UndeliveredReminders(ctx)
	if err != nil {
		e.log.WithError(err).Warn("load undelivered reminders failed")
		return
	}

	for _, r := range pending {
		text := "[Reminder] " + e.sanitizer.Clean(r.Message, sanitize.SourceReminder)
		if connMgr.BroadcastToAllSessions(wsproto.Message("system", text)) == 0 {
			return
		}
		e.persistToAnySession(ctx, connMgr, text)
		if err := e.st.MarkReminderDelivered(ctx, r.ID); err != nil {
			e.log.WithError(err).Warn("mark reminder delivered failed",
				zap.String("reminder_id", r.ID.String()))
		}
	}
	if len(pending) > 0 {
		e.log.Info("replayed missed reminders", zap.Int("count", len(pending)))
	}
}

// DeliverPendingResults drains offline scheduled task results.
func (e *Engine) DeliverPendingResults(ctx context.Context) {
	connMgr, _ := e.deps()
	if connMgr == nil || !connMgr.HasConnections() {
		return
	}

	pending, err := e.st.UndeliveredResults(ctx)
	if err != nil {
		e.log.WithError(err).Warn("load undelivered results failed")
		return
	}

	for _, p := range pending {
		text := fmt.Sprintf("[Offline Scheduled Task: %s] %s", p.TaskName, p.Response)
		if connMgr.BroadcastToAllSessions(wsproto.Message("system", text)) == 0 {
			return
		}
		if err := e.st.MarkResultDelivered(ctx, p.ID); err != nil {
			e.log.WithError(err).Warn("mark result delivered failed",
				zap.String("result_id", p.ID.String()))
		}
	}
	if len(pending) > 0 {
		e.log.Info("replayed offline task results", zap.Int("count", len(pending)))
	}
}

// persistToAnySession writes a system message into the history of one
// connected session, best-effort.
func (e *Engine) persistToAnySession(ctx context.Context, connMgr ConnectionManager, text string) {
	_, sessions := e.deps()
	if sessions == nil {
		return
	}
	sid, ok := connMgr.AnySessionID()
	if !ok {
		return
	}
	id, err := uuid.Parse(sid)
	if err != nil {
		return
	}
	runner, err := sessions.GetOrCreate(ctx, id)
	if err != nil {
		return
	}
	if err := runner.PersistSystemMessage(ctx, text); err != nil {
		e.log.WithError(err).Debug("persist system message failed")
	}
}

// truncateUTF8 caps s at max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := s[:max]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
