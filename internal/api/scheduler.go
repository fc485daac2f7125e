package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/perrymanuk/radbot/internal/common/errors"
	"github.com/perrymanuk/radbot/internal/store"
)

type taskView struct {
	*store.ScheduledTask
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

func (s *Server) listScheduledTasks(c *gin.Context) {
	tasks, err := s.st.ListScheduledTasks(c.Request.Context(), false)
	if err != nil {
		s.respondError(c, err)
		return
	}
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, taskView{
			ScheduledTask: t,
			NextRunAt:     s.sched.NextRunTime(t.ID.String()),
		})
	}
	c.JSON(http.StatusOK, gin.H{"tasks": views})
}

type createTaskRequest struct {
	Name        string         `json:"name"`
	CronExpr    string         `json:"cron_expression"`
	Prompt      string         `json:"prompt"`
	Description string         `json:"description"`
	Enabled     *bool          `json:"enabled"`
	Metadata    map[string]any `json:"metadata"`
}

func (s *Server) createScheduledTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperrors.BadRequest("invalid request body"))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.CronExpr == "" || req.Prompt == "" {
		s.respondError(c, apperrors.Validation("name, cron_expression, and prompt are required"))
		return
	}
	if err := s.sched.ParseCron(req.CronExpr); err != nil {
		s.respondError(c, apperrors.Validation("invalid cron expression: %v", err))
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	task, err := s.st.CreateScheduledTask(c.Request.Context(), &store.ScheduledTask{
		Name:        req.Name,
		CronExpr:    req.CronExpr,
		Prompt:      req.Prompt,
		Description: req.Description,
		Enabled:     enabled,
		Metadata:    req.Metadata,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.sched.RegisterTask(task)
	c.JSON(http.StatusOK, gin.H{"status": "success", "task_id": task.ID.String()})
}

func (s *Server) deleteScheduledTask(c *gin.Context) {
	id, ok := s.parseUUIDParam(c, "id")
	if !ok {
		return
	}
	if err := s.st.DeleteScheduledTask(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	s.sched.UnregisterTask(id)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

type setTaskEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// setScheduledTaskEnabled pauses or resumes a task without deleting it.
func (s *Server) setScheduledTaskEnabled(c *gin.Context) {
	id, ok := s.parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req setTaskEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		s.respondError(c, apperrors.BadRequest("enabled is required"))
		return
	}

	ctx := c.Request.Context()
	if err := s.st.SetScheduledTaskEnabled(ctx, id, *req.Enabled); err != nil {
		s.respondError(c, err)
		return
	}
	if *req.Enabled {
		task, err := s.st.GetScheduledTask(ctx, id)
		if err != nil {
			s.respondError(c, err)
			return
		}
		s.sched.RegisterTask(task)
	} else {
		s.sched.UnregisterTask(id)
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "enabled": *req.Enabled})
}

// triggerScheduledTask fires a task immediately. The run happens in the
// background; the endpoint only confirms the dispatch.
func (s *Server) triggerScheduledTask(c *gin.Context) {
	id, ok := s.parseUUIDParam(c, "id")
	if !ok {
		return
	}
	if err := s.sched.TriggerTask(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "triggered", "task_id": id.String()})
}

func (s *Server) listReminders(c *gin.Context) {
	reminders, err := s.st.ListReminders(c.Request.Context(), c.Query("status"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if reminders == nil {
		reminders = []*store.Reminder{}
	}
	c.JSON(http.StatusOK, gin.H{"reminders": reminders})
}

type createReminderRequest struct {
	Message   string `json:"message"`
	RemindAt  string `json:"remind_at"`
	SessionID string `json:"session_id"`
}

func (s *Server) createReminder(c *gin.Context) {
	var req createReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperrors.BadRequest("invalid request body"))
		return
	}
	if strings.TrimSpace(req.Message) == "" || req.RemindAt == "" {
		s.respondError(c, apperrors.Validation("message and remind_at are required"))
		return
	}

	remindAt, err := parseRemindAt(req.RemindAt)
	if err != nil {
		s.respondError(c, apperrors.Validation("unrecognized remind_at format"))
		return
	}
	if !remindAt.After(time.Now().UTC()) {
		s.respondError(c, apperrors.Validation("remind_at is in the past"))
		return
	}

	reminder := &store.Reminder{Message: req.Message, RemindAt: remindAt}
	if req.SessionID != "" {
		sid, err := uuid.Parse(req.SessionID)
		if err != nil {
			s.respondError(c, apperrors.Validation("invalid session_id"))
			return
		}
		reminder.SessionID = &sid
	}

	created, err := s.st.CreateReminder(c.Request.Context(), reminder)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.sched.RegisterReminder(created)
	c.JSON(http.StatusOK, created)
}

func (s *Server) deleteReminder(c *gin.Context) {
	id, ok := s.parseUUIDParam(c, "id")
	if !ok {
		return
	}
	// Cancel rather than erase when the reminder is still pending, so the
	// record of it survives.
	if err := s.st.CancelReminder(c.Request.Context(), id); err != nil {
		if err := s.st.DeleteReminder(c.Request.Context(), id); err != nil {
			s.respondError(c, err)
			return
		}
	}
	s.sched.CancelReminder(id)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// parseRemindAt accepts RFC 3339 or a naive "YYYY-MM-DD HH:MM[:SS]"
// interpreted as UTC.
func parseRemindAt(raw string) (time.Time, error) {
	layouts := []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04"}
	var lastErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
