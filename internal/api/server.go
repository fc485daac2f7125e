// Package api exposes the REST surface: sessions, messages, memory,
// scheduler, webhooks, telemetry, and health probes.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/perrymanuk/radbot/internal/common/errors"
	"github.com/perrymanuk/radbot/internal/common/logger"
	"github.com/perrymanuk/radbot/internal/db"
	"github.com/perrymanuk/radbot/internal/gateway/websocket"
	"github.com/perrymanuk/radbot/internal/memory"
	"github.com/perrymanuk/radbot/internal/scheduler"
	"github.com/perrymanuk/radbot/internal/session"
	"github.com/perrymanuk/radbot/internal/store"
	"github.com/perrymanuk/radbot/internal/telemetry"
)

// Server holds the handlers' dependencies.
type Server struct {
	st        *store.Store
	db        *db.DB
	sessions  *session.Manager
	sched     *scheduler.Engine
	hub       *websocket.Hub
	wsHandler *websocket.Handler
	mem       *memory.Service
	tel       *telemetry.Accumulator
	log       *logger.Logger
}

// NewServer wires the REST surface.
func NewServer(st *store.Store, database *db.DB, sessions *session.Manager,
	sched *scheduler.Engine, hub *websocket.Hub, wsHandler *websocket.Handler,
	mem *memory.Service, tel *telemetry.Accumulator, log *logger.Logger) *Server {
	return &Server{
		st:        st,
		db:        database,
		sessions:  sessions,
		sched:     sched,
		hub:       hub,
		wsHandler: wsHandler,
		mem:       mem,
		tel:       tel,
		log:       log,
	}
}

// RegisterRoutes mounts every endpoint on the engine.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws", s.wsHandler.Handle)

	r.GET("/health/ready", s.healthReady)
	r.GET("/health/detailed", s.healthDetailed)

	api := r.Group("/api")
	{
		api.GET("/sessions/", s.listSessions)
		api.GET("/sessions/:id", s.getSession)
		api.POST("/sessions/create", s.createSession)
		api.PUT("/sessions/:id/rename", s.renameSession)
		api.DELETE("/sessions/:id", s.deleteSession)
		api.POST("/sessions/:id/reset", s.resetSession)

		api.POST("/messages/:session_id", s.createMessage)
		api.POST("/messages/:session_id/batch", s.createMessagesBatch)
		api.GET("/messages/:session_id", s.listMessages)

		api.GET("/events/:session_id", s.listEvents)

		api.POST("/memory/store", s.storeMemory)

		api.GET("/scheduler/tasks", s.listScheduledTasks)
		api.POST("/scheduler/tasks", s.createScheduledTask)
		api.DELETE("/scheduler/tasks/:id", s.deleteScheduledTask)
		api.POST("/scheduler/tasks/:id/enable", s.setScheduledTaskEnabled)
		api.POST("/scheduler/tasks/:id/trigger", s.triggerScheduledTask)

		api.GET("/reminders", s.listReminders)
		api.POST("/reminders", s.createReminder)
		api.DELETE("/reminders/:id", s.deleteReminder)

		api.GET("/webhooks/definitions", s.listWebhooks)
		api.GET("/webhooks/definitions/:id", s.getWebhook)
		api.POST("/webhooks/definitions", s.createWebhook)
		api.DELETE("/webhooks/definitions/:id", s.deleteWebhook)
		api.POST("/webhooks/trigger/:path", s.triggerWebhook)

		api.GET("/telemetry/usage", s.telemetryUsage)
		api.POST("/telemetry/reset", s.telemetryReset)
	}
}

// respondError writes the uniform error envelope.
func (s *Server) respondError(c *gin.Context, err error) {
	status := apperrors.GetHTTPStatus(err)
	var message string
	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		message = appErr.WireMessage()
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
		message = "not found"
	default:
		message = "internal error"
	}
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).Error("request failed", zap.String("path", c.FullPath()))
	}
	c.JSON(status, gin.H{"status": "error", "message": message})
}

// parseUUIDParam reads one UUID path parameter, writing the error response
// itself on failure.
func (s *Server) parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		s.respondError(c, apperrors.BadRequest("invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}
