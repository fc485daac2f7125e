package websocket

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/perrymanuk/radbot/internal/common/logger"
	"github.com/perrymanuk/radbot/internal/session"
	"github.com/perrymanuk/radbot/pkg/wsproto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The web UI is served from arbitrary origins in home deployments.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP requests to WebSocket connections and drives chat
// turns from inbound message frames.
type Handler struct {
	hub      *Hub
	sessions *session.Manager
	log      *logger.Logger
}

// NewHandler creates the WS endpoint handler.
func NewHandler(hub *Hub, sessions *session.Manager, log *logger.Logger) *Handler {
	return &Handler{hub: hub, sessions: sessions, log: log}
}

// Handle is the gin handler for GET /ws. The session id comes from the
// session_id query parameter; a missing one gets a fresh session.
func (h *Handler) Handle(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid session_id"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}

	client := NewClient(h.hub, conn, sessionID, h.onMessage, h.log)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

// onMessage dispatches one inbound text frame.
func (h *Handler) onMessage(client *Client, data []byte) {
	frame, err := decodeClientFrame(data)
	if err != nil {
		client.trySend(wsproto.Error("invalid frame"))
		return
	}

	switch frame.Type {
	case wsproto.TypePing:
		client.trySend(wsproto.Pong())
	case wsproto.TypeMessage:
		if frame.Content == "" {
			client.trySend(wsproto.Error("empty message"))
			return
		}
		// The per-session turn mutex serializes concurrent sends.
		go h.processTurn(client.SessionID(), frame.Content)
	default:
		client.trySend(wsproto.Error("unknown frame type"))
	}
}

// processTurn runs one chat turn and fans results out to every socket of
// the session.
func (h *Handler) processTurn(sessionID, text string) {
	ctx := context.Background()
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return
	}

	h.hub.BroadcastToSession(sessionID, wsproto.Status(wsproto.StatusThinking))

	runner, err := h.sessions.GetOrCreate(ctx, id)
	if err != nil {
		h.log.WithError(err).WithSessionID(sessionID).Error("session bootstrap failed")
		h.hub.BroadcastToSession(sessionID, wsproto.Error("session unavailable"))
		h.hub.BroadcastToSession(sessionID, wsproto.Status(wsproto.StatusReady))
		return
	}

	result, err := runner.ProcessMessage(ctx, text)
	if err != nil {
		h.log.WithError(err).WithSessionID(sessionID).Error("turn failed")
		h.hub.BroadcastToSession(sessionID, wsproto.Error("processing failed"))
		h.hub.BroadcastToSession(sessionID, wsproto.Status(wsproto.StatusReady))
		return
	}

	h.hub.BroadcastToSession(sessionID, wsproto.Message("assistant", result.Response))
	if len(result.Events) > 0 {
		h.hub.BroadcastToSession(sessionID, wsproto.Events(result.Events))
	}
	h.hub.BroadcastToSession(sessionID, wsproto.Status(wsproto.StatusReady))

	h.log.WithSessionID(sessionID).Debug("turn complete",
		zap.Int("events", len(result.Events)),
		zap.String("agent", result.AgentName))
}

func decodeClientFrame(data []byte) (*wsproto.ClientFrame, error) {
	var frame wsproto.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}
