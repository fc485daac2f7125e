package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/perrymanuk/radbot/internal/common/errors"
	"github.com/perrymanuk/radbot/internal/session"
	"github.com/perrymanuk/radbot/internal/store"
)

type createMessageRequest struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	AgentName string         `json:"agent_name"`
	Metadata  map[string]any `json:"metadata"`
}

func (req *createMessageRequest) toMessage() (*store.Message, error) {
	role := strings.ToLower(strings.TrimSpace(req.Role))
	switch role {
	case store.RoleUser, store.RoleAssistant, store.RoleSystem:
	default:
		return nil, apperrors.Validation("role must be user, assistant, or system")
	}
	if req.Content == "" {
		return nil, apperrors.Validation("content is required")
	}
	return &store.Message{
		Role:      role,
		Content:   req.Content,
		AgentName: req.AgentName,
		Metadata:  req.Metadata,
	}, nil
}

func (s *Server) createMessage(c *gin.Context) {
	sessionID, ok := s.parseUUIDParam(c, "session_id")
	if !ok {
		return
	}
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperrors.BadRequest("invalid request body"))
		return
	}
	msg, err := req.toMessage()
	if err != nil {
		s.respondError(c, err)
		return
	}
	msg.SessionID = sessionID

	ctx := c.Request.Context()
	if _, err := s.st.EnsureSession(ctx, sessionID, "", store.DefaultUserID); err != nil {
		s.respondError(c, err)
		return
	}
	id, err := s.st.AddMessage(ctx, msg)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message_id": id.String()})
}

type batchMessagesRequest struct {
	Messages []createMessageRequest `json:"messages"`
}

// createMessagesBatch inserts all messages atomically: one bad entry
// rejects the whole batch.
func (s *Server) createMessagesBatch(c *gin.Context) {
	sessionID, ok := s.parseUUIDParam(c, "session_id")
	if !ok {
		return
	}
	var req batchMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Messages) == 0 {
		s.respondError(c, apperrors.BadRequest("messages are required"))
		return
	}

	msgs := make([]*store.Message, 0, len(req.Messages))
	for i := range req.Messages {
		msg, err := req.Messages[i].toMessage()
		if err != nil {
			s.respondError(c, err)
			return
		}
		msg.SessionID = sessionID
		msgs = append(msgs, msg)
	}

	ctx := c.Request.Context()
	if _, err := s.st.EnsureSession(ctx, sessionID, "", store.DefaultUserID); err != nil {
		s.respondError(c, err)
		return
	}
	ids, err := s.st.AddMessages(ctx, sessionID, msgs)
	if err != nil {
		s.respondError(c, err)
		return
	}

	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"message_ids": strIDs,
		"count":       len(strIDs),
	})
}

func (s *Server) listMessages(c *gin.Context) {
	sessionID, ok := s.parseUUIDParam(c, "session_id")
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	messages, total, err := s.st.ListMessages(c.Request.Context(), sessionID, limit, offset)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if messages == nil {
		messages = []*store.Message{}
	}
	c.JSON(http.StatusOK, gin.H{
		"messages":    messages,
		"total_count": total,
		"has_more":    offset+len(messages) < total,
	})
}

// listEvents returns the classified events of the session's live runner.
// A session with no live runner has no events to report.
func (s *Server) listEvents(c *gin.Context) {
	sessionID, ok := s.parseUUIDParam(c, "session_id")
	if !ok {
		return
	}
	runner, live := s.sessions.Get(sessionID)
	if !live {
		c.JSON(http.StatusOK, []session.Event{})
		return
	}
	c.JSON(http.StatusOK, runner.Events())
}

type storeMemoryRequest struct {
	Text       string `json:"text"`
	MemoryType string `json:"memory_type"`
	SessionID  string `json:"session_id"`
}

func (s *Server) storeMemory(c *gin.Context) {
	var req storeMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		s.respondError(c, apperrors.BadRequest("text is required"))
		return
	}

	meta := map[string]any{}
	if req.MemoryType != "" {
		meta["memory_type"] = req.MemoryType
	}
	if req.SessionID != "" {
		meta["session_id"] = req.SessionID
	}

	if err := s.mem.Upsert(c.Request.Context(), store.DefaultUserID, req.Text, meta); err != nil {
		s.respondError(c, apperrors.ServiceUnavailable("memory store unavailable"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "memory stored"})
}
