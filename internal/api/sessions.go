package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/perrymanuk/radbot/internal/common/errors"
	"github.com/perrymanuk/radbot/internal/store"
)

// listSessions returns every active session plus the most recently
// touched one as the suggested active session.
func (s *Server) listSessions(c *gin.Context) {
	sessions, err := s.st.ListSessions(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}

	activeID := ""
	if len(sessions) > 0 {
		activeID = sessions[0].ID.String()
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions":          sessions,
		"active_session_id": activeID,
	})
}

func (s *Server) getSession(c *gin.Context) {
	id, ok := s.parseUUIDParam(c, "id")
	if !ok {
		return
	}
	sess, err := s.st.GetSession(c.Request.Context(), id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type createSessionRequest struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	UserID    string `json:"user_id"`
}

func (s *Server) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, apperrors.BadRequest("invalid request body"))
		return
	}

	id := uuid.New()
	if req.SessionID != "" {
		parsed, err := uuid.Parse(req.SessionID)
		if err != nil {
			s.respondError(c, apperrors.BadRequest("invalid session_id"))
			return
		}
		id = parsed
	}
	userID := req.UserID
	if userID == "" {
		userID = store.DefaultUserID
	}

	sess, err := s.st.EnsureSession(c.Request.Context(), id, req.Name, userID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type renameSessionRequest struct {
	Name string `json:"name"`
}

func (s *Server) renameSession(c *gin.Context) {
	id, ok := s.parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req renameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		s.respondError(c, apperrors.BadRequest("name is required"))
		return
	}

	sess, err := s.st.RenameSession(c.Request.Context(), id, strings.TrimSpace(req.Name))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// deleteSession soft-deletes: the row stays for history, the session
// disappears from listings, and the in-memory runner is dropped.
func (s *Server) deleteSession(c *gin.Context) {
	id, ok := s.parseUUIDParam(c, "id")
	if !ok {
		return
	}
	if err := s.st.DeactivateSession(c.Request.Context(), id); err != nil {
		s.respondError(c, err)
		return
	}
	s.sessions.Remove(id)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// resetSession clears in-memory conversation state without touching
// persisted history.
func (s *Server) resetSession(c *gin.Context) {
	id, ok := s.parseUUIDParam(c, "id")
	if !ok {
		return
	}
	s.sessions.Reset(id)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
