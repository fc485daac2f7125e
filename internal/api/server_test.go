package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/perrymanuk/radbot/internal/common/errors"
	"github.com/perrymanuk/radbot/internal/common/logger"
	"github.com/perrymanuk/radbot/internal/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return &Server{log: log}
}

func errorResponse(t *testing.T, s *Server, err error) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/test", nil)

	s.respondError(c, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestRespondErrorAppError(t *testing.T) {
	s := testServer(t)
	w, body := errorResponse(t, s, apperrors.NotFound("no such webhook"))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "no such webhook", body["message"])
}

func TestRespondErrorStoreNotFound(t *testing.T) {
	s := testServer(t)
	w, body := errorResponse(t, s, fmt.Errorf("get task: %w", store.ErrNotFound))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not found", body["message"])
}

func TestRespondErrorMasksInternalDetail(t *testing.T) {
	s := testServer(t)
	w, body := errorResponse(t, s, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", body["message"])
}

func TestParseUUIDParam(t *testing.T) {
	s := testServer(t)
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/test", nil)
	want := uuid.New()
	c.Params = gin.Params{{Key: "id", Value: want.String()}}

	got, ok := s.parseUUIDParam(c, "id")
	assert.True(t, ok)
	assert.Equal(t, want, got)

	c.Params = gin.Params{{Key: "id", Value: "not-a-uuid"}}
	_, ok = s.parseUUIDParam(c, "id")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
