package push

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perrymanuk/radbot/internal/common/config"
	"github.com/perrymanuk/radbot/internal/common/logger"
)

func testLog(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return log
}

func TestSendPostsNotification(t *testing.T) {
	var got ntfyMessage
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := NewNtfyProvider(&config.PushConfig{
		URL: server.URL, Topic: "radbot", Token: "tok", Enabled: true,
	}, testLog(t))

	err := p.Send(context.Background(), "Scheduled: nightly", "done", []string{"robot"})
	require.NoError(t, err)

	assert.Equal(t, "radbot", got.Topic)
	assert.Equal(t, "Scheduled: nightly", got.Title)
	assert.Equal(t, "done", got.Message)
	assert.Equal(t, []string{"robot"}, got.Tags)
	assert.Equal(t, "Bearer tok", auth)
}

func TestSendDisabledIsNoop(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	p := NewNtfyProvider(&config.PushConfig{
		URL: server.URL, Topic: "radbot", Enabled: false,
	}, testLog(t))

	assert.NoError(t, p.Send(context.Background(), "t", "b", nil))
	assert.False(t, called)
}

func TestSendRejectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	p := NewNtfyProvider(&config.PushConfig{
		URL: server.URL, Topic: "radbot", Enabled: true,
	}, testLog(t))

	assert.Error(t, p.Send(context.Background(), "t", "b", nil))
}

func TestAvailable(t *testing.T) {
	log := testLog(t)
	assert.False(t, NewNtfyProvider(&config.PushConfig{}, log).Available())
	assert.False(t, NewNtfyProvider(&config.PushConfig{
		URL: "https://ntfy.sh", Enabled: true,
	}, log).Available())
	assert.True(t, NewNtfyProvider(&config.PushConfig{
		URL: "https://ntfy.sh", Topic: "x", Enabled: true,
	}, log).Available())
}
