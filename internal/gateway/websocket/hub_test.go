package websocket

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perrymanuk/radbot/internal/common/logger"
	"github.com/perrymanuk/radbot/internal/events/bus"
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

// fakeClient builds a client with no underlying socket; only the send
// queue matters for hub fan-out.
func fakeClient(t *testing.T, hub *Hub, sessionID string, buffer int) *Client {
	return &Client{
		hub:       hub,
		send:      make(chan []byte, buffer),
		sessionID: sessionID,
		log:       testLog(t),
	}
}

type fakeReplay struct {
	reminders atomic.Int32
	results   atomic.Int32
}

func (f *fakeReplay) DeliverPendingReminders(ctx context.Context) { f.reminders.Add(1) }
func (f *fakeReplay) DeliverPendingResults(ctx context.Context)   { f.results.Add(1) }

func TestHubEmpty(t *testing.T) {
	h := NewHub(nil, testLog(t))

	assert.False(t, h.HasConnections())
	_, ok := h.AnySessionID()
	assert.False(t, ok)
	assert.Zero(t, h.BroadcastToAllSessions([]byte("x")))
}

func TestBroadcastToSession(t *testing.T) {
	h := NewHub(nil, testLog(t))
	a := fakeClient(t, h, "session-a", 4)
	b := fakeClient(t, h, "session-b", 4)
	h.addClient(a)
	h.addClient(b)

	h.BroadcastToSession("session-a", []byte("hello"))

	require.Len(t, a.send, 1)
	assert.Equal(t, []byte("hello"), <-a.send)
	assert.Empty(t, b.send)
}

func TestBroadcastToAllSessionsCountsSends(t *testing.T) {
	h := NewHub(nil, testLog(t))
	a := fakeClient(t, h, "session-a", 4)
	b := fakeClient(t, h, "session-b", 4)
	h.addClient(a)
	h.addClient(b)

	sent := h.BroadcastToAllSessions([]byte("x"))
	assert.Equal(t, 2, sent)
	assert.Len(t, a.send, 1)
	assert.Len(t, b.send, 1)
}

func TestBroadcastSkipsFullBuffers(t *testing.T) {
	h := NewHub(nil, testLog(t))
	full := fakeClient(t, h, "session-a", 1)
	full.send <- []byte("occupied")
	open := fakeClient(t, h, "session-b", 4)
	h.addClient(full)
	h.addClient(open)

	sent := h.BroadcastToAllSessions([]byte("x"))
	assert.Equal(t, 1, sent)
}

func TestHasConnectionsAndAnySessionID(t *testing.T) {
	h := NewHub(nil, testLog(t))
	c := fakeClient(t, h, "session-a", 4)
	h.addClient(c)

	assert.True(t, h.HasConnections())
	id, ok := h.AnySessionID()
	assert.True(t, ok)
	assert.Equal(t, "session-a", id)

	h.removeClient(c)
	assert.False(t, h.HasConnections())
}

func TestRemoveClientClosesSendQueue(t *testing.T) {
	h := NewHub(nil, testLog(t))
	c := fakeClient(t, h, "session-a", 4)
	h.addClient(c)
	h.removeClient(c)

	_, open := <-c.send
	assert.False(t, open)

	// Removing twice must not close the channel again.
	h.removeClient(c)
}

func TestFirstConnectionTriggersReplay(t *testing.T) {
	h := NewHub(nil, testLog(t))
	replay := &fakeReplay{}
	h.SetReplayTrigger(replay)

	h.addClient(fakeClient(t, h, "session-a", 4))
	require.Eventually(t, func() bool {
		return replay.reminders.Load() == 1 && replay.results.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A second socket on the same session is not a first connection.
	h.addClient(fakeClient(t, h, "session-a", 4))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), replay.reminders.Load())
}

func TestPublishBroadcastViaBus(t *testing.T) {
	eventBus := bus.NewMemoryEventBus()
	defer eventBus.Close()

	h := NewHub(eventBus, testLog(t))
	c := fakeClient(t, h, "session-a", 4)
	h.addClient(c)

	h.PublishBroadcast([]byte("fanout"))

	select {
	case data := <-c.send:
		assert.Equal(t, []byte("fanout"), data)
	case <-time.After(2 * time.Second):
		t.Fatal("frame never reached the client")
	}
}

func TestPublishBroadcastWithoutBus(t *testing.T) {
	h := NewHub(nil, testLog(t))
	c := fakeClient(t, h, "session-a", 4)
	h.addClient(c)

	h.PublishBroadcast([]byte("direct"))
	assert.Len(t, c.send, 1)
}

func TestRunHandlesRegistration(t *testing.T) {
	h := NewHub(nil, testLog(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	c := fakeClient(t, h, "session-a", 4)
	h.Register(c)
	require.Eventually(t, h.HasConnections, 2*time.Second, 10*time.Millisecond)

	h.Unregister(c)
	require.Eventually(t, func() bool { return !h.HasConnections() }, 2*time.Second, 10*time.Millisecond)
}
