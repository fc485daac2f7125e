// Package websocket manages live client connections: a hub keyed by
// session id, per-connection read/write pumps, and broadcast fan-out.
package websocket

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/perrymanuk/radbot/internal/common/logger"
	"github.com/perrymanuk/radbot/internal/events/bus"
)

// ReplayTrigger is invoked when the first connection for a session
// registers, so queued reminders and offline task results get delivered.
type ReplayTrigger interface {
	DeliverPendingReminders(ctx context.Context)
	DeliverPendingResults(ctx context.Context)
}

// Hub is the registry of live connections, keyed session id to client
// set.
type Hub struct {
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	clients map[string]map[*Client]bool

	replay   ReplayTrigger
	replayMu sync.RWMutex

	bus bus.EventBus
	log *logger.Logger
}

// NewHub creates a hub. When a bus is given, the hub subscribes to the
// broadcast subject so detached producers can fan out frames without a
// hub reference.
func NewHub(eventBus bus.EventBus, log *logger.Logger) *Hub {
	h := &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string]map[*Client]bool),
		bus:        eventBus,
		log:        log,
	}
	if eventBus != nil {
		if _, err := eventBus.Subscribe(bus.SubjectWSBroadcast, func(_ string, data []byte) {
			h.BroadcastToAllSessions(data)
		}); err != nil {
			log.WithError(err).Warn("broadcast subject subscribe failed")
		}
	}
	return h
}

// SetReplayTrigger wires the scheduler's replay drains. Called once at
// boot, after the scheduler singleton exists.
func (h *Hub) SetReplayTrigger(t ReplayTrigger) {
	h.replayMu.Lock()
	defer h.replayMu.Unlock()
	h.replay = t
}

// Run processes register/unregister traffic. Started once at boot.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	first := len(h.clients[client.sessionID]) == 0
	if h.clients[client.sessionID] == nil {
		h.clients[client.sessionID] = make(map[*Client]bool)
	}
	h.clients[client.sessionID][client] = true
	h.mu.Unlock()

	h.log.Info("ws client registered",
		zap.String("session_id", client.sessionID),
		zap.Bool("first_for_session", first))

	if first {
		h.replayMu.RLock()
		replay := h.replay
		h.replayMu.RUnlock()
		if replay != nil {
			go func() {
				ctx := context.Background()
				replay.DeliverPendingReminders(ctx)
				replay.DeliverPendingResults(ctx)
			}()
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if set, ok := h.clients[client.sessionID]; ok {
		if _, registered := set[client]; registered {
			delete(set, client)
			close(client.send)
			if len(set) == 0 {
				delete(h.clients, client.sessionID)
			}
		}
	}
	h.mu.Unlock()

	h.log.Info("ws client unregistered", zap.String("session_id", client.sessionID))
}

// Register queues a client for registration.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister queues a client for removal.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// BroadcastToSession delivers a frame to every socket of one session,
// best-effort. Slow sockets are skipped rather than waited on.
func (h *Hub) BroadcastToSession(sessionID string, payload []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[sessionID]))
	for client := range h.clients[sessionID] {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		client.trySend(payload)
	}
}

// BroadcastToAllSessions delivers a frame to every connected socket and
// returns the count of successful sends.
func (h *Hub) BroadcastToAllSessions(payload []byte) int {
	h.mu.RLock()
	var targets []*Client
	for _, set := range h.clients {
		for client := range set {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	sent := 0
	for _, client := range targets {
		if client.trySend(payload) {
			sent++
		}
	}
	return sent
}

// HasConnections reports whether any socket is connected.
func (h *Hub) HasConnections() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.clients {
		if len(set) > 0 {
			return true
		}
	}
	return false
}

// AnySessionID returns one connected session id, if any. The scheduler
// uses this to pick an output target.
func (h *Hub) AnySessionID() (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sessionID, set := range h.clients {
		if len(set) > 0 {
			return sessionID, true
		}
	}
	return "", false
}

// PublishBroadcast pushes a frame through the event bus so every hub
// instance (including this one) fans it out.
func (h *Hub) PublishBroadcast(payload []byte) {
	if h.bus == nil {
		h.BroadcastToAllSessions(payload)
		return
	}
	if err := h.bus.Publish(bus.SubjectWSBroadcast, payload); err != nil {
		h.log.WithError(err).Warn("broadcast publish failed")
		h.BroadcastToAllSessions(payload)
	}
}
