package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/perrymanuk/radbot/internal/common/logger"
)

const (
	// writeWait is the deadline for a single write.
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong before dropping the
	// connection.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound frames.
	maxMessageSize = 512 * 1024

	// sendBufferSize is the per-client outbound queue.
	sendBufferSize = 256
)

// InboundHandler processes one text frame from a client.
type InboundHandler func(client *Client, data []byte)

// Client is one WebSocket connection bound to a session.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	sessionID string
	onMessage InboundHandler
	log       *logger.Logger
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, sessionID string, onMessage InboundHandler, log *logger.Logger) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		sessionID: sessionID,
		onMessage: onMessage,
		log:       log.WithSessionID(sessionID),
	}
}

// SessionID returns the session this client is bound to.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Send queues a frame, blocking until buffered.
func (c *Client) Send(payload []byte) {
	c.send <- payload
}

// trySend queues a frame without blocking; a full buffer drops the frame.
func (c *Client) trySend(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		c.log.Warn("ws send buffer full, dropping frame")
		return false
	}
}

// ReadPump reads frames until the connection dies, then unregisters.
// Inbound frames are processed in order per socket.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Warn("ws read error")
			}
			return
		}
		if c.onMessage != nil {
			c.onMessage(c, data)
		}
	}
}

// WritePump drains the send queue, batching pending frames per write
// cycle, and pings on an interval.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.WithError(err).Debug("ws write failed", zap.Int("bytes", len(payload)))
				return
			}

			// Drain whatever queued while we were writing.
			for i := 0; i < len(c.send); i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
