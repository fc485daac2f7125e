package bus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/perrymanuk/radbot/internal/common/logger"
)

// NATSEventBus bridges the bus interface onto a NATS connection.
type NATSEventBus struct {
	conn *nats.Conn
	log  *logger.Logger
}

type natsSub struct {
	sub *nats.Subscription
}

func (s *natsSub) Unsubscribe() error {
	return s.sub.Unsubscribe()
}

// NewNATSEventBus connects to NATS with reconnect handling.
func NewNATSEventBus(url, clientID string, maxReconnects int, log *logger.Logger) (*NATSEventBus, error) {
	opts := []nats.Option{
		nats.Name(clientID),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSEventBus{conn: conn, log: log}, nil
}

// Publish sends data on a subject.
func (b *NATSEventBus) Publish(subject string, data []byte) error {
	return b.conn.Publish(subject, data)
}

// Subscribe registers a handler for a subject.
func (b *NATSEventBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return &natsSub{sub: sub}, nil
}

// QueueSubscribe registers a handler in a queue group so only one instance
// handles each message.
func (b *NATSEventBus) QueueSubscribe(subject, queue string, handler Handler) (Subscription, error) {
	sub, err := b.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("queue subscribe %s: %w", subject, err)
	}
	return &natsSub{sub: sub}, nil
}

// IsConnected reports connection health.
func (b *NATSEventBus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

// Close drains and closes the connection.
func (b *NATSEventBus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// New selects the bus implementation: NATS when a URL is configured,
// otherwise in-memory.
func New(url, clientID string, maxReconnects int, log *logger.Logger) (EventBus, error) {
	if url == "" {
		log.Info("event bus: in-memory")
		return NewMemoryEventBus(), nil
	}
	log.Info("event bus: nats", zap.String("url", url))
	return NewNATSEventBus(url, clientID, maxReconnects, log)
}
