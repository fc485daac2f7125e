// Package bus provides a small pub/sub event bus with an in-memory
// implementation for single-process deployments and a NATS implementation
// for multi-instance fan-out.
package bus

// Well-known subjects.
const (
	// SubjectWSBroadcast carries serialized WebSocket frames that every
	// hub instance fans out to its local clients.
	SubjectWSBroadcast = "ws.broadcast"
)

// Handler receives a published message.
type Handler func(subject string, data []byte)

// Subscription is an active subscription handle.
type Subscription interface {
	Unsubscribe() error
}

// EventBus decouples producers from the WebSocket hub and other consumers.
type EventBus interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	QueueSubscribe(subject, queue string, handler Handler) (Subscription, error)
	IsConnected() bool
	Close()
}
