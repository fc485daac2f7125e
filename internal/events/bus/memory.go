package bus

import (
	"sync"
)

// MemoryEventBus is the in-process bus used when no NATS URL is
// configured. Delivery is asynchronous; a slow handler never blocks the
// publisher.
type MemoryEventBus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]*memorySub
	nextID int
	closed bool
}

type memorySub struct {
	bus     *MemoryEventBus
	subject string
	id      int
	handler Handler
}

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if handlers, ok := s.bus.subs[s.subject]; ok {
		delete(handlers, s.id)
		if len(handlers) == 0 {
			delete(s.bus.subs, s.subject)
		}
	}
	return nil
}

// NewMemoryEventBus creates an empty in-memory bus.
func NewMemoryEventBus() *MemoryEventBus {
	return &MemoryEventBus{subs: make(map[string]map[int]*memorySub)}
}

// Publish delivers data to every subscriber of subject.
func (b *MemoryEventBus) Publish(subject string, data []byte) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[subject]))
	for _, sub := range b.subs[subject] {
		handlers = append(handlers, sub.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		go h(subject, data)
	}
	return nil
}

// Subscribe registers a handler for a subject.
func (b *MemoryEventBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &memorySub{bus: b, subject: subject, id: b.nextID, handler: handler}
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[int]*memorySub)
	}
	b.subs[subject][sub.id] = sub
	return sub, nil
}

// QueueSubscribe behaves like Subscribe in-process; queue semantics only
// matter across instances.
func (b *MemoryEventBus) QueueSubscribe(subject, queue string, handler Handler) (Subscription, error) {
	return b.Subscribe(subject, handler)
}

// IsConnected always reports true for the in-memory bus.
func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

// Close drops all subscriptions.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string]map[int]*memorySub)
	b.closed = true
}
