package runtime

import (
	"sync"
)

// Session is the in-memory conversation buffer the runtime builds prompts
// from. Events are append-only except for truncation.
type Session struct {
	AppName string
	UserID  string
	ID      string

	mu     sync.Mutex
	events []*Event
}

// AppendEvent adds an event to the buffer.
func (s *Session) AppendEvent(e *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

// Events returns a snapshot of the buffer.
func (s *Session) Events() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

// EventCount returns the buffer length.
func (s *Session) EventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// TruncateEvents keeps only the most recent n events. Called before each
// invocation to cap prompt size and shed poisoned empty model events.
func (s *Session) TruncateEvents(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= 0 && len(s.events) > n {
		s.events = append([]*Event(nil), s.events[len(s.events)-n:]...)
	}
}

type sessionKey struct {
	app, user, id string
}

// SessionService holds runtime sessions keyed by (app, user, session id).
type SessionService struct {
	mu       sync.Mutex
	sessions map[sessionKey]*Session
}

// NewSessionService creates an empty session service.
func NewSessionService() *SessionService {
	return &SessionService{sessions: make(map[sessionKey]*Session)}
}

// GetOrCreate returns the session, creating it if absent.
func (s *SessionService) GetOrCreate(appName, userID, sessionID string) *Session {
	key := sessionKey{appName, userID, sessionID}
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[key]; ok {
		return sess
	}
	sess := &Session{AppName: appName, UserID: userID, ID: sessionID}
	s.sessions[key] = sess
	return sess
}

// Get returns the session if it exists.
func (s *SessionService) Get(appName, userID, sessionID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionKey{appName, userID, sessionID}]
	return sess, ok
}

// Delete drops a session buffer. Used by session reset.
func (s *SessionService) Delete(appName, userID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionKey{appName, userID, sessionID})
}
