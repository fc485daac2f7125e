package session

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/perrymanuk/radbot/internal/common/logger"
	"github.com/perrymanuk/radbot/internal/runtime"
)

// SyntheticSessionID maps a well-known session name, such as the offline
// scheduler channel or a webhook target, to a stable UUID so it can live
// in the same chat history tables as interactive sessions.
func SyntheticSessionID(name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("radbot:"+name))
}

// Manager owns one Runner per session. All sessions share the deployment's
// single user namespace.
type Manager struct {
	st            Store
	rt            runtime.Runner
	sessions      *runtime.SessionService
	models        map[string]string
	historyReplay int
	log           *logger.Logger

	mu      sync.Mutex
	runners map[uuid.UUID]*Runner
}

// NewManager creates a session manager. historyReplay is how many persisted
// messages seed each fresh runner.
func NewManager(st Store, rt runtime.Runner, sessions *runtime.SessionService,
	models map[string]string, historyReplay int, log *logger.Logger) *Manager {
	return &Manager{
		st:            st,
		rt:            rt,
		sessions:      sessions,
		models:        models,
		historyReplay: historyReplay,
		log:           log,
		runners:       make(map[uuid.UUID]*Runner),
	}
}

// GetOrCreate returns the session's runner, bootstrapping it on first use.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID uuid.UUID) (*Runner, error) {
	m.mu.Lock()
	if r, ok := m.runners[sessionID]; ok {
		m.mu.Unlock()
		return r, nil
	}
	m.mu.Unlock()

	// Bootstrap outside the manager lock; it touches the database.
	r, err := NewRunner(ctx, sessionID, m.st, m.rt, m.sessions, m.models, m.historyReplay, m.log)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.runners[sessionID]; ok {
		return existing, nil
	}
	m.runners[sessionID] = r
	return r, nil
}

// Get returns the runner if it is already live.
func (m *Manager) Get(sessionID uuid.UUID) (*Runner, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runners[sessionID]
	return r, ok
}

// Reset clears a session's in-memory state, creating nothing if the
// session was never live.
func (m *Manager) Reset(sessionID uuid.UUID) {
	m.mu.Lock()
	r, ok := m.runners[sessionID]
	m.mu.Unlock()
	if ok {
		r.Reset()
	}
}

// Remove drops the runner entirely.
func (m *Manager) Remove(sessionID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runners[sessionID]; ok {
		r.Reset()
		delete(m.runners, sessionID)
	}
}
