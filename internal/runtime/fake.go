package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FakeRunner emits scripted event sequences, one per Run call. Used by
// tests that exercise the session pipeline without a model.
type FakeRunner struct {
	App      string
	Sessions *SessionService

	mu      sync.Mutex
	scripts [][]*Event
	calls   int
}

// NewFakeRunner creates a fake with its own session service when none is
// given.
func NewFakeRunner(app string, sessions *SessionService) *FakeRunner {
	if app == "" {
		app = "test"
	}
	if sessions == nil {
		sessions = NewSessionService()
	}
	return &FakeRunner{App: app, Sessions: sessions}
}

// Enqueue schedules the event sequence for the next Run call.
func (f *FakeRunner) Enqueue(events ...*Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, events)
}

// Calls returns how many turns were run.
func (f *FakeRunner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// AppName implements Runner.
func (f *FakeRunner) AppName() string {
	return f.App
}

// Run implements Runner: it appends the user message and the next scripted
// sequence to the session buffer and streams the sequence back.
func (f *FakeRunner) Run(ctx context.Context, userID, sessionID string, msg *Content) (<-chan *Event, error) {
	sess := f.Sessions.GetOrCreate(f.App, userID, sessionID)
	invocationID := uuid.NewString()

	sess.AppendEvent(&Event{
		Author:       "user",
		InvocationID: invocationID,
		Content:      msg,
		Timestamp:    time.Now().UTC(),
	})

	f.mu.Lock()
	f.calls++
	var script []*Event
	if len(f.scripts) > 0 {
		script = f.scripts[0]
		f.scripts = f.scripts[1:]
	}
	f.mu.Unlock()

	if script == nil {
		script = []*Event{{
			Author:  f.App,
			Content: NewModelText("ok"),
		}}
	}

	ch := make(chan *Event, len(script))
	for _, e := range script {
		if e.InvocationID == "" {
			e.InvocationID = invocationID
		}
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		sess.AppendEvent(e)
		ch <- e
	}
	close(ch)
	return ch, nil
}
