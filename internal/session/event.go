// Package session implements the per-session conversation loop: it drives
// the agent runtime, classifies the event stream, persists history, and
// hands frames to the WebSocket layer.
package session

import (
	"time"
)

// Event kinds, in classification priority order.
const (
	KindAgentTransfer = "agent_transfer"
	KindToolCall      = "tool_call"
	KindPlanner       = "planner"
	KindModelResponse = "model_response"
	KindOther         = "other"
)

// maxStoredEvents bounds the per-session event log served over REST.
const maxStoredEvents = 100

// Event is a classified record of one runtime emission.
type Event struct {
	Kind      string         `json:"type"`
	Summary   string         `json:"summary"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

type dedupKey struct {
	kind    string
	summary string
	ts      int64
}

// eventLog is the bounded, de-duplicated per-session event list. Not safe
// for concurrent use on its own; the runner's turn mutex guards it.
type eventLog struct {
	events []Event
	seen   map[dedupKey]struct{}
}

func newEventLog() *eventLog {
	return &eventLog{seen: make(map[dedupKey]struct{})}
}

// add appends an event unless an identical (kind, summary, timestamp)
// record was already admitted. Returns whether the event was added.
func (l *eventLog) add(e Event) bool {
	key := dedupKey{kind: e.Kind, summary: e.Summary, ts: e.Timestamp.UnixNano()}
	if _, dup := l.seen[key]; dup {
		return false
	}
	l.seen[key] = struct{}{}
	l.events = append(l.events, e)
	if len(l.events) > maxStoredEvents {
		l.events = append([]Event(nil), l.events[len(l.events)-maxStoredEvents:]...)
	}
	return true
}

// snapshot returns a copy of the stored events.
func (l *eventLog) snapshot() []Event {
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// reset clears the log.
func (l *eventLog) reset() {
	l.events = nil
	l.seen = make(map[dedupKey]struct{})
}
