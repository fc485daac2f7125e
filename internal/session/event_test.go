package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventLogDedup(t *testing.T) {
	l := newEventLog()
	ts := time.Now().UTC()

	e := Event{Kind: KindToolCall, Summary: "Tool Call: x", Timestamp: ts}
	assert.True(t, l.add(e))
	assert.False(t, l.add(e))
	assert.Len(t, l.snapshot(), 1)

	// A different timestamp is a different record.
	e.Timestamp = ts.Add(time.Millisecond)
	assert.True(t, l.add(e))
	assert.Len(t, l.snapshot(), 2)
}

func TestEventLogBounded(t *testing.T) {
	l := newEventLog()
	base := time.Now().UTC()
	for i := 0; i < maxStoredEvents+25; i++ {
		l.add(Event{
			Kind:      KindOther,
			Summary:   fmt.Sprintf("event %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}

	events := l.snapshot()
	assert.Len(t, events, maxStoredEvents)
	assert.Equal(t, "event 25", events[0].Summary)
	assert.Equal(t, fmt.Sprintf("event %d", maxStoredEvents+24), events[len(events)-1].Summary)
}

func TestEventLogReset(t *testing.T) {
	l := newEventLog()
	e := Event{Kind: KindOther, Summary: "x", Timestamp: time.Now()}
	l.add(e)

	l.reset()
	assert.Empty(t, l.snapshot())
	assert.True(t, l.add(e))
}

func TestEventLogSnapshotIsCopy(t *testing.T) {
	l := newEventLog()
	l.add(Event{Kind: KindOther, Summary: "x", Timestamp: time.Now()})

	snap := l.snapshot()
	snap[0].Summary = "mutated"
	assert.Equal(t, "x", l.snapshot()[0].Summary)
}
