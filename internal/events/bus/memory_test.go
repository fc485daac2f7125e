package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusPublishSubscribe(t *testing.T) {
	b := NewMemoryEventBus()
	defer b.Close()

	received := make(chan []byte, 1)
	_, err := b.Subscribe("session.created", func(subject string, data []byte) {
		received <- data
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish("session.created", []byte("payload")))

	select {
	case data := <-received:
		assert.Equal(t, []byte("payload"), data)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestMemoryBusSubjectIsolation(t *testing.T) {
	b := NewMemoryEventBus()
	defer b.Close()

	var mu sync.Mutex
	var got []string
	_, err := b.Subscribe("a", func(subject string, data []byte) {
		mu.Lock()
		got = append(got, subject)
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish("b", []byte("x")))
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, got)
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	b := NewMemoryEventBus()
	defer b.Close()

	received := make(chan struct{}, 4)
	sub, err := b.Subscribe("a", func(subject string, data []byte) {
		received <- struct{}{}
	})
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())

	require.NoError(t, b.Publish("a", []byte("x")))
	select {
	case <-received:
		t.Fatal("handler invoked after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryBusMultipleSubscribers(t *testing.T) {
	b := NewMemoryEventBus()
	defer b.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		_, err := b.Subscribe("a", func(subject string, data []byte) {
			wg.Done()
		})
		require.NoError(t, err)
	}

	require.NoError(t, b.Publish("a", []byte("x")))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all subscribers were invoked")
	}
}

func TestMemoryBusCloseDropsSubscriptions(t *testing.T) {
	b := NewMemoryEventBus()
	assert.True(t, b.IsConnected())

	b.Close()
	assert.False(t, b.IsConnected())
}
