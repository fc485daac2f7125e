package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perrymanuk/radbot/internal/common/logger"
	"github.com/perrymanuk/radbot/internal/runtime"
	"github.com/perrymanuk/radbot/internal/store"
)

func testLog(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)
	return log
}

// fakeStore records persistence calls and serves canned history.
type fakeStore struct {
	mu      sync.Mutex
	history []*store.Message
	recentN []int
	added   []*store.Message
	touched int
}

func (f *fakeStore) EnsureSession(ctx context.Context, id uuid.UUID, name, userID string) (*store.Session, error) {
	return &store.Session{ID: id, Name: name, UserID: userID, Active: true}, nil
}

func (f *fakeStore) RecentMessages(ctx context.Context, sessionID uuid.UUID, n int) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recentN = append(f.recentN, n)
	return f.history, nil
}

func (f *fakeStore) AddMessage(ctx context.Context, m *store.Message) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, m)
	return uuid.New(), nil
}

func (f *fakeStore) TouchSession(ctx context.Context, id uuid.UUID, preview string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched++
	return nil
}

func turnRunner(t *testing.T, fs *fakeStore, historyReplay int) (*Runner, *runtime.FakeRunner) {
	t.Helper()
	fake := runtime.NewFakeRunner("beto", nil)
	r, err := NewRunner(context.Background(), uuid.New(), fs, fake, fake.Sessions,
		map[string]string{"beto": "gemini-2.5-pro"}, historyReplay, testLog(t))
	require.NoError(t, err)
	return r, fake
}

func TestProcessMessageFinalResponse(t *testing.T) {
	fs := &fakeStore{}
	r, fake := turnRunner(t, fs, 0)
	fake.Enqueue(&runtime.Event{Author: "beto", Content: runtime.NewModelText("All done.")})

	result, err := r.ProcessMessage(context.Background(), "do the thing")
	require.NoError(t, err)

	assert.Equal(t, "All done.", result.Response)
	assert.Equal(t, "beto", result.AgentName)
	require.Len(t, result.Events, 1)
	assert.Equal(t, KindModelResponse, result.Events[0].Kind)
	assert.Equal(t, true, result.Events[0].Payload["is_final"])

	require.Len(t, fs.added, 2)
	assert.Equal(t, store.RoleUser, fs.added[0].Role)
	assert.Equal(t, "do the thing", fs.added[0].Content)
	assert.Equal(t, store.RoleAssistant, fs.added[1].Role)
	assert.Equal(t, "All done.", fs.added[1].Content)
	assert.Equal(t, "beto", fs.added[1].AgentName)
	assert.Equal(t, 1, fs.touched)
}

func TestProcessMessageFallsBackToLastIntermediateText(t *testing.T) {
	r, fake := turnRunner(t, &fakeStore{}, 0)
	fake.Enqueue(
		&runtime.Event{Author: "beto", Partial: true, Content: runtime.NewModelText("partial answer")},
		&runtime.Event{Author: "beto", FinishReason: "STOP"},
	)

	result, err := r.ProcessMessage(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "partial answer", result.Response)
}

func TestProcessMessageRecoversMalformedFunctionCall(t *testing.T) {
	r, fake := turnRunner(t, &fakeStore{}, 0)
	fake.Enqueue(&runtime.Event{
		Author:       "beto",
		FinishReason: runtime.FinishReasonMalformedFunctionCall,
		RawText:      `print("The weather is clear tonight.")`,
	})

	result, err := r.ProcessMessage(context.Background(), "weather?")
	require.NoError(t, err)

	assert.Equal(t, "The weather is clear tonight.", result.Response)
	require.NotEmpty(t, result.Events)
	last := result.Events[len(result.Events)-1]
	assert.Equal(t, KindModelResponse, last.Kind)
	assert.Equal(t, "malformed_function_call", last.Details["recovered_from"])
}

func TestProcessMessageApologizesWhenStreamHasNoText(t *testing.T) {
	r, fake := turnRunner(t, &fakeStore{}, 0)
	fake.Enqueue(&runtime.Event{Author: "beto", FinishReason: "STOP"})

	result, err := r.ProcessMessage(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, apologyText, result.Response)
}

func TestProcessMessageTruncatesRuntimeBuffer(t *testing.T) {
	fs := &fakeStore{}
	r, fake := turnRunner(t, fs, 0)

	sess := fake.Sessions.GetOrCreate("beto", store.DefaultUserID, r.SessionID().String())
	for i := 0; i < 30; i++ {
		sess.AppendEvent(&runtime.Event{
			Author:  "beto",
			Content: runtime.NewModelText(fmt.Sprintf("old turn %d", i)),
		})
	}
	fake.Enqueue(&runtime.Event{Author: "beto", Content: runtime.NewModelText("done")})

	_, err := r.ProcessMessage(context.Background(), "hello")
	require.NoError(t, err)

	// 30 seeded events truncated to 20 before the invocation, then the
	// user message and the scripted reply are appended.
	assert.Equal(t, 22, sess.EventCount())
}

func TestNewRunnerReplaysConfiguredHistory(t *testing.T) {
	fs := &fakeStore{history: []*store.Message{
		{Role: store.RoleUser, Content: "hi", CreatedAt: time.Now().UTC()},
		{Role: store.RoleAssistant, Content: "hello", AgentName: "beto", CreatedAt: time.Now().UTC()},
	}}
	fake := runtime.NewFakeRunner("beto", nil)

	r, err := NewRunner(context.Background(), uuid.New(), fs, fake, fake.Sessions,
		nil, 5, testLog(t))
	require.NoError(t, err)

	assert.Equal(t, []int{5}, fs.recentN)
	sess, ok := fake.Sessions.Get("beto", store.DefaultUserID, r.SessionID().String())
	require.True(t, ok)
	assert.Equal(t, 2, sess.EventCount())
}

func TestNewRunnerSkipsReplayWhenDisabled(t *testing.T) {
	fs := &fakeStore{history: []*store.Message{
		{Role: store.RoleUser, Content: "hi", CreatedAt: time.Now().UTC()},
	}}
	fake := runtime.NewFakeRunner("beto", nil)

	_, err := NewRunner(context.Background(), uuid.New(), fs, fake, fake.Sessions,
		nil, 0, testLog(t))
	require.NoError(t, err)
	assert.Empty(t, fs.recentN)
}
