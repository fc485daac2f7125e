package wsproto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestMessageFrame(t *testing.T) {
	m := decode(t, Message("assistant", "hello"))
	assert.Equal(t, TypeMessage, m["type"])
	assert.Equal(t, "assistant", m["role"])
	assert.Equal(t, "hello", m["content"])
}

func TestStatusFrames(t *testing.T) {
	m := decode(t, Status(StatusThinking))
	assert.Equal(t, TypeStatus, m["type"])
	assert.Equal(t, "thinking", m["content"])

	m = decode(t, Error("turn failed"))
	assert.Equal(t, TypeStatus, m["type"])
	assert.Equal(t, "error: turn failed", m["content"])
}

func TestEventsFrame(t *testing.T) {
	m := decode(t, Events([]string{"a", "b"}))
	assert.Equal(t, TypeEvents, m["type"])
	assert.Equal(t, []any{"a", "b"}, m["content"])
}

func TestWebhookResultFrame(t *testing.T) {
	m := decode(t, WebhookResult("id-1", "deploy", "prompt text", "done"))
	assert.Equal(t, TypeWebhookResult, m["type"])
	assert.Equal(t, "id-1", m["webhook_id"])
	assert.Equal(t, "deploy", m["webhook_name"])
	assert.Equal(t, "prompt text", m["prompt"])
	assert.Equal(t, "done", m["response"])
	assert.NotEmpty(t, m["timestamp"])
}

func TestPong(t *testing.T) {
	m := decode(t, Pong())
	assert.Equal(t, TypePong, m["type"])
}
