// Package wsproto defines the WebSocket frame types exchanged with
// clients. Every frame is a JSON object with a "type" discriminator.
package wsproto

import (
	"encoding/json"
	"time"
)

// Frame types.
const (
	TypeMessage       = "message"
	TypeEvents        = "events"
	TypeStatus        = "status"
	TypeWebhookResult = "webhook_result"
	TypePing          = "ping"
	TypePong          = "pong"
)

// Status values carried by status frames.
const (
	StatusThinking = "thinking"
	StatusReady    = "ready"
)

// MessageFrame is a chat message pushed to the client.
type MessageFrame struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// EventsFrame carries the classified events of the last turn.
type EventsFrame struct {
	Type    string `json:"type"`
	Content any    `json:"content"`
}

// StatusFrame signals pipeline state: thinking, ready, or "error: ...".
type StatusFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// WebhookResultFrame reports a completed webhook-triggered turn.
type WebhookResultFrame struct {
	Type        string `json:"type"`
	WebhookID   string `json:"webhook_id"`
	WebhookName string `json:"webhook_name"`
	Prompt      string `json:"prompt"`
	Response    string `json:"response"`
	Timestamp   string `json:"timestamp"`
}

// ClientFrame is an inbound frame from a client.
type ClientFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// Message builds a message frame.
func Message(role, content string) []byte {
	return marshal(MessageFrame{Type: TypeMessage, Role: role, Content: content})
}

// Events builds an events frame.
func Events(events any) []byte {
	return marshal(EventsFrame{Type: TypeEvents, Content: events})
}

// Status builds a status frame.
func Status(content string) []byte {
	return marshal(StatusFrame{Type: TypeStatus, Content: content})
}

// Error builds a status frame carrying an error.
func Error(message string) []byte {
	return Status("error: " + message)
}

// WebhookResult builds a webhook result frame.
func WebhookResult(webhookID, webhookName, prompt, response string) []byte {
	return marshal(WebhookResultFrame{
		Type:        TypeWebhookResult,
		WebhookID:   webhookID,
		WebhookName: webhookName,
		Prompt:      prompt,
		Response:    response,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
}

// Pong builds the reply to a client ping.
func Pong() []byte {
	return marshal(ClientFrame{Type: TypePong})
}

func marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"type":"status","content":"error: encode failed"}`)
	}
	return b
}
