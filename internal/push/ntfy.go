// Package push sends best-effort notifications to an ntfy-compatible
// endpoint.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/perrymanuk/radbot/internal/common/config"
	"github.com/perrymanuk/radbot/internal/common/logger"
)

// Provider delivers a push notification. Implementations are best-effort;
// callers swallow errors.
type Provider interface {
	Available() bool
	Send(ctx context.Context, title, body string, tags []string) error
}

// NtfyProvider posts JSON to an ntfy server.
type NtfyProvider struct {
	url     string
	topic   string
	token   string
	enabled bool
	client  *http.Client
	log     *logger.Logger
}

type ntfyMessage struct {
	Topic   string   `json:"topic"`
	Title   string   `json:"title,omitempty"`
	Message string   `json:"message"`
	Tags    []string `json:"tags,omitempty"`
}

// NewNtfyProvider creates a provider from config.
func NewNtfyProvider(cfg *config.PushConfig, log *logger.Logger) *NtfyProvider {
	return &NtfyProvider{
		url:     cfg.URL,
		topic:   cfg.Topic,
		token:   cfg.Token,
		enabled: cfg.Enabled,
		client:  &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// Available reports whether the provider is configured and enabled.
func (p *NtfyProvider) Available() bool {
	return p.enabled && p.url != "" && p.topic != ""
}

// Send posts one notification. Errors are returned for logging only; no
// caller treats them as fatal.
func (p *NtfyProvider) Send(ctx context.Context, title, body string, tags []string) error {
	if !p.Available() {
		return nil
	}

	payload, err := json.Marshal(ntfyMessage{
		Topic:   p.topic,
		Title:   title,
		Message: body,
		Tags:    tags,
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification rejected: %s", resp.Status)
	}

	p.log.Debug("push notification sent",
		zap.String("title", title), zap.Int("body_len", len(body)))
	return nil
}
