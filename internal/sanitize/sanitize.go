// Package sanitize strips hostile control sequences from content entering
// the agent pipeline from outside: scheduler prompts, reminder messages,
// memory search results, and MCP tool outputs.
package sanitize

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/perrymanuk/radbot/internal/common/logger"
)

// DefaultMaxLen bounds sanitized content when no budget is configured.
const DefaultMaxLen = 16384

// Sources, used for logging which ingress point produced oversized or
// dirty content.
const (
	SourceScheduler = "scheduler"
	SourceReminder  = "reminder"
	SourceMemory    = "memory"
	SourceMCPTool   = "mcp-tool"
)

// Sanitizer bounds and cleans untrusted text. The zero value is usable.
type Sanitizer struct {
	MaxLen int
	Log    *logger.Logger
}

// New creates a Sanitizer with the given budget.
func New(maxLen int, log *logger.Logger) *Sanitizer {
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Sanitizer{MaxLen: maxLen, Log: log}
}

// Clean removes control characters except tab and newline, and caps the
// result to the configured budget. It never panics; defence-in-depth
// against prompt-injected control sequences, not HTML sanitisation.
func (s *Sanitizer) Clean(text, source string) string {
	defer func() { _ = recover() }()

	maxLen := s.MaxLen
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}

	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n':
			return r
		case r == '\r':
			return '\n'
		case r < 0x20 || r == 0x7f:
			return -1
		case r >= 0x80 && r <= 0x9f:
			return -1
		default:
			return r
		}
	}, text)

	if len(cleaned) > maxLen {
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(cleaned[cut]) {
			cut--
		}
		cleaned = cleaned[:cut]
		if s.Log != nil {
			s.Log.Warn("content truncated",
				zap.String("source", source),
				zap.Int("original_len", len(text)),
				zap.Int("max_len", maxLen))
		}
	}

	return cleaned
}

// CleanAny recursively sanitizes strings inside maps, slices, and scalars.
// Unknown types pass through unchanged. Never panics.
func (s *Sanitizer) CleanAny(v any, source string) any {
	defer func() { _ = recover() }()

	switch t := v.(type) {
	case string:
		return s.Clean(t, source)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = s.CleanAny(val, source)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = s.CleanAny(val, source)
		}
		return out
	default:
		return v
	}
}
