package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanStripsControlCharacters(t *testing.T) {
	s := New(0, nil)

	assert.Equal(t, "hello world", s.Clean("hel\x00lo \x1bworld\x7f", "test"))
}

func TestCleanKeepsTabAndNewline(t *testing.T) {
	s := New(0, nil)

	assert.Equal(t, "a\tb\nc", s.Clean("a\tb\nc", "test"))
}

func TestCleanNormalizesCarriageReturns(t *testing.T) {
	s := New(0, nil)

	assert.Equal(t, "a\n\nb", s.Clean("a\r\r\nb", "test"))
}

func TestCleanStripsC1Range(t *testing.T) {
	s := New(0, nil)

	assert.Equal(t, "ab", s.Clean("a\u0085b\u009f", "test"))
}

func TestCleanCapsLength(t *testing.T) {
	s := New(10, nil)

	out := s.Clean(strings.Repeat("x", 100), "test")
	assert.Len(t, out, 10)
}

func TestCleanCapRespectsRuneBoundaries(t *testing.T) {
	s := New(4, nil)

	// Each rune is 3 bytes; a byte cap of 4 must not split the second one.
	out := s.Clean("日本語", "test")
	assert.Equal(t, "日", out)
}

func TestCleanZeroValueSanitizer(t *testing.T) {
	var s Sanitizer

	out := s.Clean("plain text", "test")
	assert.Equal(t, "plain text", out)
}

func TestCleanAnyRecursesIntoMapsAndSlices(t *testing.T) {
	s := New(0, nil)

	in := map[string]any{
		"text": "a\x00b",
		"nested": map[string]any{
			"items": []any{"c\x1bd", 42, true},
		},
	}
	out, ok := s.CleanAny(in, "test").(map[string]any)
	assert.True(t, ok)
	assert.Equal(t, "ab", out["text"])

	nested := out["nested"].(map[string]any)
	items := nested["items"].([]any)
	assert.Equal(t, "cd", items[0])
	assert.Equal(t, 42, items[1])
	assert.Equal(t, true, items[2])
}

func TestCleanAnyPassesThroughScalars(t *testing.T) {
	s := New(0, nil)

	assert.Equal(t, 3.5, s.CleanAny(3.5, "test"))
	assert.Nil(t, s.CleanAny(nil, "test"))
}
