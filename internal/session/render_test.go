package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderResponseWrapsJSONObject(t *testing.T) {
	out := renderResponse(`{"status": "ok"}`)
	assert.Equal(t, `<pre data-content-type="application/json">{"status": "ok"}</pre>`, out)
}

func TestRenderResponseWrapsJSONArray(t *testing.T) {
	out := renderResponse(`  [1, 2, 3]  `)
	assert.Equal(t, `<pre data-content-type="application/json">[1, 2, 3]</pre>`, out)
}

func TestRenderResponsePassesThroughProse(t *testing.T) {
	assert.Equal(t, "plain answer", renderResponse("plain answer"))
	assert.Equal(t, "", renderResponse(""))
	assert.Equal(t, "{", renderResponse("{"))
}

func TestRenderResponsePassesThroughInvalidJSON(t *testing.T) {
	in := `{"status": broken}`
	assert.Equal(t, in, renderResponse(in))
}

func TestRecoverPrintedTextDoubleQuotes(t *testing.T) {
	raw := `print("Hello there")`
	assert.Equal(t, "Hello there", recoverPrintedText(raw))
}

func TestRecoverPrintedTextSingleQuotes(t *testing.T) {
	raw := `print('single quoted')`
	assert.Equal(t, "single quoted", recoverPrintedText(raw))
}

func TestRecoverPrintedTextMultipleCalls(t *testing.T) {
	raw := `print("line one")` + "\nsome noise\n" + `print("line two")`
	assert.Equal(t, "line one\nline two", recoverPrintedText(raw))
}

func TestRecoverPrintedTextEscapes(t *testing.T) {
	raw := `print("she said \"hi\"\nnext\tline")`
	assert.Equal(t, "she said \"hi\"\nnext\tline", recoverPrintedText(raw))
}

func TestRecoverPrintedTextNothingRecoverable(t *testing.T) {
	assert.Equal(t, "", recoverPrintedText("for x in range(3): pass"))
	assert.Equal(t, "", recoverPrintedText(""))
}

func TestUnescapePython(t *testing.T) {
	assert.Equal(t, `back\slash`, unescapePython(`back\\slash`))
	assert.Equal(t, "it's", unescapePython(`it\'s`))
}
