package session

import (
	"encoding/json"
	"regexp"
	"strings"
)

// printCallRe tolerantly matches print("...") and print('...') bodies,
// including escaped quotes, emitted by a model that produced code instead
// of a tool call.
var printCallRe = regexp.MustCompile(`print\(\s*(?:"((?:[^"\\]|\\.)*)"|'((?:[^'\\]|\\.)*)')\s*\)`)

// recoverPrintedText extracts the string arguments of print(...) calls
// from a malformed-function-call payload, joined with newlines. Returns ""
// when nothing recoverable is present.
func recoverPrintedText(raw string) string {
	matches := printCallRe.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return ""
	}
	lines := make([]string, 0, len(matches))
	for _, m := range matches {
		body := m[1]
		if body == "" {
			body = m[2]
		}
		lines = append(lines, unescapePython(body))
	}
	return strings.Join(lines, "\n")
}

// unescapePython resolves the common escapes found in printed strings.
func unescapePython(s string) string {
	replacer := strings.NewReplacer(
		`\"`, `"`,
		`\'`, `'`,
		`\n`, "\n",
		`\t`, "\t",
		`\\`, `\`,
	)
	return replacer.Replace(s)
}

// renderResponse wraps JSON payloads in a content-type marker for the
// client renderer. This is the only place the final text is mutated.
func renderResponse(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 2 {
		return text
	}
	first := trimmed[0]
	if first != '{' && first != '[' {
		return text
	}
	if !json.Valid([]byte(trimmed)) {
		return text
	}
	return `<pre data-content-type="application/json">` + trimmed + `</pre>`
}
