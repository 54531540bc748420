// Package extract pulls a parseable payload out of free-form generated text.
// Precedence is fixed: a fenced block labeled as structured data, then the
// first balanced {...} span, then the raw text verbatim.
package extract

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoPayload is returned when no candidate in the precedence chain parses
// as the expected payload format. This is fatal to the current stage.
var ErrNoPayload = errors.New("no parseable payload found in generated text")

var (
	jsonFenceRe = regexp.MustCompile("(?s)```(?:json|JSON)\\s*\\n(.*?)\\n\\s*```")
	anyFenceRe  = regexp.MustCompile("(?s)```[a-zA-Z0-9]*\\s*\\n(.*?)\\n\\s*```")
	codeFenceRe = regexp.MustCompile("(?s)```(?:go|golang)?\\s*\\n(.*?)\\n\\s*```")
)

// Payload extracts a JSON object payload from generated text.
// Order of preference:
//  1. a fenced block explicitly labeled json
//  2. any fenced block whose contents parse as a JSON object
//  3. the first balanced {...} span
//  4. the raw text, if it parses
func Payload(text string) (string, error) {
	if m := jsonFenceRe.FindStringSubmatch(text); m != nil {
		candidate := strings.TrimSpace(m[1])
		if isJSONObject(candidate) {
			return candidate, nil
		}
	}
	for _, m := range anyFenceRe.FindAllStringSubmatch(text, -1) {
		candidate := strings.TrimSpace(m[1])
		if isJSONObject(candidate) {
			return candidate, nil
		}
	}
	if span := balancedBraceSpan(text); span != "" && isJSONObject(span) {
		return span, nil
	}
	raw := strings.TrimSpace(text)
	if isJSONObject(raw) {
		return raw, nil
	}
	return "", ErrNoPayload
}

// Code extracts a source-code payload from generated text: a fenced code
// block if present, otherwise the raw text. Code payloads are not parsed
// here; the sandbox decides whether they evaluate.
func Code(text string) string {
	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// balancedBraceSpan returns the first balanced {...} span, respecting JSON
// string literals and escapes. An unclosed early brace does not hide a later
// balanced span. Empty string when none exists.
func balancedBraceSpan(text string) string {
	for offset := 0; offset < len(text); {
		rel := strings.IndexByte(text[offset:], '{')
		if rel < 0 {
			return ""
		}
		start := offset + rel
		if span := spanFrom(text, start); span != "" {
			return span
		}
		offset = start + 1
	}
	return ""
}

func spanFrom(text string, start int) string {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

func isJSONObject(s string) bool {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{") {
		return false
	}
	var m map[string]interface{}
	return json.Unmarshal([]byte(s), &m) == nil
}
