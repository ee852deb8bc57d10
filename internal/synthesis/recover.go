package synthesis

import (
	"encoding/json"
	"strings"
)

// RecoverJSON pulls a JSON object out of a model reply. It tries, in
// order: the whole reply, the body of a ```json fence, and the span
// from the first '{' to the last '}'. Nothing recoverable yields an
// empty map.
func RecoverJSON(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}

	if m := tryParse(raw); m != nil {
		return m
	}
	if fenced := insideFence(raw); fenced != "" {
		if m := tryParse(fenced); m != nil {
			return m
		}
	}
	if span := braceSpan(raw); span != "" {
		if m := tryParse(span); m != nil {
			return m
		}
	}
	return map[string]any{}
}

func tryParse(s string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

// insideFence returns the body of the first ``` fence, tolerating a
// language tag after the opening backticks.
func insideFence(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return ""
	}
	body := s[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		firstLine := strings.TrimSpace(body[:nl])
		// A language tag like "json" sits alone on the opening line.
		if len(firstLine) <= 10 && !strings.ContainsAny(firstLine, "{}") {
			body = body[nl+1:]
		}
	}
	end := strings.Index(body, "```")
	if end < 0 {
		return strings.TrimSpace(body)
	}
	return strings.TrimSpace(body[:end])
}

func braceSpan(s string) string {
	first := strings.IndexByte(s, '{')
	last := strings.LastIndexByte(s, '}')
	if first < 0 || last <= first {
		return ""
	}
	return s[first : last+1]
}
