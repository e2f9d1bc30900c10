package protocol

import (
	"encoding/json"
	"strings"
)

// ExtractContent turns a tools/call result into display text:
// a content array yields its text items joined by newlines, a bare string
// is returned as is, and anything else is pretty-printed JSON.
func ExtractContent(result json.RawMessage) string {
	if text, ok := TextContent(result); ok {
		return text
	}

	var s string
	if err := json.Unmarshal(result, &s); err == nil {
		return s
	}

	return prettyJSON(result)
}

// TextContent joins the text items of a result carrying a content array.
// ok is false when the result has no such array.
func TextContent(result json.RawMessage) (string, bool) {
	var envelope struct {
		Content []json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(result, &envelope); err != nil || envelope.Content == nil {
		return "", false
	}

	texts := make([]string, 0, len(envelope.Content))
	for _, raw := range envelope.Content {
		var item struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if json.Unmarshal(raw, &item) != nil || item.Type != "text" {
			continue
		}
		texts = append(texts, item.Text)
	}

	return strings.Join(texts, "\n"), true
}

func prettyJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}

	return string(out)
}

// Preview returns at most n characters of s, followed by "..." when cut.
func Preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[:n]) + "..."
}
