package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fenceRe = regexp.MustCompile("(?s)```([A-Za-z]*)[ \t]*\r?\n(.*?)```")

// FencedStrategy decodes ```json fenced blocks. A block wins when it is
// a JSON object carrying the kind's marker key.
type FencedStrategy struct{}

func (FencedStrategy) Name() string { return "fenced" }

func (FencedStrategy) Extract(kind Kind, text string) (Outcome, bool) {
	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		lang := strings.ToLower(m[1])
		body := strings.TrimSpace(m[2])
		if lang != "json" && !(lang == "" && strings.HasPrefix(body, "{")) {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(body), &payload); err != nil {
			continue
		}
		if out, ok := outcomeFrom(kind, payload); ok {
			return out, true
		}
	}
	return Outcome{}, false
}

// BraceStrategy finds the quoted marker token in text and decodes the
// innermost balanced {...} span around it that carries the marker as a
// top-level key. Brace matching counts depth and skips string literals,
// so nested objects and braces inside strings are handled.
type BraceStrategy struct{}

func (BraceStrategy) Name() string { return "brace" }

func (BraceStrategy) Extract(kind Kind, text string) (Outcome, bool) {
	token := `"` + kind.Marker() + `"`
	for off := 0; ; {
		idx := strings.Index(text[off:], token)
		if idx < 0 {
			return Outcome{}, false
		}
		idx += off
		if out, ok := decodeAround(kind, text, idx); ok {
			return out, true
		}
		off = idx + len(token)
	}
}

func decodeAround(kind Kind, text string, markerIdx int) (Outcome, bool) {
	for open := strings.LastIndexByte(text[:markerIdx], '{'); open >= 0; open = strings.LastIndexByte(text[:open], '{') {
		end := matchBrace(text, open)
		if end < markerIdx {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(text[open:end+1]), &payload); err != nil {
			continue
		}
		if out, ok := outcomeFrom(kind, payload); ok {
			return out, true
		}
	}
	return Outcome{}, false
}

// matchBrace returns the index of the '}' closing the '{' at open, or -1
// if the text ends first.
func matchBrace(text string, open int) int {
	depth := 0
	inString := false
	escaped := false
	for i := open; i < len(text); i++ {
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
				return i
			}
		}
	}
	return -1
}
