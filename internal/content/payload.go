package content

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// nested returns payload[key] when it is an object, otherwise payload.
func nested(payload map[string]any, key string) map[string]any {
	if m, ok := payload[key].(map[string]any); ok {
		return m
	}
	if payload == nil {
		return map[string]any{}
	}
	return payload
}

func str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any, []string:
		return strings.Join(strs(m, key), ", ")
	default:
		return fmt.Sprint(v)
	}
}

// strs accepts a JSON array or a comma separated string.
func strs(m map[string]any, key string) []string {
	var out []string
	switch v := m[key].(type) {
	case []string:
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case []any:
		for _, e := range v {
			if s := strings.TrimSpace(fmt.Sprint(e)); e != nil && s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func num(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f
	}
	return 0
}

// ToMap converts a record to the plain nested map used for payloads and
// state export.
func ToMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// FromMap decodes a nested map produced by ToMap into dst.
func FromMap(m map[string]any, dst any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode map: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %T: %w", dst, err)
	}
	return nil
}
