package persist

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// pickString returns the first non-empty string among keys
func pickString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case json.Number:
			return t.String()
		case bool:
			return strconv.FormatBool(t)
		}
	}
	return ""
}

// pickNumber returns the first numeric value among keys, or nil
func pickNumber(m map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if f, ok := toNumber(m[k]); ok {
			return f
		}
	}
	return nil
}

func toNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// textOrNil stringifies scalars for TEXT columns such as side or status
func textOrNil(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		return s
	}
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// encodeJSON renders v for a JSON column. nil stays NULL.
func encodeJSON(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json column: %w", err)
	}
	return string(data), nil
}

// decodeJSON turns a JSON column value back into a Go value
func decodeJSON(v interface{}) interface{} {
	var raw []byte
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		raw = []byte(t)
	case []byte:
		raw = t
	default:
		return v
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return string(raw)
	}
	return out
}

// items extracts the record list from a broker payload. Paged responses wrap
// it in one of a few well-known keys.
func items(data interface{}) []interface{} {
	switch t := data.(type) {
	case []interface{}:
		return t
	case map[string]interface{}:
		for _, key := range []string{"records", "content", "items", "data", "bars"} {
			if list, ok := t[key].([]interface{}); ok {
				return list
			}
		}
	}
	return nil
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}
