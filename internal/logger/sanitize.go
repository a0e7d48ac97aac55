package logger

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	maxStringLen  = 500
	maxArrayItems = 20
	maxObjectKeys = 50
	maxDepth      = 4
	redactedValue = "***"
)

var sensitiveKey = regexp.MustCompile(`(?i)token|authorization|password|secret|refresh|access|clientsecret|api[_-]?key`)

// Sanitize returns a log-safe copy of v: credential-like keys are masked and
// large strings, arrays and objects are truncated.
func Sanitize(v interface{}) interface{} {
	return sanitize(v, 0)
}

func sanitize(v interface{}, depth int) interface{} {
	if depth > maxDepth {
		return "[depth limit]"
	}
	switch t := v.(type) {
	case string:
		if len(t) > maxStringLen {
			return t[:maxStringLen] + "...(truncated)"
		}
		return t
	case []interface{}:
		n := len(t)
		if n > maxArrayItems {
			n = maxArrayItems
		}
		out := make([]interface{}, 0, n+1)
		for _, item := range t[:n] {
			out = append(out, sanitize(item, depth+1))
		}
		if len(t) > maxArrayItems {
			out = append(out, fmt.Sprintf("...(%d more)", len(t)-maxArrayItems))
		}
		return out
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]interface{}, len(keys))
		for i, k := range keys {
			if i >= maxObjectKeys {
				out["..."] = fmt.Sprintf("%d more keys", len(keys)-maxObjectKeys)
				break
			}
			if sensitiveKey.MatchString(k) {
				out[k] = redactedValue
				continue
			}
			out[k] = sanitize(t[k], depth+1)
		}
		return out
	}
	return v
}

// Summarize describes the shape of v in a few words for result log lines
func Summarize(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case []interface{}:
		return fmt.Sprintf("array(%d)", len(t))
	case []map[string]interface{}:
		return fmt.Sprintf("array(%d)", len(t))
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > 8 {
			keys = append(keys[:8], "...")
		}
		return "object{" + strings.Join(keys, ",") + "}"
	case string:
		return fmt.Sprintf("string(%d)", len(t))
	case bool, float64, int, int64:
		return fmt.Sprintf("%v", t)
	}
	return fmt.Sprintf("%T", v)
}
