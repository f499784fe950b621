package gateway

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

// Limits of the downstream collection platform.
const (
	maxEventNameLength = 40
	maxParamLength     = 100
	maxParamsPerEvent  = 25
)

var snakeCase = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidEventName reports whether name is snake_case and within the length limit.
func ValidEventName(name string) bool {
	return name != "" && len(name) <= maxEventNameLength && snakeCase.MatchString(name)
}

// SanitizeParams keeps at most 25 snake_case keys, in key order, truncating
// string values to 100 characters and encoding composite values as JSON.
// Nil values are dropped but still count toward the limit.
func SanitizeParams(params map[string]any) map[string]any {
	if len(params) == 0 {
		return map[string]any{}
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sanitized := make(map[string]any, len(keys))
	count := 0
	for _, key := range keys {
		if count >= maxParamsPerEvent {
			break
		}
		if !snakeCase.MatchString(key) {
			continue
		}
		if value, ok := sanitizeValue(params[key]); ok {
			sanitized[key] = value
		}
		count++
	}

	return sanitized
}

func sanitizeValue(value any) (any, bool) {
	switch v := value.(type) {
	case nil:
		return nil, false
	case bool, int, int32, int64, uint, uint32, uint64, float32, float64:
		return v, true
	case string:
		return truncate(v), true
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return truncate(fmt.Sprint(v)), true
		}
		return truncate(string(encoded)), true
	}
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= maxParamLength {
		return s
	}
	return string(runes[:maxParamLength])
}
