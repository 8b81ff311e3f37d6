package auditlog

import "strings"

const maskToken = "****"

var sensitiveKeys = map[string]struct{}{
	"token":         {},
	"access_token":  {},
	"api_secret":    {},
	"secret":        {},
	"password":      {},
	"authorization": {},
	"email":         {},
	"guest_email":   {},
	"phone":         {},
	"guest_phone":   {},
}

// MaskSecret redacts a value while keeping a minimal suffix for auditing.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 4 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskFields returns a copy of fields with values under sensitive keys masked.
// Nested maps and slices are walked.
func MaskFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return nil
	}

	masked := make(map[string]any, len(fields))
	for key, value := range fields {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		if isSensitive(trimmedKey) {
			masked[trimmedKey] = maskValue(value)
			continue
		}
		masked[trimmedKey] = walk(value)
	}
	return masked
}

func isSensitive(key string) bool {
	_, ok := sensitiveKeys[strings.ToLower(key)]
	return ok
}

func walk(value any) any {
	switch cast := value.(type) {
	case map[string]any:
		return MaskFields(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, walk(item))
		}
		return out
	default:
		return value
	}
}

func maskValue(value any) any {
	switch cast := value.(type) {
	case string:
		return MaskSecret(cast)
	case map[string]any, []any:
		return walk(cast)
	case nil:
		return nil
	default:
		return maskToken
	}
}
