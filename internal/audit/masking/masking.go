package masking

import "strings"

const maskToken = "****"

var sensitiveMarkers = []string{"key", "secret", "token", "password"}

// MaskSecret redacts a secret while keeping a minimal suffix for auditing.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}

	return prefix + maskToken + remainder[len(remainder)-4:]
}

// MaskSensitive returns a copy of input where string values under
// credential-like keys are masked. Nested maps are walked.
func MaskSensitive(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	out := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			out[trimmedKey] = MaskSensitive(nested)
			continue
		}
		if isSensitive(trimmedKey) {
			out[trimmedKey] = maskValue(value)
			continue
		}
		out[trimmedKey] = value
	}

	if len(out) == 0 {
		return nil
	}
	return out
}

func maskValue(value any) any {
	switch cast := value.(type) {
	case string:
		return MaskSecret(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(item))
		}
		return out
	default:
		return value
	}
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func splitPrefix(value string) (string, string) {
	lastUnderscore := strings.LastIndex(value, "_")
	if lastUnderscore == -1 || lastUnderscore == len(value)-1 {
		return "", value
	}
	return value[:lastUnderscore+1], value[lastUnderscore+1:]
}
