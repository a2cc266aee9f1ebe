// Package masking redacts credentials and personal data before they are
// persisted in audit metadata.
package masking

import "strings"

const maskToken = "****"

var sensitiveKeys = map[string]struct{}{
	"token":              {},
	"public_token":       {},
	"token_hash":         {},
	"email":              {},
	"verification_email": {},
}

// MaskSecret redacts a secret while keeping a minimal suffix.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if len(trimmed) <= 8 {
		return maskToken
	}
	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(value string) string {
	trimmed := strings.TrimSpace(value)
	at := strings.LastIndex(trimmed, "@")
	if at <= 0 || at == len(trimmed)-1 {
		return MaskSecret(trimmed)
	}
	return trimmed[:1] + maskToken + trimmed[at:]
}

// MaskMetadata returns a copy of input with sensitive keys redacted at any
// depth. Other values are kept as is.
func MaskMetadata(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		masked[trimmedKey] = maskValue(trimmedKey, value)
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func maskValue(key string, value any) any {
	switch cast := value.(type) {
	case string:
		if _, ok := sensitiveKeys[strings.ToLower(key)]; !ok {
			return cast
		}
		if strings.Contains(strings.ToLower(key), "email") {
			return MaskEmail(cast)
		}
		return MaskSecret(cast)
	case map[string]any:
		return MaskMetadata(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(key, item))
		}
		return out
	default:
		return value
	}
}
