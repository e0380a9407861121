package validation

import (
	"regexp"
	"strings"
)

// Size limits for sanitization.
const (
	// MaxStringLength is the maximum length of any string value (1MB).
	// Strings longer than this are truncated to prevent memory exhaustion.
	MaxStringLength = 1048576

	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 255
)

// toolNamePattern validates tool names. Tool names must start with a letter
// and contain only alphanumeric characters, underscores, and hyphens.
var toolNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// Sanitizer validates the shape of a proposed tool call and recursively
// sanitizes its argument tree before it reaches the Payload Normalizer.
type Sanitizer struct{}

// NewSanitizer creates a new Sanitizer instance.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

// ValidateToolName validates a tool name, returning a *ValidationError if
// it is empty, too long, contains path-traversal sequences, or otherwise
// doesn't match toolNamePattern.
func (s *Sanitizer) ValidateToolName(name string) error {
	if name == "" {
		return NewValidationError("tool name is required")
	}
	if len(name) > MaxToolNameLength {
		return NewValidationError("tool name too long")
	}
	if strings.Contains(name, "..") || strings.Contains(name, "/") {
		return NewValidationError("invalid characters in tool name")
	}
	if !toolNamePattern.MatchString(name) {
		return NewValidationError("invalid tool name format")
	}
	return nil
}

// SanitizeValue recursively sanitizes a value: strings have null bytes
// stripped and are truncated at MaxStringLength; maps and slices recurse;
// other scalar types pass through unchanged.
func (s *Sanitizer) SanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return s.sanitizeString(val)
	case map[string]interface{}:
		result := make(map[string]interface{}, len(val))
		for k, e := range val {
			result[k] = s.SanitizeValue(e)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(val))
		for i, e := range val {
			result[i] = s.SanitizeValue(e)
		}
		return result
	default:
		return v
	}
}

func (s *Sanitizer) sanitizeString(str string) string {
	str = strings.ReplaceAll(str, "\x00", "")
	if len(str) > MaxStringLength {
		str = str[:MaxStringLength]
	}
	return str
}

// SanitizeRequest validates tool and sanitizes args, returning the
// sanitized argument tree or a *ValidationError.
func (s *Sanitizer) SanitizeRequest(tool string, args map[string]interface{}) (map[string]interface{}, error) {
	if err := s.ValidateToolName(tool); err != nil {
		return nil, err
	}
	if args == nil {
		return map[string]interface{}{}, nil
	}
	sanitized := s.SanitizeValue(args).(map[string]interface{})
	return sanitized, nil
}
