// Package validate provides input validation for user-supplied text and
// configured endpoints.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// String validation errors
var (
	ErrStringTooShort   = errors.New("string is too short")
	ErrStringTooLong    = errors.New("string is too long")
	ErrForbiddenPattern = errors.New("string matches a forbidden pattern")
	ErrEmpty            = errors.New("string is empty")
)

// MaxChatMessageLength is the longest chat message accepted, in characters.
const MaxChatMessageLength = 500

// promptInjectionPatterns catch attempts to override the assistant's instructions.
var promptInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)무시하고`),
	regexp.MustCompile(`(?i)시스템.*변경`),
	regexp.MustCompile(`(?i)역할.*바꿔`),
	regexp.MustCompile(`(?i)ignore.*system`),
}

// StringConstraints defines validation constraints for a string.
type StringConstraints struct {
	MinLength  int              // Minimum length in characters (0 = no minimum)
	MaxLength  int              // Maximum length in characters (0 = no maximum)
	Forbidden  []*regexp.Regexp // Patterns that must not match anywhere in the string
	AllowEmpty bool             // Whether empty strings are allowed
	TrimSpace  bool             // Whether to trim whitespace before validation
}

// String validates a string against the given constraints.
// Returns the validated (and optionally trimmed) string and an error if validation fails.
func String(s string, constraints StringConstraints) (string, error) {
	if constraints.TrimSpace {
		s = strings.TrimSpace(s)
	}

	if s == "" {
		if !constraints.AllowEmpty {
			return "", ErrEmpty
		}
		return s, nil
	}

	// Character count, not byte count
	length := utf8.RuneCountInString(s)

	if constraints.MinLength > 0 && length < constraints.MinLength {
		return "", fmt.Errorf("%w: got %d chars, need at least %d", ErrStringTooShort, length, constraints.MinLength)
	}
	if constraints.MaxLength > 0 && length > constraints.MaxLength {
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, length, constraints.MaxLength)
	}

	for _, re := range constraints.Forbidden {
		if re.MatchString(s) {
			return "", fmt.Errorf("%w: %s", ErrForbiddenPattern, re.String())
		}
	}

	return s, nil
}

// ChatMessage validates a conversational query:
// - 1-500 characters after trimming
// - No instruction-override phrases
func ChatMessage(msg string) (string, error) {
	return String(msg, StringConstraints{
		MinLength: 1,
		MaxLength: MaxChatMessageLength,
		Forbidden: promptInjectionPatterns,
		TrimSpace: true,
	})
}

// Identifier validates an opaque ID such as a content or user ID:
// - 1-64 characters
// - Letters, digits, dash and underscore only
func Identifier(id string) (string, error) {
	s, err := String(id, StringConstraints{MinLength: 1, MaxLength: 64, TrimSpace: true})
	if err != nil {
		return "", err
	}
	if !identifierPattern.MatchString(s) {
		return "", fmt.Errorf("%w: identifier %q", ErrForbiddenPattern, s)
	}
	return s, nil
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)
