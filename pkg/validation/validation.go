package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// InviteCodeRegex matches the six-character room code.
	InviteCodeRegex = regexp.MustCompile(`^[A-Z0-9]{6}$`)

	// ResourceIDRegex matches catalog and room identifiers.
	ResourceIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)
)

func ValidateInviteCode(code string) error {
	if code == "" {
		return fmt.Errorf("invite code is required")
	}
	if !InviteCodeRegex.MatchString(code) {
		return fmt.Errorf("invalid invite code format")
	}
	return nil
}

// ValidateResourceID checks ids supplied by clients (movie, episode, room).
func ValidateResourceID(id, fieldName string) error {
	if id == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(id) > 128 {
		return fmt.Errorf("%s is too long (max 128 characters)", fieldName)
	}
	if !ResourceIDRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format", fieldName)
	}
	return nil
}

// ValidateChatText expects already sanitized text.
func ValidateChatText(text string, maxRunes int) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message text is required")
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message text contains invalid characters")
	}
	return ValidateStringLength(text, 1, maxRunes, "message text")
}

func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
