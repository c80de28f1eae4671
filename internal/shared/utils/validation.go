// Package utils holds small input-validation helpers shared by the
// transport layers.
package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Length limits for externally supplied identifiers.
const (
	MaxProfileIDLength = 128
	MaxUserIDLength    = 128
	MaxAlertIDLength   = 64
)

var (
	// SafeIDPattern allows alphanumeric, hyphens, underscores
	SafeIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	// AlertIDPattern covers prefixed ULIDs (alert_01H...)
	AlertIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
)

// ValidateString validates a string field with length and content checks
func ValidateString(value, fieldName string, minLen, maxLen int, required bool) error {
	if required && value == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	if value == "" && !required {
		return nil // Optional field, empty is OK
	}

	length := utf8.RuneCountInString(value)
	if length < minLen {
		return fmt.Errorf("%s must be at least %d characters", fieldName, minLen)
	}
	if length > maxLen {
		return fmt.Errorf("%s must not exceed %d characters", fieldName, maxLen)
	}

	// Check for null bytes (security issue)
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}

	return nil
}

// ValidateProfileID validates a profile identifier from a request path.
// Profile IDs double as data directory names, so the character set is
// restricted to what is safe in a path segment.
func ValidateProfileID(id string) error {
	if err := ValidateString(id, "profile id", 1, MaxProfileIDLength, true); err != nil {
		return err
	}

	if !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("profile id contains invalid characters (only alphanumeric, hyphens, and underscores allowed)")
	}

	return nil
}

// ValidateUserID validates an optional user identifier query parameter.
func ValidateUserID(id string) error {
	if err := ValidateString(id, "user id", 1, MaxUserIDLength, false); err != nil {
		return err
	}

	if id != "" && !SafeIDPattern.MatchString(id) {
		return fmt.Errorf("user id contains invalid characters (only alphanumeric, hyphens, and underscores allowed)")
	}

	return nil
}

// ValidateAlertID validates an alert identifier from a request path.
func ValidateAlertID(id string) error {
	if err := ValidateString(id, "alert id", 1, MaxAlertIDLength, true); err != nil {
		return err
	}

	if !AlertIDPattern.MatchString(id) {
		return fmt.Errorf("alert id contains invalid characters")
	}

	return nil
}
