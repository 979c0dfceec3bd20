package api

import (
	"regexp"
	"unicode/utf8"
)

// maxNameLen is the maximum length for extension display names.
const maxNameLen = 200

// maxUsernameLen is the maximum length for operator usernames.
const maxUsernameLen = 40

// passwordLen bounds operator passwords.
const (
	minPasswordLen = 8
	maxPasswordLen = 256
)

// extensionRe validates monitored extension numbers: 3 to 5 digits. Feature
// codes and trunk identifiers never match.
var extensionRe = regexp.MustCompile(`^\d{3,5}$`)

// usernameRe validates operator usernames.
var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9._\-]+$`)

// validateStringLen checks that a string does not exceed maxLen characters.
// Returns an error message if invalid, empty string if OK.
func validateStringLen(field, value string, maxLen int) string {
	if utf8.RuneCountInString(value) > maxLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// validateExtensionNumber checks that a number has the monitored shape.
func validateExtensionNumber(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if !extensionRe.MatchString(value) {
		return field + " must be 3-5 digits"
	}
	return ""
}

// validateCredentials checks a username/password pair for setup.
func validateCredentials(username, password string) string {
	if username == "" {
		return "username is required"
	}
	if msg := validateStringLen("username", username, maxUsernameLen); msg != "" {
		return msg
	}
	if !usernameRe.MatchString(username) {
		return "username may only contain letters, digits, dots, dashes, and underscores"
	}
	if len(password) < minPasswordLen {
		return "password must be at least 8 characters"
	}
	if len(password) > maxPasswordLen {
		return "password exceeds maximum length"
	}
	return ""
}
