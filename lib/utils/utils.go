package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailPattern  = regexp.MustCompile(`^(?i)[a-z0-9._%+\-]+@(?:[a-z0-9\-]+\.)+[a-z]{2,}$`)
	letterPattern = regexp.MustCompile(`[a-zA-Z]`)
	digitPattern  = regexp.MustCompile(`[0-9]`)
)

// ValidateEmail takes an email string as input and returns a boolean indicating whether the input is a valid email address.
func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidatePassword takes a password string as input and returns a boolean indicating whether the input is a valid password.
// A valid password is at least 8 characters long and contains both letters and numbers.
func ValidatePassword(password string) bool {
	if len(password) < 8 {
		return false
	}
	return letterPattern.MatchString(password) && digitPattern.MatchString(password)
}

// ValidateUsername reports whether a username is long enough to be registered.
func ValidateUsername(username string) bool {
	return len(strings.TrimSpace(username)) >= 2
}

// PrintError prints the message inside a banner on stdout.
func PrintError(message string) {
	fmt.Print(FormatError(message))
}

// FormatError renders the banner printed by PrintError.
func FormatError(message string) string {
	message = "ERROR: " + message
	bannerChar := "="
	bannerLine := strings.Repeat(bannerChar, len(message)+4)

	var b strings.Builder
	b.WriteString(bannerLine + "\n")
	b.WriteString(fmt.Sprintf("%s %s %s\n", bannerChar, message, bannerChar))
	b.WriteString(bannerLine + "\n\n")
	return b.String()
}
