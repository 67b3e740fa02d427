package auth

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeUsername trims the username and applies NFKC so visually
// identical names compare equal.
func NormalizeUsername(username string) string {
	return norm.NFKC.String(strings.TrimSpace(username))
}

// NormalizeEmail trims the address and lower-cases its domain part
func NormalizeEmail(email string) string {
	email = strings.TrimSpace(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	return email[:at] + "@" + strings.ToLower(email[at+1:])
}
