package utils

import (
	"net/mail"
	"strings"
)

// ValidEmail reports whether addr is a plausible RFC 5322 address. Bare
// addresses only; display names ("A <a@b.c>") are rejected.
func ValidEmail(addr string) bool {
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return false
	}
	if parsed.Address != addr {
		return false
	}
	// net/mail accepts local-only addresses like "user@localhost";
	// delivery needs a routable domain.
	at := strings.LastIndex(addr, "@")
	return at > 0 && strings.Contains(addr[at+1:], ".")
}
