package service

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	gomail "github.com/emersion/go-message/mail"
)

var (
	// ErrInvalidRecipient is returned for empty, phone-shaped or malformed addresses
	ErrInvalidRecipient = errors.New("invalid recipient address")
	// ErrOptedOut is returned when the recipient, its domain or its company opted out
	ErrOptedOut = errors.New("recipient opted out")
)

var (
	emailPattern = regexp.MustCompile("(?i)^[A-Z0-9.!#$%&'*+/=?^_`{|}~-]+@" +
		`[A-Z0-9](?:[A-Z0-9-]{0,61}[A-Z0-9])?` +
		`(?:\.[A-Z0-9](?:[A-Z0-9-]{0,61}[A-Z0-9])?)+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9()\-. ]{4,}$`)
)

const stripChars = "<>[]()\"' \t\r\n"

// CleanEmail normalizes a scraped address: drops mailto: and query strings,
// display names, brackets and stray whitespace, then lowercases.
func CleanEmail(value string) string {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(raw), "mailto:") {
		raw = raw[len("mailto:"):]
	}
	if i := strings.Index(raw, "?"); i >= 0 {
		raw = raw[:i]
	}
	if addr, err := gomail.ParseAddress(raw); err == nil && addr.Address != "" {
		raw = addr.Address
	}
	raw = strings.Trim(raw, stripChars)
	raw = strings.ReplaceAll(raw, " ", "")
	raw = strings.ReplaceAll(raw, "\u200b", "")
	return strings.ToLower(raw)
}

// ValidateRecipient checks an already cleaned address
func ValidateRecipient(address string) error {
	switch {
	case address == "":
		return fmt.Errorf("%w: empty", ErrInvalidRecipient)
	case phonePattern.MatchString(address):
		return fmt.Errorf("%w: %q looks like a phone number", ErrInvalidRecipient, address)
	case !emailPattern.MatchString(address):
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, address)
	}
	return nil
}
