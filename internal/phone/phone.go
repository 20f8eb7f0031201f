// Package phone normalizes recipient numbers to E.164.
package phone

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const DefaultCountryCode = "972"

var ErrEmpty = errors.New("phone number cannot be empty")

// Normalize converts raw into E.164 form. A 00 prefix becomes +, and a local
// number starting with 0 gets countryCode in place of the leading zero.
func Normalize(raw, countryCode string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", ErrEmpty
	}
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		switch r {
		case '-', '(', ')', '.':
			return -1
		}
		return r
	}, raw)

	switch {
	case strings.HasPrefix(cleaned, "00"):
		cleaned = "+" + cleaned[2:]
	case strings.HasPrefix(cleaned, "0"):
		cleaned = "+" + countryCode + cleaned[1:]
	}

	if !strings.HasPrefix(cleaned, "+") {
		return "", fmt.Errorf("cannot normalize phone number %q: expected +<country code><number> or a local number starting with 0", raw)
	}
	if err := checkDigits(cleaned[1:]); err != nil {
		return "", fmt.Errorf("phone number %q: %w", raw, err)
	}
	return cleaned, nil
}

// Valid reports whether s already is in E.164 form. It checks format only.
func Valid(s string) bool {
	if !strings.HasPrefix(s, "+") {
		return false
	}
	return checkDigits(s[1:]) == nil
}

func checkDigits(d string) error {
	for _, r := range d {
		if r < '0' || r > '9' {
			return errors.New("contains non-digit characters after country code")
		}
	}
	if len(d) < 7 || len(d) > 15 {
		return fmt.Errorf("has %d digits after '+', expected 7-15", len(d))
	}
	return nil
}
