// Package phone validates dispatch targets. The rules are a fixed gate, not
// locale-aware formatting: ten digits after stripping separators, starting
// with 6, 7, 8 or 9.
package phone

import (
	"errors"
	"strings"
)

var ErrInvalidNumber = errors.New("invalid phone number: must be a 10-digit number starting with 6-9")

// Normalize strips non-digit characters and validates the result. It returns
// the cleaned number or ErrInvalidNumber.
func Normalize(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	cleaned := b.String()
	if len(cleaned) != 10 {
		return "", ErrInvalidNumber
	}
	if cleaned[0] < '6' || cleaned[0] > '9' {
		return "", ErrInvalidNumber
	}

	return cleaned, nil
}
