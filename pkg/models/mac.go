package models

import (
	"strings"

	"github.com/consultease/consultease/pkg/errors"
)

// macLength is the canonical MAC length: six hex octet pairs joined by colons.
const macLength = 17

// NormalizeMAC converts a beacon MAC into its canonical form: exactly 17
// characters, uppercase hex pairs separated by colons. It accepts colon or
// dash separated input as well as bare 12-digit hex strings.
func NormalizeMAC(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", errors.NewValidationError("beacon MAC is empty", nil)
	}

	hex := strings.NewReplacer(":", "", "-", "").Replace(s)
	if len(hex) != 12 {
		return "", errors.NewValidationError("beacon MAC must contain exactly 12 hex digits: "+raw, nil)
	}
	hex = strings.ToUpper(hex)
	for _, c := range hex {
		if !isHexDigit(c) {
			return "", errors.NewValidationError("beacon MAC contains non-hex characters: "+raw, nil)
		}
	}

	var b strings.Builder
	b.Grow(macLength)
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(hex[i : i+2])
	}
	return b.String(), nil
}

func isHexDigit(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')
}
