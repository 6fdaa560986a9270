package models

import (
	"strings"
	"time"

	"github.com/consultease/consultease/pkg/errors"
)

// RFID UID length bounds. Readers in the field emit between 4 and 32 hex
// digits depending on card type.
const (
	minRFIDLength = 4
	maxRFIDLength = 32
)

// Student represents a registered student who can submit consultation
// requests via an RFID badge.
type Student struct {
	// ID is the unique student identifier.
	ID int64 `json:"id"`
	// Name is the display name.
	Name string `json:"name"`
	// RFIDUID is the normalized badge UID. Unique across all students.
	RFIDUID string `json:"rfid_uid"`
	// Department is the organizational unit.
	Department string `json:"department"`
	// CreatedAt is when the record was created.
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeRFIDUID validates an RFID badge UID as a hex-like token and
// returns its canonical uppercase form.
func NormalizeRFIDUID(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if len(s) < minRFIDLength || len(s) > maxRFIDLength {
		return "", errors.NewValidationError("RFID UID length must be between 4 and 32 characters: "+raw, nil)
	}
	for _, c := range s {
		if !isHexDigit(c) {
			return "", errors.NewValidationError("RFID UID contains non-hex characters: "+raw, nil)
		}
	}
	return s, nil
}
