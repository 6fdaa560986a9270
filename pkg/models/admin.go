package models

import "time"

// Admin represents an administrator account. Only the credential hash is
// stored; authentication flows live outside the core.
type Admin struct {
	// ID is the unique administrator identifier.
	ID int64 `json:"id"`
	// Username is the unique login name.
	Username string `json:"username"`
	// PasswordHash is the bcrypt hash of the credential. Never logged.
	PasswordHash string `json:"-"`
	// CreatedAt is when the account was created.
	CreatedAt time.Time `json:"created_at"`
}
