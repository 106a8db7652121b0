// Package user defines the account record held by the credential store.
package user

import "time"

// User is a registered account.
// Username and Email are unique across all users.
type User struct {
	// ID is the store-assigned identifier (a UUID).
	ID string `json:"id"`

	Username string `json:"username"`

	Email string `json:"email"`

	// PasswordHash is the one-way hash of the account password. It never leaves the server.
	PasswordHash string `json:"password_hash"`

	CreatedAt time.Time `json:"created_at"`
}
