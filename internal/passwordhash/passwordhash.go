// Package passwordhash wraps bcrypt behind a Hash/Verify pair so callers
// treat password hashing as an opaque one-way capability.
package passwordhash

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultCost is the bcrypt cost used by the service.
	DefaultCost = bcrypt.DefaultCost

	// MaxPasswordLength is the longest password, in bytes, bcrypt accepts.
	MaxPasswordLength = 72
)

// ErrPasswordTooLong is returned by Hash for passwords over MaxPasswordLength bytes.
var ErrPasswordTooLong = errors.New("password must not exceed 72 bytes")

// Bcrypt hashes and verifies passwords with bcrypt at a fixed cost.
type Bcrypt struct {
	cost int
}

// New returns a Bcrypt hasher. A cost outside bcrypt's range falls back to bcrypt.DefaultCost.
func New(cost int) *Bcrypt {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}

	return &Bcrypt{cost: cost}
}

// Hash returns the bcrypt hash of password.
func (b *Bcrypt) Hash(password string) (string, error) {
	if len(password) > MaxPasswordLength {
		return "", ErrPasswordTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", fmt.Errorf("in internal/passwordhash/passwordhash.go/Hash(): error while `bcrypt.GenerateFromPassword()` calling: %w", err)
	}

	return string(hash), nil
}

// Verify reports whether password matches hash.
func (b *Bcrypt) Verify(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
