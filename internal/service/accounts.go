package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/patric-chuzhbe/minurl/internal/models"
	"github.com/patric-chuzhbe/minurl/internal/passwordhash"
	"github.com/patric-chuzhbe/minurl/internal/user"
)

// Signup registers a user and returns a bearer token for them.
// A taken email or username yields ErrConflict; a password bcrypt cannot
// hash yields ErrValidation.
func (s *Service) Signup(ctx context.Context, username, email, password string) (string, error) {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)
	if username == "" || email == "" || password == "" {
		return "", ErrValidation
	}
	if len(password) > passwordhash.MaxPasswordLength {
		return "", fmt.Errorf("%w: %w", ErrValidation, passwordhash.ErrPasswordTooLong)
	}

	tx, err := s.db.BeginTransaction()
	if err != nil {
		return "", err
	}
	defer func() {
		_ = s.db.RollbackTransaction(tx)
	}()

	registered, err := s.db.IsEmailRegistered(ctx, email, tx)
	if err != nil {
		return "", fmt.Errorf("in internal/service/accounts.go/Signup(): error while `s.db.IsEmailRegistered()` calling: %w", err)
	}
	if registered {
		return "", fmt.Errorf("%w: %w", ErrConflict, models.ErrEmailTaken)
	}

	passwordHash, err := s.hasher.Hash(password)
	if errors.Is(err, passwordhash.ErrPasswordTooLong) {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if err != nil {
		return "", fmt.Errorf("in internal/service/accounts.go/Signup(): error while `s.hasher.Hash()` calling: %w", err)
	}

	usr := &user.User{
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
	}
	if _, err := s.db.CreateUser(ctx, usr, tx); err != nil {
		if errors.Is(err, models.ErrEmailTaken) || errors.Is(err, models.ErrUsernameTaken) {
			return "", fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return "", fmt.Errorf("in internal/service/accounts.go/Signup(): error while `s.db.CreateUser()` calling: %w", err)
	}

	if err := s.db.CommitTransaction(tx); err != nil {
		return "", err
	}

	return s.tokens.Issue(usr.Username)
}

// Login checks the credentials and returns a bearer token. Unknown emails and
// wrong passwords both yield ErrUnauthorized.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	usr, err := s.db.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, models.ErrUserNotFound) {
		return "", ErrUnauthorized
	}
	if err != nil {
		return "", fmt.Errorf("in internal/service/accounts.go/Login(): error while `s.db.GetUserByEmail()` calling: %w", err)
	}

	if !s.hasher.Verify(usr.PasswordHash, password) {
		return "", ErrUnauthorized
	}

	return s.tokens.Issue(usr.Username)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
