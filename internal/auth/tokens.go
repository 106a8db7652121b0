// Package auth issues and validates bearer tokens and resolves the request
// principal from them. Identity travels in the request context only.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// DefaultTokenTTL is the validity window used when none is configured.
const DefaultTokenTTL = 10 * time.Hour

// ErrEmptySigningKey is returned by NewTokenService for an empty secret.
var ErrEmptySigningKey = errors.New("token signing key must not be empty")

// TokenService issues and validates HS256-signed tokens whose subject is a username.
// The secret and TTL are fixed at construction and never rotated.
type TokenService struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
	parser     *jwt.Parser
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService)

// WithClock overrides the time source used for issuing and validating tokens.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenService) {
		s.now = now
	}
}

// NewTokenService creates a TokenService. A non-positive ttl falls back to DefaultTokenTTL.
func NewTokenService(signingKey []byte, ttl time.Duration, optionsProto ...TokenOption) (*TokenService, error) {
	if len(signingKey) == 0 {
		return nil, ErrEmptySigningKey
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	s := &TokenService{
		signingKey: signingKey,
		ttl:        ttl,
		now:        time.Now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
	for _, protoOption := range optionsProto {
		protoOption(s)
	}

	return s, nil
}

// TTL returns the validity window of issued tokens.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for subject that expires TTL after now.
func (s *TokenService) Issue(subject string) (string, error) {
	issuedAt := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.ttl)),
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("in internal/auth/tokens.go/Issue(): error while `SignedString()` calling: %w", err)
	}

	return tokenString, nil
}

// Validate reports whether tokenString carries a valid signature and an expiry
// strictly after the current time. Any parse failure yields false.
func (s *TokenService) Validate(tokenString string) bool {
	_, ok := s.parse(tokenString)

	return ok
}

// ExtractSubject returns the subject of a token. Callers must check Validate first;
// for invalid tokens the result is an empty string.
func (s *TokenService) ExtractSubject(tokenString string) string {
	claims, ok := s.parse(tokenString)
	if !ok {
		return ""
	}

	return claims.Subject
}

func (s *TokenService) parse(tokenString string) (*jwt.RegisteredClaims, bool) {
	if tokenString == "" {
		return nil, false
	}

	claims := &jwt.RegisteredClaims{}
	token, err := s.parser.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return s.signingKey, nil
		},
	)
	if err != nil || !token.Valid {
		return nil, false
	}

	if claims.ExpiresAt == nil || !claims.ExpiresAt.Time.After(s.now()) {
		return nil, false
	}

	return claims, true
}
