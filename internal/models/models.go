package models

import (
	"errors"
	"time"
)

// Link maps a short code to the original URL of its owner.
type Link struct {
	ID          string    `json:"id"`
	ShortCode   string    `json:"shortCode"`
	OriginalURL string    `json:"originalUrl"`
	AccessCount int64     `json:"accessCount"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
}

type SignupRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	Message   string `json:"message"`
	Token     string `json:"token"`
	TokenType string `json:"tokenType"`
}

type ShortenRequest struct {
	OriginalURL string `json:"originalUrl"`

	// OriginalURLSnake is accepted for clients that send snake_case bodies.
	OriginalURLSnake string `json:"original_url"`
}

// URL returns the submitted original URL, whichever key the client used.
func (r ShortenRequest) URL() string {
	if r.OriginalURL != "" {
		return r.OriginalURL
	}

	return r.OriginalURLSnake
}

type ShortenResponse struct {
	OriginalURL string `json:"originalUrl"`
	ShortURL    string `json:"shortUrl"`
}

type UserLinksResponse struct {
	URLs []*Link `json:"urls"`
}

type InternalStatsResponse struct {
	Links int64 `json:"links"`
	Users int64 `json:"users"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// AccessEvent is published after every recorded redirect.
type AccessEvent struct {
	ShortCode   string    `json:"short_code"`
	LinkID      string    `json:"link_id"`
	AccessCount int64     `json:"access_count"`
	AccessedAt  time.Time `json:"accessed_at"`
}

const (
	StorageTypeUnknown = iota
	StorageTypePostgresql
	StorageTypeFile
	StorageTypeMemory
)

var (
	ErrLinkNotFound   = errors.New("link not found")
	ErrUserNotFound   = errors.New("user not found")
	ErrShortCodeTaken = errors.New("short code already taken")
	ErrEmailTaken     = errors.New("email already registered")
	ErrUsernameTaken  = errors.New("username already taken")
)
