// Package service holds the account and link operations behind the HTTP routes.
package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/patric-chuzhbe/minurl/internal/models"
	"github.com/patric-chuzhbe/minurl/internal/user"
)

type transactioner interface {
	BeginTransaction() (*sql.Tx, error)

	RollbackTransaction(transaction *sql.Tx) error

	CommitTransaction(transaction *sql.Tx) error
}

type userKeeper interface {
	CreateUser(ctx context.Context, usr *user.User, transaction *sql.Tx) (string, error)

	IsEmailRegistered(ctx context.Context, email string, transaction *sql.Tx) (bool, error)

	GetUserByEmail(ctx context.Context, email string) (*user.User, error)
}

type linkKeeper interface {
	InsertLink(ctx context.Context, link *models.Link, transaction *sql.Tx) error

	FindLinkByShortCode(ctx context.Context, shortCode string) (*models.Link, error)

	GetLinksByOwner(ctx context.Context, ownerID string) ([]*models.Link, error)

	IncrementAccessCount(ctx context.Context, shortCode string) (int64, error)
}

type statsKeeper interface {
	GetNumberOfLinks(ctx context.Context) (int64, error)

	GetNumberOfUsers(ctx context.Context) (int64, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Storage is everything the service needs from a store.
type Storage interface {
	transactioner
	userKeeper
	linkKeeper
	statsKeeper
	pinger
}

type passwordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

type tokenIssuer interface {
	Issue(subject string) (string, error)
}

type linkCache interface {
	Get(ctx context.Context, shortCode string) (*models.Link, bool, error)
	Set(ctx context.Context, link *models.Link) error
}

type accessEventsPublisher interface {
	Publish(ctx context.Context, event models.AccessEvent)
}

var (
	// ErrNotFound marks unknown short codes and users.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks duplicate registrations and exhausted short code generation.
	ErrConflict = errors.New("conflict")

	// ErrUnauthorized marks failed logins.
	ErrUnauthorized = errors.New("invalid email or password")

	// ErrValidation marks requests the service refuses before touching the store.
	ErrValidation = errors.New("validation failed")
)

const (
	DefaultShortCodeLength   = 8
	DefaultShortCodeAttempts = 10
)

// Service implements signup/login and the short link lifecycle.
type Service struct {
	db                Storage
	hasher            passwordHasher
	tokens            tokenIssuer
	shortURLBase      string
	cache             linkCache
	accessEvents      accessEventsPublisher
	generateShortCode func() (string, error)
	shortCodeLength   int
	shortCodeAttempts int
}

// Option configures a Service.
type Option func(*Service)

// WithLinkCache puts a cache in front of short code lookups.
func WithLinkCache(cache linkCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

// WithAccessEvents publishes an event for every recorded access.
func WithAccessEvents(publisher accessEventsPublisher) Option {
	return func(s *Service) {
		s.accessEvents = publisher
	}
}

// WithShortCodeLength sets the length of generated short codes.
func WithShortCodeLength(length int) Option {
	return func(s *Service) {
		if length > 0 {
			s.shortCodeLength = length
		}
	}
}

// WithShortCodeAttempts bounds how many codes Shorten tries before giving up.
func WithShortCodeAttempts(attempts int) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.shortCodeAttempts = attempts
		}
	}
}

// WithShortCodeGenerator replaces the random short code source.
func WithShortCodeGenerator(generate func() (string, error)) Option {
	return func(s *Service) {
		s.generateShortCode = generate
	}
}

func New(
	db Storage,
	hasher passwordHasher,
	tokens tokenIssuer,
	shortURLBase string,
	optionsProto ...Option,
) *Service {
	s := &Service{
		db:                db,
		hasher:            hasher,
		tokens:            tokens,
		shortURLBase:      strings.TrimRight(shortURLBase, "/"),
		shortCodeLength:   DefaultShortCodeLength,
		shortCodeAttempts: DefaultShortCodeAttempts,
	}
	for _, protoOption := range optionsProto {
		protoOption(s)
	}

	if s.generateShortCode == nil {
		length := s.shortCodeLength
		s.generateShortCode = func() (string, error) {
			return GenerateShortCode(length)
		}
	}

	return s
}

// Ping checks the health of the storage layer.
func (s *Service) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// GetInternalStats returns the number of stored links and users.
func (s *Service) GetInternalStats(ctx context.Context) (models.InternalStatsResponse, error) {
	links, err := s.db.GetNumberOfLinks(ctx)
	if err != nil {
		return models.InternalStatsResponse{}, err
	}

	users, err := s.db.GetNumberOfUsers(ctx)
	if err != nil {
		return models.InternalStatsResponse{}, err
	}

	return models.InternalStatsResponse{
		Links: links,
		Users: users,
	}, nil
}
