package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/patric-chuzhbe/minurl/internal/auth"
	"github.com/patric-chuzhbe/minurl/internal/logger"
	"github.com/patric-chuzhbe/minurl/internal/models"
)

// Shorten stores a new link to originalURL owned by owner. Short code
// collisions reported by the store are retried with fresh codes; after
// shortCodeAttempts collisions ErrConflict is returned.
func (s *Service) Shorten(ctx context.Context, originalURL string, owner auth.Principal) (*models.Link, error) {
	if originalURL == "" {
		return nil, fmt.Errorf("%w: original URL must not be empty", ErrValidation)
	}

	for i := 0; i < s.shortCodeAttempts; i++ {
		shortCode, err := s.generateShortCode()
		if err != nil {
			return nil, err
		}

		link := &models.Link{
			ShortCode:   shortCode,
			OriginalURL: originalURL,
			AccessCount: 0,
			OwnerID:     owner.ID,
		}
		err = s.db.InsertLink(ctx, link, nil)
		if errors.Is(err, models.ErrShortCodeTaken) {
			logger.Log.Debugln("short code collision, retrying", "shortCode", shortCode, "attempt", i+1)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("in internal/service/links.go/Shorten(): error while `s.db.InsertLink()` calling: %w", err)
		}

		return link, nil
	}

	return nil, fmt.Errorf("%w: the number of attempts to generate a unique short code has been exceeded", ErrConflict)
}

// Resolve looks up shortCode, consulting the cache first when one is configured.
func (s *Service) Resolve(ctx context.Context, shortCode string) (*models.Link, error) {
	if s.cache != nil {
		link, found, err := s.cache.Get(ctx, shortCode)
		if err != nil {
			logger.Log.Debugln("Error calling the `s.cache.Get()`: ", zap.Error(err))
		}
		if found {
			return link, nil
		}
	}

	link, err := s.db.FindLinkByShortCode(ctx, shortCode)
	if errors.Is(err, models.ErrLinkNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil {
		return nil, fmt.Errorf("in internal/service/links.go/Resolve(): error while `s.db.FindLinkByShortCode()` calling: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, link); err != nil {
			logger.Log.Debugln("Error calling the `s.cache.Set()`: ", zap.Error(err))
		}
	}

	return link, nil
}

// RecordAccess increments the access count of a resolved link by exactly one
// and stores the new count in link.
func (s *Service) RecordAccess(ctx context.Context, link *models.Link) error {
	accessCount, err := s.db.IncrementAccessCount(ctx, link.ShortCode)
	if errors.Is(err, models.ErrLinkNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil {
		return fmt.Errorf("in internal/service/links.go/RecordAccess(): error while `s.db.IncrementAccessCount()` calling: %w", err)
	}
	link.AccessCount = accessCount

	if s.accessEvents != nil {
		s.accessEvents.Publish(ctx, models.AccessEvent{
			ShortCode:   link.ShortCode,
			LinkID:      link.ID,
			AccessCount: accessCount,
			AccessedAt:  time.Now().UTC(),
		})
	}

	return nil
}

// ListByOwner returns the owner's links in store order.
func (s *Service) ListByOwner(ctx context.Context, owner auth.Principal) ([]*models.Link, error) {
	links, err := s.db.GetLinksByOwner(ctx, owner.ID)
	if err != nil {
		return nil, fmt.Errorf("in internal/service/links.go/ListByOwner(): error while `s.db.GetLinksByOwner()` calling: %w", err)
	}

	return links, nil
}

// ShortURL builds the public redirect address of shortCode.
func (s *Service) ShortURL(shortCode string) string {
	return s.shortURLBase + "/" + shortCode
}
