// Package linkcache keeps resolved links in Redis in front of the store.
package linkcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/patric-chuzhbe/minurl/internal/models"
)

const (
	keyPrefix = "link:"

	// DefaultTTL is how long a cached link lives unless configured otherwise.
	DefaultTTL = time.Hour
)

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Cache stores links as JSON under "link:<short code>".
type Cache struct {
	client redisClient
	ttl    time.Duration
}

// New wraps client; ttl <= 0 means DefaultTTL.
func New(client redisClient, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Cache{
		client: client,
		ttl:    ttl,
	}
}

// Key returns the redis key of shortCode.
func Key(shortCode string) string {
	return keyPrefix + shortCode
}

// Get returns the cached link. A miss is (nil, false, nil).
func (c *Cache) Get(ctx context.Context, shortCode string) (*models.Link, bool, error) {
	raw, err := c.client.Get(ctx, Key(shortCode)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("in internal/linkcache/linkcache.go/Get(): error while `c.client.Get()` calling: %w", err)
	}

	var link models.Link
	if err := json.Unmarshal(raw, &link); err != nil {
		return nil, false, fmt.Errorf("in internal/linkcache/linkcache.go/Get(): error while `json.Unmarshal()` calling: %w", err)
	}

	return &link, true, nil
}

func (c *Cache) Set(ctx context.Context, link *models.Link) error {
	raw, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("in internal/linkcache/linkcache.go/Set(): error while `json.Marshal()` calling: %w", err)
	}

	if err := c.client.Set(ctx, Key(link.ShortCode), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("in internal/linkcache/linkcache.go/Set(): error while `c.client.Set()` calling: %w", err)
	}

	return nil
}
