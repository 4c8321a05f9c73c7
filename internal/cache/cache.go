package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kjstillabower/weather-chart-service/internal/models"
)

// ErrCacheUnavailable wraps every store I/O failure. Callers treat it as a miss.
var ErrCacheUnavailable = errors.New("cache unavailable")

// Cache stores raw forecast payloads by key with a per-entry expiry.
// Get returns (nil, false, nil) for an absent or expired key; absence is never an error.
type Cache interface {
	Get(ctx context.Context, key string) (models.ForecastPayload, bool, error)
	Set(ctx context.Context, key string, value models.ForecastPayload, ttl time.Duration) error
}

// Pinger is implemented by backends that can report reachability for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

func validateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache: ttl must be positive, got %v", ttl)
	}
	return nil
}

// InMemoryCache implements Cache using a mutex-protected map with TTL-based expiration.
// Expired entries are removed on access.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	value     models.ForecastPayload
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

// Get returns an owned copy of the payload if present and not expired.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.ForecastPayload, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.data, key)
		return nil, false, nil
	}
	return entry.value.Clone(), true, nil
}

// Set stores a copy of value, replacing any existing entry.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.ForecastPayload, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateTTL(ttl); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry{
		value:     value.Clone(),
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func (c *InMemoryCache) Ping(ctx context.Context) error {
	return ctx.Err()
}
