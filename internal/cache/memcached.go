package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/weather-chart-service/internal/models"
)

const (
	maxMemcachedKeyLen = 250
	// Relative expirations above 30 days are read by memcached as unix timestamps.
	maxRelativeExp = 30 * 24 * time.Hour
)

// MemcachedCache implements Cache using memcached.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	ss := new(memcache.ServerList)
	if err := ss.SetServers(servers...); err != nil {
		return nil, fmt.Errorf("memcached servers %q: %w", addrs, err)
	}
	client := memcache.NewFromSelector(ss)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// escapeKey maps a cache key onto memcached's key alphabet: no whitespace or
// control characters, at most 250 bytes.
func escapeKey(k string) string {
	escaped := url.PathEscape(k)
	if len(escaped) <= maxMemcachedKeyLen {
		return escaped
	}
	sum := sha256.Sum256([]byte(k))
	return "sha256:" + hex.EncodeToString(sum[:])
}

func expiration(ttl time.Duration, now time.Time) int32 {
	if ttl > maxRelativeExp {
		return int32(now.Add(ttl).Unix())
	}
	sec := int32(ttl / time.Second)
	if sec < 1 {
		sec = 1
	}
	return sec
}

// Get implements Cache.Get. Returns false, nil on cache miss.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.ForecastPayload, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	item, err := c.client.Get(escapeKey(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: memcached get %q: %w", ErrCacheUnavailable, key, err)
	}
	return models.ForecastPayload(item.Value), true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.ForecastPayload, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateTTL(ttl); err != nil {
		return err
	}
	err := c.client.Set(&memcache.Item{
		Key:        escapeKey(key),
		Value:      []byte(value),
		Expiration: expiration(ttl, time.Now()),
	})
	if err != nil {
		return fmt.Errorf("%w: memcached set %q: %w", ErrCacheUnavailable, key, err)
	}
	return nil
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.client.Ping(); err != nil {
		return fmt.Errorf("%w: memcached ping: %w", ErrCacheUnavailable, err)
	}
	return nil
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
