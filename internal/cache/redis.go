package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kjstillabower/weather-chart-service/internal/models"
)

// RedisCache implements Cache on a pooled go-redis client. Payloads are stored
// verbatim with SET EX; every command borrows and returns a pooled connection.
type RedisCache struct {
	client *redis.Client
}

// RedisOptions configures NewRedisCache. PoolSize 0 keeps the go-redis default.
type RedisOptions struct {
	URL      string
	PoolSize int
}

// NewRedisCache parses a redis:// URL and builds the pooled client. It does not dial.
func NewRedisCache(opts RedisOptions) (*RedisCache, error) {
	opt, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	if opts.PoolSize > 0 {
		opt.PoolSize = opts.PoolSize
	}
	return &RedisCache{client: redis.NewClient(opt)}, nil
}

// NewRedisCacheFromClient wraps an existing client. The cache takes ownership and closes it.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (models.ForecastPayload, bool, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: redis get %q: %w", ErrCacheUnavailable, key, err)
	}
	return models.ForecastPayload(b), true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value models.ForecastPayload, ttl time.Duration) error {
	if err := validateTTL(ttl); err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, []byte(value), ttl).Err(); err != nil {
		return fmt.Errorf("%w: redis set %q: %w", ErrCacheUnavailable, key, err)
	}
	return nil
}

// Ping checks if redis is reachable. Used for health checks.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis ping: %w", ErrCacheUnavailable, err)
	}
	return nil
}

// Close releases the connection pool. Call during shutdown.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
