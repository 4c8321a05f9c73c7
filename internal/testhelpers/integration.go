//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-chart-service/internal/cache"
	"github.com/kjstillabower/weather-chart-service/internal/client"
	"github.com/kjstillabower/weather-chart-service/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	GeocodingURL  string
	ForecastURL   string
	CacheBackend  string // "in_memory", "redis" or "memcached"
	RedisURL      string
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Open-Meteo needs no API key; set SKIP_NETWORK_TESTS to skip on offline machines.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	if os.Getenv("SKIP_NETWORK_TESTS") != "" {
		t.Skip("SKIP_NETWORK_TESTS set, skipping integration test")
	}
	cfg := IntegrationTestConfig{
		GeocodingURL:  os.Getenv("GEOCODING_URL"),
		ForecastURL:   os.Getenv("FORECAST_URL"),
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		RedisURL:      os.Getenv("REDIS_URL"),
		MemcachedAddr: os.Getenv("MEMCACHED_ADDRS"),
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = "redis://localhost:6379/0"
	}
	if cfg.MemcachedAddr == "" {
		cfg.MemcachedAddr = "localhost:11211"
	}
	return cfg
}

// SetupIntegrationResolver builds a resolver against the live upstreams.
// Returns the resolver, its cache and a cleanup function.
func SetupIntegrationResolver(t *testing.T, cfg IntegrationTestConfig) (*service.ForecastResolver, cache.Cache, func()) {
	t.Helper()
	upstream, err := client.NewOpenMeteoClient(client.Options{
		GeocodingURL: cfg.GeocodingURL,
		ForecastURL:  cfg.ForecastURL,
		Timeout:      10 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewOpenMeteoClient() error = %v", err)
	}

	cacheSvc, cleanup := setupCache(t, cfg)
	resolver := service.NewForecastResolver(upstream, upstream, cacheSvc, zap.NewNop())
	return resolver, cacheSvc, cleanup
}

func setupCache(t *testing.T, cfg IntegrationTestConfig) (cache.Cache, func()) {
	switch cfg.CacheBackend {
	case "redis":
		c, err := cache.NewRedisCache(cache.RedisOptions{URL: cfg.RedisURL})
		if err == nil {
			t.Logf("Using Redis cache at %s", cfg.RedisURL)
			return c, func() { _ = c.Close() }
		}
		t.Logf("Redis not available (%v), using in-memory cache", err)
	case "memcached":
		c, err := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err == nil {
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
			return c, func() { _ = c.Close() }
		}
		t.Logf("Memcached not available (%v), using in-memory cache", err)
	}
	return cache.NewInMemoryCache(), func() {}
}
