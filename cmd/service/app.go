package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-chart-service/internal/cache"
	"github.com/kjstillabower/weather-chart-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-chart-service/internal/client"
	"github.com/kjstillabower/weather-chart-service/internal/config"
	"github.com/kjstillabower/weather-chart-service/internal/events"
	"github.com/kjstillabower/weather-chart-service/internal/observability"
	"github.com/kjstillabower/weather-chart-service/internal/service"
)

// app holds the explicitly constructed, shared dependencies of one process.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	cache      cache.Cache
	closeCache func() error
	// purger is set when the cache backend does not expire entries on its own.
	purger    *cache.SQLiteCache
	breakers  map[string]*circuitbreaker.CircuitBreaker
	resolver  *service.ForecastResolver
	publisher *events.KafkaPublisher
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, breakers: map[string]*circuitbreaker.CircuitBreaker{}}

	if err := a.initCache(); err != nil {
		return nil, err
	}

	upstream, err := client.NewOpenMeteoClient(client.Options{
		GeocodingURL: cfg.GeocodingURL,
		ForecastURL:  cfg.ForecastURL,
		Timezone:     cfg.Timezone,
		Timeout:      cfg.UpstreamTimeout,
	})
	if err != nil {
		_ = a.closeCache()
		return nil, fmt.Errorf("open-meteo client: %w", err)
	}
	upstream.SetCircuitBreakers(a.breaker("geocoding"), a.breaker("forecast"))

	var googleBreaker *circuitbreaker.CircuitBreaker
	if cfg.GeocoderProvider == string(client.ProviderGoogle) {
		googleBreaker = a.breaker("google_geocoding")
	}
	geocoder, err := client.NewGeocoder(client.GeocoderConfig{
		Provider:        client.ProviderType(cfg.GeocoderProvider),
		GoogleAPIKey:    cfg.GoogleMapsAPIKey,
		GoogleRateLimit: cfg.GoogleRateLimit,
		Timeout:         cfg.UpstreamTimeout,
		Breaker:         googleBreaker,
	}, upstream)
	if err != nil {
		_ = a.closeCache()
		return nil, fmt.Errorf("geocoder: %w", err)
	}
	logger.Info("geocoder configured", zap.String("provider", cfg.GeocoderProvider))

	a.resolver = service.NewForecastResolver(geocoder, upstream, a.cache, logger)
	if cfg.CoalesceEnabled {
		a.resolver.EnableCoalescing(cfg.CoalesceTimeout)
		logger.Info("request coalescing enabled", zap.Duration("timeout", cfg.CoalesceTimeout))
	}

	if len(cfg.KafkaBrokers) > 0 {
		pub, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		if err != nil {
			_ = a.closeCache()
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		a.publisher = pub
		a.resolver.SetEventPublisher(pub)
		logger.Info("forecast events enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	if len(cfg.TrackedCities) > 0 {
		observability.SetTrackedCities(cfg.TrackedCities)
	}
	return a, nil
}

// initCache builds the configured cache backend. Constructors do not dial; an
// unreachable store shows up later as misses and in /health.
func (a *app) initCache() error {
	cfg := a.cfg
	switch cfg.CacheBackend {
	case "redis":
		rc, err := cache.NewRedisCache(cache.RedisOptions{URL: cfg.RedisURL, PoolSize: cfg.RedisPoolSize})
		if err != nil {
			return fmt.Errorf("redis cache: %w", err)
		}
		a.cache, a.closeCache = rc, rc.Close
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return fmt.Errorf("memcached cache: %w", err)
		}
		a.cache, a.closeCache = mc, mc.Close
	case "sqlite":
		sc, err := cache.NewSQLiteCache(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite cache: %w", err)
		}
		a.cache, a.closeCache, a.purger = sc, sc.Close, sc
	case "in_memory", "":
		a.cache, a.closeCache = cache.NewInMemoryCache(), func() error { return nil }
	default:
		return fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
	a.logger.Info("cache backend configured", zap.String("backend", cfg.CacheBackend))
	return nil
}

// breaker returns the named upstream's circuit breaker, or nil when breakers are disabled.
func (a *app) breaker(component string) *circuitbreaker.CircuitBreaker {
	if !a.cfg.CircuitBreakerEnabled {
		return nil
	}
	if b, ok := a.breakers[component]; ok {
		return b
	}
	b := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: a.cfg.CircuitBreakerFailures,
		MaxHalfOpen:      a.cfg.CircuitBreakerHalfOpen,
		Timeout:          a.cfg.CircuitBreakerTimeout,
		Component:        component,
		OnStateChange: func(component, from, to string) {
			observability.RecordCircuitBreakerTransition(component, from, to)
			a.logger.Warn("circuit breaker state change",
				zap.String("component", component), zap.String("from", from), zap.String("to", to))
		},
	})
	observability.CircuitBreakerState.WithLabelValues(component).Set(0)
	a.breakers[component] = b
	return b
}

// close flushes the event publisher and closes the cache store.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.publisher != nil {
		if err := a.publisher.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}
	if a.closeCache != nil {
		if err := a.closeCache(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	return errors.Join(errs...)
}
