package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-chart-service/internal/cache"
	"github.com/kjstillabower/weather-chart-service/internal/client"
	"github.com/kjstillabower/weather-chart-service/internal/models"
	"github.com/kjstillabower/weather-chart-service/internal/observability"
	"github.com/kjstillabower/weather-chart-service/internal/series"
)

const (
	// KeyPrefix namespaces forecast entries in a shared cache store.
	KeyPrefix = "weather:"
	// CacheTTL is how long a fetched forecast stays cached.
	CacheTTL = 900 * time.Second
)

var (
	// ErrInvalidInput is returned for a city that is empty after trimming.
	ErrInvalidInput = errors.New("invalid city")
	// ErrNotFound is returned when the geocoder has no match for the city.
	ErrNotFound = errors.New("city not found")
)

// Resolve outcomes, used as metric labels and log fields.
const (
	OutcomeCacheHit        = "cache_hit"
	OutcomeCacheMissFilled = "cache_miss_filled"
	OutcomeNotFound        = "not_found"
	OutcomeInvalidInput    = "invalid_input"
	OutcomeUpstreamError   = "upstream_error"
	OutcomeParseError      = "parse_error"
	OutcomeRefreshed       = "refreshed"
)

// EventPublisher receives a notification after each filled miss. Publish must not block
// on the broker; failures are logged and otherwise ignored.
type EventPublisher interface {
	Publish(ctx context.Context, ev models.ForecastFetched) error
}

// ForecastResolver serves forecast payloads cache-aside: lookup, then on a miss
// geocode, fetch and write back with CacheTTL.
type ForecastResolver struct {
	geocoder  client.Geocoder
	forecasts client.ForecastFetcher
	cache     cache.Cache
	logger    *zap.Logger
	misses    *missTracker
	coalescer *requestCoalescer // nil unless coalescing is enabled
	publisher EventPublisher
	now       func() time.Time
}

// NewForecastResolver creates a ForecastResolver. logger may be nil.
func NewForecastResolver(geocoder client.Geocoder, forecasts client.ForecastFetcher, c cache.Cache, logger *zap.Logger) *ForecastResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ForecastResolver{
		geocoder:  geocoder,
		forecasts: forecasts,
		cache:     c,
		logger:    logger,
		misses:    newMissTracker(),
		now:       time.Now,
	}
}

// EnableCoalescing makes concurrent misses for one key share a single upstream fetch.
// Each waiter gives up after timeout. Call before serving traffic.
func (s *ForecastResolver) EnableCoalescing(timeout time.Duration) {
	if timeout > 0 {
		s.coalescer = newRequestCoalescer(timeout)
	}
}

// SetEventPublisher installs p. Call before serving traffic.
func (s *ForecastResolver) SetEventPublisher(p EventPublisher) {
	s.publisher = p
}

// CacheKey returns the cache key for city: KeyPrefix + lower(trim(city)).
func CacheKey(city string) string {
	return KeyPrefix + normalizeCity(city)
}

// Resolve returns the raw forecast payload for city, from cache when fresh.
// Cache failures degrade to a miss and never fail the call.
func (s *ForecastResolver) Resolve(ctx context.Context, city string) (models.ForecastPayload, error) {
	start := time.Now()
	logger := observability.LoggerFromContext(ctx, s.logger)

	normalized := normalizeCity(city)
	if normalized == "" {
		observability.ResolveOutcomesTotal.WithLabelValues(OutcomeInvalidInput).Inc()
		return nil, fmt.Errorf("%w: city is empty", ErrInvalidInput)
	}
	key := KeyPrefix + normalized
	observability.RecordCityQuery(normalized)

	if payload, ok := s.lookup(ctx, key, logger); ok {
		observability.ResolveOutcomesTotal.WithLabelValues(OutcomeCacheHit).Inc()
		logger.Debug("forecast served",
			zap.String("city", normalized),
			zap.Bool("cached", true),
			zap.Duration("duration", time.Since(start)),
		)
		return payload, nil
	}

	concurrentMisses, fillDone := s.misses.begin(key)
	defer fillDone()
	cityLabel := observability.MetricCityLabel(normalized)
	if concurrentMisses > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(cityLabel).Inc()
		observability.CacheStampedeConcurrency.WithLabelValues(cityLabel).Observe(float64(concurrentMisses))
	}

	logger.Debug("cache miss, fetching upstream", zap.String("city", normalized))

	var (
		payload models.ForecastPayload
		err     error
	)
	if s.coalescer != nil {
		waitStart := time.Now()
		var shared bool
		payload, shared, err = s.coalescer.GetOrDo(ctx, key, func(fillCtx context.Context) (models.ForecastPayload, error) {
			return s.fill(fillCtx, normalized, key, logger)
		})
		if shared {
			observability.RequestCoalescingHitsTotal.WithLabelValues(cityLabel).Inc()
			observability.RequestCoalescingWaitSeconds.Observe(time.Since(waitStart).Seconds())
		}
		if err != nil && isContextErr(err) && !errors.Is(err, client.ErrTransport) {
			err = fmt.Errorf("%w: waiting for forecast of %q: %w", client.ErrTransport, normalized, err)
		}
	} else {
		payload, err = s.fill(ctx, normalized, key, logger)
	}
	if err != nil {
		outcome := outcomeFor(err)
		observability.ResolveOutcomesTotal.WithLabelValues(outcome).Inc()
		logger.Info("forecast resolve failed",
			zap.String("city", normalized),
			zap.String("outcome", outcome),
			zap.Error(err),
		)
		return nil, err
	}

	observability.ResolveOutcomesTotal.WithLabelValues(OutcomeCacheMissFilled).Inc()
	logger.Debug("forecast served",
		zap.String("city", normalized),
		zap.Bool("cached", false),
		zap.Duration("duration", time.Since(start)),
	)
	return payload, nil
}

// Refresh fetches city from the upstream and rewrites its cache entry even when the
// current one is still fresh, restarting its CacheTTL. The cache warmer uses it so
// tracked cities never lapse between warming runs.
func (s *ForecastResolver) Refresh(ctx context.Context, city string) (models.ForecastPayload, error) {
	logger := observability.LoggerFromContext(ctx, s.logger)
	normalized := normalizeCity(city)
	if normalized == "" {
		observability.ResolveOutcomesTotal.WithLabelValues(OutcomeInvalidInput).Inc()
		return nil, fmt.Errorf("%w: city is empty", ErrInvalidInput)
	}
	key := KeyPrefix + normalized

	_, fillDone := s.misses.begin(key)
	defer fillDone()
	payload, err := s.fill(ctx, normalized, key, logger)
	if err != nil {
		observability.ResolveOutcomesTotal.WithLabelValues(outcomeFor(err)).Inc()
		return nil, err
	}
	observability.ResolveOutcomesTotal.WithLabelValues(OutcomeRefreshed).Inc()
	return payload, nil
}

// ResolveSeries resolves city and extracts its 24-point temperature series.
func (s *ForecastResolver) ResolveSeries(ctx context.Context, city string) (models.TemperatureSeries, error) {
	payload, err := s.Resolve(ctx, city)
	if err != nil {
		return nil, err
	}
	ts, err := series.Extract(payload)
	if err != nil {
		return nil, fmt.Errorf("extract series for %q: %w", normalizeCity(city), err)
	}
	return ts, nil
}

// lookup reads key from the cache. Errors are logged and counted, then reported as a miss.
func (s *ForecastResolver) lookup(ctx context.Context, key string, logger *zap.Logger) (models.ForecastPayload, bool) {
	getStart := time.Now()
	cached, ok, err := s.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()
	switch {
	case err != nil:
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
		observability.CacheMissesTotal.WithLabelValues("forecast").Inc()
		logger.Warn("cache get failed, treating as miss", zap.String("key", key), zap.Error(err))
		return nil, false
	case ok:
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
		observability.CacheHitsTotal.WithLabelValues("forecast").Inc()
		return cached, true
	default:
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
		observability.CacheMissesTotal.WithLabelValues("forecast").Inc()
		return nil, false
	}
}

// fill runs the miss path: geocode, fetch, write back. Geocode always precedes the fetch.
func (s *ForecastResolver) fill(ctx context.Context, city, key string, logger *zap.Logger) (models.ForecastPayload, error) {
	coord, found, err := s.geocoder.Geocode(ctx, city)
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", city, err)
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, city)
	}

	payload, err := s.forecasts.FetchForecast(ctx, coord)
	if err != nil {
		return nil, fmt.Errorf("fetch forecast for %q: %w", city, err)
	}

	setStart := time.Now()
	if setErr := s.cache.Set(ctx, key, payload, CacheTTL); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(setErr))
	} else {
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
	}

	s.publish(ctx, city, key, coord, payload, logger)
	return payload, nil
}

func (s *ForecastResolver) publish(ctx context.Context, city, key string, coord models.GeoCoordinate, payload models.ForecastPayload, logger *zap.Logger) {
	if s.publisher == nil {
		return
	}
	ev := models.ForecastFetched{
		City:         city,
		CacheKey:     key,
		Latitude:     coord.Latitude,
		Longitude:    coord.Longitude,
		ResolvedName: coord.Name,
		Country:      coord.Country,
		Timezone:     coord.Timezone,
		PayloadBytes: len(payload),
		FetchedAt:    s.now().UTC(),
	}
	if err := s.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		logger.Warn("publish forecast event failed", zap.String("city", city), zap.Error(err))
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrInvalidInput):
		return OutcomeInvalidInput
	case errors.Is(err, client.ErrParse):
		return OutcomeParseError
	default:
		return OutcomeUpstreamError
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}

// normalizeCity trims whitespace and lowercases, so "Paris", "  paris " and "PARIS"
// share one cache key and one geocoding term.
func normalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}
