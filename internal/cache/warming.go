package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-chart-service/internal/models"
	"github.com/kjstillabower/weather-chart-service/internal/observability"
)

// ForecastRefresher is implemented by the service layer. Refresh fetches a city and
// rewrites its cache entry whether or not it is still fresh. Declared here to avoid
// an import cycle.
type ForecastRefresher interface {
	Refresh(ctx context.Context, city string) (models.ForecastPayload, error)
}

// CacheWarmer keeps a list of cities cached. Each run restarts their TTL, so any
// warming interval shorter than the TTL leaves no uncached window.
type CacheWarmer struct {
	resolver ForecastRefresher
	logger   *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that uses the given resolver and logger.
func NewCacheWarmer(resolver ForecastRefresher, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{resolver: resolver, logger: logger}
}

// Warm refreshes each city concurrently. Returns the joined per-city errors, if any.
func (w *CacheWarmer) Warm(ctx context.Context, cities []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("cities", len(cities)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, city := range cities {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.resolver.Refresh(ctx, city); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", city, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("cities", len(cities)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration),
	)
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}
