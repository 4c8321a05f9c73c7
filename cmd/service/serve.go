package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-chart-service/internal/cache"
	"github.com/kjstillabower/weather-chart-service/internal/config"
	httphandler "github.com/kjstillabower/weather-chart-service/internal/http"
	"github.com/kjstillabower/weather-chart-service/internal/lifecycle"
	"github.com/kjstillabower/weather-chart-service/internal/observability"
	"github.com/kjstillabower/weather-chart-service/internal/scheduler"
	"github.com/kjstillabower/weather-chart-service/internal/service"
	"github.com/kjstillabower/weather-chart-service/internal/traffic"
)

const inFlightCheckInterval = 100 * time.Millisecond

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := observability.NewLogger()
			if err != nil {
				return fmt.Errorf("logger: %w", err)
			}
			cfg, err := config.Load()
			if err != nil {
				logger.Error("config", zap.Error(err))
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg, logger)
		},
	}
}

// runServer serves until ctx is cancelled, then drains and releases everything in order.
func runServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}

	window := traffic.NewWindow(0)
	breakers := make(map[string]httphandler.BreakerState, len(a.breakers))
	for name, b := range a.breakers {
		breakers[name] = b
	}
	healthConfig := &httphandler.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		Breakers:         breakers,
		Version:          version,
	}
	if p, ok := a.cache.(cache.Pinger); ok {
		healthConfig.Cache = p
	}
	handler := httphandler.NewHandler(a.resolver, window, healthConfig, logger)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	inFlight := &httphandler.InFlightTracker{}
	router := httphandler.NewRouter(handler, httphandler.RouterOptions{
		Logger:         logger,
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
		InFlight:       inFlight,
	})

	if len(cfg.TrackedCities) > 0 && cfg.WarmingInterval >= service.CacheTTL {
		logger.Warn("warming interval is not shorter than the cache TTL; tracked cities will lapse between runs",
			zap.Duration("interval", cfg.WarmingInterval), zap.Duration("ttl", service.CacheTTL))
	}
	jobs := scheduler.New(logger, cfg.RequestTimeout*2)
	if err := jobs.ScheduleWarming(cache.NewCacheWarmer(a.resolver, logger), cfg.TrackedCities, cfg.WarmingInterval); err != nil {
		_ = a.close(context.Background())
		return err
	}
	if a.purger != nil {
		if err := jobs.SchedulePurge(a.purger, cfg.SQLitePurgeInterval); err != nil {
			_ = a.close(context.Background())
			return err
		}
	}
	jobs.Start()

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("cache_backend", cfg.CacheBackend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("graceful shutdown triggered")
	case err, ok := <-serveErr:
		if ok {
			logger.Error("server", zap.Error(err))
			runErr = fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	err = lifecycle.Shutdown(shutdownCtx, logger,
		lifecycle.Step{Name: "http", Run: srv.Shutdown},
		lifecycle.Step{Name: "inflight", Run: func(ctx context.Context) error {
			remaining := inFlight.Count()
			observability.RecordShutdownInFlight(remaining)
			logger.Info("waiting for in-flight requests", zap.Int64("count", remaining))
			waitCtx, waitCancel := context.WithTimeout(ctx, cfg.InFlightTimeout)
			defer waitCancel()
			return inFlight.WaitForZero(waitCtx, inFlightCheckInterval)
		}},
		lifecycle.Step{Name: "scheduler", Run: func(context.Context) error {
			jobs.Stop()
			return nil
		}},
		lifecycle.Step{Name: "dependencies", Run: a.close},
		lifecycle.Step{Name: "telemetry", Run: func(ctx context.Context) error {
			return observability.FlushTelemetry(ctx, logger)
		}},
	)
	if err != nil {
		logger.Warn("shutdown finished with errors", zap.Error(err))
	} else {
		logger.Info("shutdown complete")
	}
	return runErr
}
