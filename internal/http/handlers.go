package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-chart-service/internal/cache"
	"github.com/kjstillabower/weather-chart-service/internal/chart"
	"github.com/kjstillabower/weather-chart-service/internal/client"
	"github.com/kjstillabower/weather-chart-service/internal/lifecycle"
	"github.com/kjstillabower/weather-chart-service/internal/models"
	"github.com/kjstillabower/weather-chart-service/internal/observability"
	"github.com/kjstillabower/weather-chart-service/internal/series"
	"github.com/kjstillabower/weather-chart-service/internal/service"
	"github.com/kjstillabower/weather-chart-service/internal/traffic"
	"github.com/kjstillabower/weather-chart-service/internal/validation"
)

const (
	serviceName      = "weather-chart-service"
	cachePingTimeout = time.Second
)

// SeriesResolver resolves a city to its 24-point temperature series.
type SeriesResolver interface {
	ResolveSeries(ctx context.Context, city string) (models.TemperatureSeries, error)
}

// BreakerState reports a circuit breaker's state name (closed, half-open, open).
type BreakerState interface {
	State() string
}

// HealthConfig holds thresholds and probes for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// Cache, when set, is pinged on every health check.
	Cache cache.Pinger
	// Breakers are reported by name in the health checks.
	Breakers map[string]BreakerState
	Version  string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	resolver         SeriesResolver
	render           func(models.TemperatureSeries, string) ([]byte, error)
	traffic          *traffic.Window
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. window may be nil, which disables error-rate health.
func NewHandler(resolver SeriesResolver, window *traffic.Window, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if window == nil {
		window = traffic.NewWindow(0)
	}
	return &Handler{
		resolver:     resolver,
		render:       chart.Render,
		traffic:      window,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

type seriesResponse struct {
	City   string               `json:"city"`
	Points []models.SeriesPoint `json:"points"`
}

// GetWeatherChart handles GET /weather?city=<name> and responds with a PNG chart.
func (h *Handler) GetWeatherChart(w http.ResponseWriter, r *http.Request) {
	city, ts, ok := h.resolveSeries(w, r)
	if !ok {
		return
	}
	png, err := h.render(ts, city)
	if err != nil {
		h.traffic.Record(traffic.Failure)
		h.requestLogger(r).Error("chart render failed", zap.String("city", city), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "RENDER_ERROR", "Unable to render chart")
		return
	}
	h.traffic.Record(traffic.Success)
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// GetWeatherSeries handles GET /weather/series?city=<name> and responds with the series as JSON.
func (h *Handler) GetWeatherSeries(w http.ResponseWriter, r *http.Request) {
	city, ts, ok := h.resolveSeries(w, r)
	if !ok {
		return
	}
	h.traffic.Record(traffic.Success)
	writeJSON(w, http.StatusOK, seriesResponse{City: city, Points: ts})
}

// resolveSeries validates the city query parameter and resolves its series.
// On failure it writes the error response and returns ok=false.
func (h *Handler) resolveSeries(w http.ResponseWriter, r *http.Request) (string, models.TemperatureSeries, bool) {
	city, err := validation.ValidateCity(r.URL.Query().Get("city"))
	if err != nil {
		h.traffic.Record(traffic.Success)
		msg := "city parameter is required"
		if !errors.Is(err, validation.ErrCityEmpty) {
			msg = err.Error()
		}
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", msg)
		return "", nil, false
	}
	ts, err := h.resolver.ResolveSeries(r.Context(), city)
	if err != nil {
		h.writeResolveError(w, r, city, err)
		return "", nil, false
	}
	return city, ts, true
}

// writeResolveError maps resolver errors onto status codes and records the outcome.
func (h *Handler) writeResolveError(w http.ResponseWriter, r *http.Request, city string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		h.traffic.Record(traffic.Success)
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", "city parameter is required")
	case errors.Is(err, service.ErrNotFound):
		h.traffic.Record(traffic.Success)
		writeError(w, r, http.StatusNotFound, "CITY_NOT_FOUND", "city '"+city+"' not found")
	case errors.Is(err, series.ErrInsufficientData):
		h.traffic.Record(traffic.Failure)
		h.requestLogger(r).Warn("insufficient forecast data", zap.String("city", city), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INSUFFICIENT_DATA", "Forecast has too few hourly samples")
	default:
		h.traffic.Record(traffic.Failure)
		h.requestLogger(r).Warn("upstream error",
			zap.String("city", city),
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "UPSTREAM_ERROR", "Unable to fetch forecast data")
	}
}

func (h *Handler) requestLogger(r *http.Request) *zap.Logger {
	return observability.LoggerFromContext(r.Context(), h.logger)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
	checks     map[string]string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	version := "dev"
	if h.healthConfig != nil && h.healthConfig.Version != "" {
		version = h.healthConfig.Version
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   serviceName,
		"version":   version,
		"checks":    result.checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates, in order: shutting-down, upstream error rate, cache reachability.
// An unreachable cache reports degraded with 200 since requests still resolve uncached.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	checks := map[string]string{"upstream": "healthy"}
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal", checks}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, "", checks}
	}
	cfg := h.healthConfig

	for name, b := range cfg.Breakers {
		if b == nil {
			continue
		}
		checks["breaker_"+name] = b.State()
	}

	errorRateBreached := false
	if cfg.DegradedWindow > 0 && cfg.DegradedErrorPct > 0 {
		failures, total := h.traffic.ErrorRate(cfg.DegradedWindow)
		if total > 0 && float64(failures)*100/float64(total) >= float64(cfg.DegradedErrorPct) {
			errorRateBreached = true
			checks["upstream"] = "unhealthy"
		}
	}

	cacheHealthy := true
	if cfg.Cache != nil {
		pingCtx, cancel := context.WithTimeout(ctx, cachePingTimeout)
		err := cfg.Cache.Ping(pingCtx)
		cancel()
		if err != nil {
			cacheHealthy = false
			checks["cache"] = "unhealthy"
		} else {
			checks["cache"] = "healthy"
		}
	}

	switch {
	case errorRateBreached:
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach", checks}
	case !cacheHealthy:
		return healthResult{"degraded", http.StatusOK, "cache_unreachable", checks}
	default:
		return healthResult{"healthy", http.StatusOK, "", checks}
	}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationIDFromContext(r.Context()),
		},
	})
}
