package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-chart-service/internal/observability"
)

// RouterOptions configures the middleware chain around the handlers.
type RouterOptions struct {
	Logger         *zap.Logger
	Limiter        *rate.Limiter // nil disables rate limiting
	RequestTimeout time.Duration // 0 disables the per-request deadline
	InFlight       *InFlightTracker
}

// NewRouter wires the service routes:
//
//	GET /weather?city=        PNG chart
//	GET /weather/series?city= JSON series
//	GET /health
//	GET /metrics
//
// Other methods on these paths get 405.
func NewRouter(h *Handler, opts RouterOptions) *mux.Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	inFlight := opts.InFlight
	if inFlight == nil {
		inFlight = &InFlightTracker{}
	}

	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.Use(InFlightMiddleware(inFlight))
	// mux skips router middleware for this handler, so it gets its own chain.
	router.MethodNotAllowedHandler = CorrelationIDMiddleware(logger)(MetricsMiddleware(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		}),
	))

	weatherRouter := router.PathPrefix("/weather").Subrouter()
	weatherRouter.Use(RateLimitMiddleware(opts.Limiter, h.traffic))
	if opts.RequestTimeout > 0 {
		weatherRouter.Use(TimeoutMiddleware(opts.RequestTimeout))
	}
	weatherRouter.HandleFunc("", h.GetWeatherChart).Methods(http.MethodGet)
	weatherRouter.HandleFunc("/series", h.GetWeatherSeries).Methods(http.MethodGet)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)
	return router
}
