package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kjstillabower/weather-chart-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-chart-service/internal/models"
	"github.com/kjstillabower/weather-chart-service/internal/observability"
)

// Geocoder resolves a city name to the coordinates of its first match.
// ok is false when the upstream reports no match.
type Geocoder interface {
	Geocode(ctx context.Context, city string) (coord models.GeoCoordinate, ok bool, err error)
}

// ForecastFetcher fetches the raw hourly forecast for a coordinate.
type ForecastFetcher interface {
	FetchForecast(ctx context.Context, coord models.GeoCoordinate) (models.ForecastPayload, error)
}

var (
	// ErrTransport covers network failures, timeouts, non-2xx statuses and open circuits.
	ErrTransport = errors.New("upstream transport error")
	// ErrParse means the upstream answered with a body of unexpected shape.
	ErrParse = errors.New("upstream response parse error")
)

const (
	upstreamGeocoding = "geocoding"
	upstreamForecast  = "forecast"

	// maxBodyBytes caps how much of an upstream body is read; a week of hourly data is ~10KB.
	maxBodyBytes = 4 << 20
)

// StatusError is returned when an upstream answers with a non-2xx status. It wraps ErrTransport.
type StatusError struct {
	Upstream string
	Code     int
	Reason   string
}

func (e *StatusError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s returned HTTP %d: %s", ErrTransport, e.Upstream, e.Code, e.Reason)
	}
	return fmt.Sprintf("%s: %s returned HTTP %d", ErrTransport, e.Upstream, e.Code)
}

func (e *StatusError) Unwrap() error { return ErrTransport }

// Options configures an OpenMeteoClient. Zero values fall back to the public endpoints.
type Options struct {
	GeocodingURL string
	ForecastURL  string
	// Timezone is passed to the forecast API; "auto" yields the city's local time.
	Timezone   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OpenMeteoClient talks to the Open-Meteo geocoding and forecast APIs.
// It is safe for concurrent use and holds no per-call state.
type OpenMeteoClient struct {
	geocodingURL    *url.URL
	forecastURL     *url.URL
	timezone        string
	timeout         time.Duration
	client          *http.Client
	geocodeBreaker  *circuitbreaker.CircuitBreaker
	forecastBreaker *circuitbreaker.CircuitBreaker
}

func NewOpenMeteoClient(opts Options) (*OpenMeteoClient, error) {
	if opts.GeocodingURL == "" {
		opts.GeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"
	}
	if opts.ForecastURL == "" {
		opts.ForecastURL = "https://api.open-meteo.com/v1/forecast"
	}
	if opts.Timezone == "" {
		opts.Timezone = "auto"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	geoURL, err := parseBaseURL(opts.GeocodingURL)
	if err != nil {
		return nil, fmt.Errorf("geocoding url: %w", err)
	}
	fcURL, err := parseBaseURL(opts.ForecastURL)
	if err != nil {
		return nil, fmt.Errorf("forecast url: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &OpenMeteoClient{
		geocodingURL: geoURL,
		forecastURL:  fcURL,
		timezone:     opts.Timezone,
		timeout:      opts.Timeout,
		client:       httpClient,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host in %q", raw)
	}
	return u, nil
}

// SetCircuitBreakers installs per-upstream breakers. Either may be nil.
func (c *OpenMeteoClient) SetCircuitBreakers(geocoding, forecast *circuitbreaker.CircuitBreaker) {
	c.geocodeBreaker = geocoding
	c.forecastBreaker = forecast
}

type geocodingResponse struct {
	Results []geocodingResult `json:"results"`
}

type geocodingResult struct {
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Country   string   `json:"country"`
	Timezone  string   `json:"timezone"`
}

// Geocode asks for exactly one match and returns its coordinates.
func (c *OpenMeteoClient) Geocode(ctx context.Context, city string) (models.GeoCoordinate, bool, error) {
	params := url.Values{}
	params.Set("name", city)
	params.Set("count", "1")
	params.Set("language", "en")
	params.Set("format", "json")

	body, err := c.get(ctx, upstreamGeocoding, c.geocodingURL, params, c.geocodeBreaker)
	if err != nil {
		return models.GeoCoordinate{}, false, err
	}

	var resp geocodingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.GeoCoordinate{}, false, fmt.Errorf("%w: geocoding: %v", ErrParse, err)
	}
	if len(resp.Results) == 0 {
		return models.GeoCoordinate{}, false, nil
	}

	first := resp.Results[0]
	if first.Latitude == nil || first.Longitude == nil {
		return models.GeoCoordinate{}, false, fmt.Errorf("%w: geocoding: result without coordinates", ErrParse)
	}
	if !validCoordinate(*first.Latitude, *first.Longitude) {
		return models.GeoCoordinate{}, false, fmt.Errorf("%w: geocoding: coordinates out of range (%v, %v)", ErrParse, *first.Latitude, *first.Longitude)
	}
	return models.GeoCoordinate{
		Latitude:  *first.Latitude,
		Longitude: *first.Longitude,
		Name:      first.Name,
		Country:   first.Country,
		Timezone:  first.Timezone,
	}, true, nil
}

// FetchForecast returns the hourly temperature forecast body verbatim after checking its shape.
func (c *OpenMeteoClient) FetchForecast(ctx context.Context, coord models.GeoCoordinate) (models.ForecastPayload, error) {
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(coord.Latitude, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(coord.Longitude, 'f', -1, 64))
	params.Set("hourly", "temperature_2m")
	params.Set("timezone", c.timezone)

	body, err := c.get(ctx, upstreamForecast, c.forecastURL, params, c.forecastBreaker)
	if err != nil {
		return nil, err
	}
	if err := validateForecast(body); err != nil {
		return nil, err
	}
	return models.ForecastPayload(body), nil
}

func validateForecast(body []byte) error {
	var fc models.HourlyForecast
	if err := json.Unmarshal(body, &fc); err != nil {
		return fmt.Errorf("%w: forecast: %v", ErrParse, err)
	}
	if len(fc.Hourly.Time) == 0 && len(fc.Hourly.Temperature2m) == 0 {
		return fmt.Errorf("%w: forecast: missing hourly data", ErrParse)
	}
	if len(fc.Hourly.Time) != len(fc.Hourly.Temperature2m) {
		return fmt.Errorf("%w: forecast: %d timestamps but %d temperatures", ErrParse, len(fc.Hourly.Time), len(fc.Hourly.Temperature2m))
	}
	if i := fc.Hourly.FirstNullSample(models.SeriesLength); i >= 0 {
		return fmt.Errorf("%w: forecast: null temperature at %s", ErrParse, fc.Hourly.Time[i])
	}
	return nil
}

func validCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// get performs one GET with its own timeout. No retries: retry policy belongs to callers.
func (c *OpenMeteoClient) get(ctx context.Context, upstream string, base *url.URL, params url.Values, breaker *circuitbreaker.CircuitBreaker) ([]byte, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := *base
	u.RawQuery = params.Encode()

	var body []byte
	err := breaker.Call(ctx, func() error {
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
			req.Header.Set("X-Correlation-ID", corrID)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if isTimeout(err) {
				return fmt.Errorf("request timeout: %w", err)
			}
			return fmt.Errorf("http request failed: %w", err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &StatusError{Upstream: upstream, Code: resp.StatusCode, Reason: upstreamReason(b)}
		}
		body = b
		return nil
	})

	status := callStatus(err)
	observability.UpstreamCallsTotal.WithLabelValues(upstream, status).Inc()
	observability.UpstreamDuration.WithLabelValues(upstream, status).Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, ErrTransport) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrTransport, upstream, err)
	}
	return body, nil
}

// upstreamReason extracts Open-Meteo's {"error":true,"reason":"..."} message when present.
func upstreamReason(body []byte) string {
	var e struct {
		Reason string `json:"reason"`
	}
	if json.Unmarshal(body, &e) == nil {
		return e.Reason
	}
	return ""
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func callStatus(err error) string {
	if err == nil {
		return "success"
	}
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return statusLabel(se.Code)
	case errors.Is(err, circuitbreaker.ErrOpen):
		return "circuit_open"
	case isTimeout(err):
		return "timeout"
	default:
		return "error"
	}
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == http.StatusTooManyRequests {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
