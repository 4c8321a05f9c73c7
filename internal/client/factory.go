package client

import (
	"errors"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"github.com/kjstillabower/weather-chart-service/internal/circuitbreaker"
)

// ProviderType names a geocoding backend.
type ProviderType string

const (
	ProviderOpenMeteo ProviderType = "open_meteo"
	ProviderGoogle    ProviderType = "google"
)

// GeocoderConfig selects and configures the geocoding backend.
type GeocoderConfig struct {
	Provider        ProviderType
	GoogleAPIKey    string
	GoogleRateLimit int
	Timeout         time.Duration
	// Breaker guards the Google round trip; Open-Meteo breakers are set on the client.
	Breaker *circuitbreaker.CircuitBreaker
}

// NewGeocoder returns the configured Geocoder. The Open-Meteo client doubles as
// the default geocoder since it already serves forecasts.
func NewGeocoder(cfg GeocoderConfig, openMeteo *OpenMeteoClient) (Geocoder, error) {
	switch cfg.Provider {
	case ProviderOpenMeteo, "":
		if openMeteo == nil {
			return nil, errors.New("open_meteo geocoder requires an Open-Meteo client")
		}
		return openMeteo, nil
	case ProviderGoogle:
		if cfg.GoogleAPIKey == "" {
			return nil, errors.New("API key is required for google geocoder")
		}
		opts := []maps.ClientOption{maps.WithAPIKey(cfg.GoogleAPIKey)}
		if cfg.GoogleRateLimit > 0 {
			opts = append(opts, maps.WithRateLimit(cfg.GoogleRateLimit))
		}
		mc, err := maps.NewClient(opts...)
		if err != nil {
			return nil, fmt.Errorf("create Google Maps client: %w", err)
		}
		g := NewGoogleGeocoder(mc, cfg.Timeout)
		g.SetCircuitBreaker(cfg.Breaker)
		return g, nil
	default:
		return nil, fmt.Errorf("unsupported geocoder provider: %q", cfg.Provider)
	}
}
