package client

import (
	"context"
	"fmt"
	"slices"
	"time"

	"googlemaps.github.io/maps"

	"github.com/kjstillabower/weather-chart-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-chart-service/internal/models"
	"github.com/kjstillabower/weather-chart-service/internal/observability"
)

// GoogleAPIClient is the subset of *maps.Client used for geocoding.
type GoogleAPIClient interface {
	Geocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// GoogleGeocoder resolves cities through the Google Maps Geocoding API.
// Google reports ZERO_RESULTS as an empty slice, which maps to "not found".
type GoogleGeocoder struct {
	client  GoogleAPIClient
	timeout time.Duration
	breaker *circuitbreaker.CircuitBreaker
}

func NewGoogleGeocoder(client GoogleAPIClient, timeout time.Duration) *GoogleGeocoder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &GoogleGeocoder{client: client, timeout: timeout}
}

func (g *GoogleGeocoder) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	g.breaker = cb
}

func (g *GoogleGeocoder) Geocode(ctx context.Context, city string) (models.GeoCoordinate, bool, error) {
	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var results []maps.GeocodingResult
	err := g.breaker.Call(ctx, func() error {
		var err error
		results, err = g.client.Geocode(reqCtx, &maps.GeocodingRequest{Address: city})
		return err
	})

	status := callStatus(err)
	observability.UpstreamCallsTotal.WithLabelValues(upstreamGeocoding, status).Inc()
	observability.UpstreamDuration.WithLabelValues(upstreamGeocoding, status).Observe(time.Since(start).Seconds())

	if err != nil {
		return models.GeoCoordinate{}, false, fmt.Errorf("%w: google geocoding: %w", ErrTransport, err)
	}
	if len(results) == 0 {
		return models.GeoCoordinate{}, false, nil
	}

	first := results[0]
	loc := first.Geometry.Location
	if !validCoordinate(loc.Lat, loc.Lng) {
		return models.GeoCoordinate{}, false, fmt.Errorf("%w: google geocoding: coordinates out of range (%v, %v)", ErrParse, loc.Lat, loc.Lng)
	}
	return models.GeoCoordinate{
		Latitude:  loc.Lat,
		Longitude: loc.Lng,
		Name:      first.FormattedAddress,
		Country:   countryOf(first.AddressComponents),
	}, true, nil
}

func countryOf(components []maps.AddressComponent) string {
	for _, c := range components {
		if slices.Contains(c.Types, "country") {
			return c.LongName
		}
	}
	return ""
}
