package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-chart-service/internal/cache"
	"github.com/kjstillabower/weather-chart-service/internal/client"
	"github.com/kjstillabower/weather-chart-service/internal/service"
)

// fakeOpenMeteo serves the geocoding and forecast endpoints for Berlin only.
type fakeOpenMeteo struct {
	geocodeHits  atomic.Int32
	forecastHits atomic.Int32
	samples      int
	missing      map[int]bool // sample indexes sent as null
}

func (f *fakeOpenMeteo) geocoding(w http.ResponseWriter, r *http.Request) {
	f.geocodeHits.Add(1)
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Query().Get("name") != "berlin" {
		_, _ = w.Write([]byte(`{"generationtime_ms":0.5}`))
		return
	}
	_, _ = w.Write([]byte(`{"results":[{"name":"Berlin","latitude":52.52,"longitude":13.405,"country":"Germany","timezone":"Europe/Berlin"}]}`))
}

func (f *fakeOpenMeteo) forecast(w http.ResponseWriter, r *http.Request) {
	f.forecastHits.Add(1)
	times := make([]string, f.samples)
	temps := make([]string, f.samples)
	for i := 0; i < f.samples; i++ {
		times[i] = fmt.Sprintf(`"2024-01-01T%02d:00"`, i%24)
		temps[i] = fmt.Sprintf("%.1f", 10.0+0.2*float64(i))
		if f.missing[i] {
			temps[i] = "null"
		}
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"latitude":52.52,"longitude":13.405,"timezone":"Europe/Berlin","hourly":{"time":[%s],"temperature_2m":[%s]}}`,
		strings.Join(times, ","), strings.Join(temps, ","))
}

func newFlowRouter(t *testing.T, samples int) (http.Handler, *fakeOpenMeteo, *cache.InMemoryCache) {
	t.Helper()
	fake := &fakeOpenMeteo{samples: samples}
	geoSrv := httptest.NewServer(http.HandlerFunc(fake.geocoding))
	t.Cleanup(geoSrv.Close)
	fcSrv := httptest.NewServer(http.HandlerFunc(fake.forecast))
	t.Cleanup(fcSrv.Close)

	upstream, err := client.NewOpenMeteoClient(client.Options{GeocodingURL: geoSrv.URL, ForecastURL: fcSrv.URL})
	if err != nil {
		t.Fatalf("NewOpenMeteoClient() error = %v", err)
	}
	c := cache.NewInMemoryCache()
	resolver := service.NewForecastResolver(upstream, upstream, c, zap.NewNop())
	h := NewHandler(resolver, nil, &HealthConfig{Cache: c}, zap.NewNop())
	return NewRouter(h, RouterOptions{}), fake, c
}

func TestFlow_BerlinSeriesThenChartFromCache(t *testing.T) {
	router, fake, c := newFlowRouter(t, 48)

	w := serve(router, http.MethodGet, "/weather/series?city=Berlin")
	if w.Code != http.StatusOK {
		t.Fatalf("series status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	var resp seriesResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Points) != 24 {
		t.Fatalf("points = %d, want 24", len(resp.Points))
	}
	if resp.Points[0].Label != "00:00" || resp.Points[0].Temperature != 10.0 {
		t.Errorf("points[0] = %+v, want 00:00 10.0", resp.Points[0])
	}
	if resp.Points[1].Temperature != 10.2 {
		t.Errorf("points[1].temperature = %v, want 10.2", resp.Points[1].Temperature)
	}
	if c.Len() != 1 {
		t.Errorf("cache entries = %d, want 1", c.Len())
	}

	w = serve(router, http.MethodGet, "/weather?city=%20BERLIN")
	if w.Code != http.StatusOK {
		t.Fatalf("chart status = %d, want 200", w.Code)
	}
	if fake.geocodeHits.Load() != 1 || fake.forecastHits.Load() != 1 {
		t.Errorf("upstream hits = geocode %d, forecast %d; want 1 each", fake.geocodeHits.Load(), fake.forecastHits.Load())
	}
}

func TestFlow_UnknownCityNotCached(t *testing.T) {
	router, fake, c := newFlowRouter(t, 24)

	w := serve(router, http.MethodGet, "/weather?city=Atlantis")

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if fake.forecastHits.Load() != 0 {
		t.Errorf("forecast hits = %d, want 0", fake.forecastHits.Load())
	}
	if c.Len() != 0 {
		t.Errorf("cache entries = %d, want 0", c.Len())
	}
}

func TestFlow_InsufficientSamples(t *testing.T) {
	router, _, _ := newFlowRouter(t, 23)

	w := serve(router, http.MethodGet, "/weather?city=Berlin")

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if body := decodeError(t, w); body.Error.Code != "INSUFFICIENT_DATA" {
		t.Errorf("error.code = %q, want INSUFFICIENT_DATA", body.Error.Code)
	}
}

func TestFlow_NullTemperatureIsUpstreamErrorAndNotCached(t *testing.T) {
	router, fake, c := newFlowRouter(t, 24)
	fake.missing = map[int]bool{5: true}

	w := serve(router, http.MethodGet, "/weather?city=Berlin")

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if body := decodeError(t, w); body.Error.Code != "UPSTREAM_ERROR" {
		t.Errorf("error.code = %q, want UPSTREAM_ERROR", body.Error.Code)
	}
	if c.Len() != 0 {
		t.Errorf("cache entries = %d, want 0", c.Len())
	}
}

func TestFlow_HealthPingsCache(t *testing.T) {
	router, _, _ := newFlowRouter(t, 24)

	w := serve(router, http.MethodGet, "/health")

	status, checks := decodeHealth(t, w)
	if w.Code != http.StatusOK || status != "healthy" {
		t.Errorf("health = %d %q, want 200 healthy", w.Code, status)
	}
	if checks["cache"] != "healthy" {
		t.Errorf("checks.cache = %q, want healthy", checks["cache"])
	}
}
