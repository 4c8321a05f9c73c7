// Package series turns a raw hourly forecast into the fixed 24-point temperature
// series that gets charted.
package series

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kjstillabower/weather-chart-service/internal/client"
	"github.com/kjstillabower/weather-chart-service/internal/models"
)

// ErrInsufficientData means the payload holds fewer than models.SeriesLength samples.
var ErrInsufficientData = errors.New("insufficient forecast data")

// Open-Meteo emits local times without seconds or offset.
var timeLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// Extract decodes payload and returns its first models.SeriesLength samples in input
// order, each labelled with its local hour as "HH:00". Malformed payloads return an
// error wrapping client.ErrParse.
func Extract(payload models.ForecastPayload) (models.TemperatureSeries, error) {
	var fc models.HourlyForecast
	if err := json.Unmarshal(payload, &fc); err != nil {
		return nil, fmt.Errorf("%w: decode forecast: %v", client.ErrParse, err)
	}
	times, temps := fc.Hourly.Time, fc.Hourly.Temperature2m
	if len(times) != len(temps) {
		return nil, fmt.Errorf("%w: %d timestamps but %d temperatures", client.ErrParse, len(times), len(temps))
	}
	if len(times) < models.SeriesLength {
		return nil, fmt.Errorf("%w: got %d hourly samples, need %d", ErrInsufficientData, len(times), models.SeriesLength)
	}

	if i := fc.Hourly.FirstNullSample(models.SeriesLength); i >= 0 {
		return nil, fmt.Errorf("%w: sample %d (%s) has no temperature", client.ErrParse, i, times[i])
	}

	out := make(models.TemperatureSeries, models.SeriesLength)
	for i := range out {
		ts, err := parseTime(times[i])
		if err != nil {
			return nil, fmt.Errorf("%w: sample %d: %v", client.ErrParse, i, err)
		}
		out[i] = models.SeriesPoint{
			Label:       HourLabel(ts),
			Temperature: *temps[i],
		}
	}
	return out, nil
}

// HourLabel formats t's hour as "HH:00".
func HourLabel(t time.Time) string {
	return fmt.Sprintf("%02d:00", t.Hour())
}

func parseTime(s string) (time.Time, error) {
	var firstErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
