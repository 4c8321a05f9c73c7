// Package chart renders a temperature series as a PNG line chart.
package chart

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"

	gochart "github.com/wcharczuk/go-chart/v2"

	"github.com/kjstillabower/weather-chart-service/internal/models"
	"github.com/kjstillabower/weather-chart-service/internal/observability"
)

// ErrRender wraps every rendering failure.
var ErrRender = errors.New("chart render failed")

const (
	Width  = 800
	Height = 600

	markerSize = 5
	// yPadding keeps a flat series from collapsing the y range to zero.
	yPadding = 1.0
)

// Render draws series as an 800x600 PNG titled "Weather forecast for: <city>".
func Render(series models.TemperatureSeries, city string) ([]byte, error) {
	png, err := render(series, city)
	if err != nil {
		observability.ChartRendersTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	observability.ChartRendersTotal.WithLabelValues("success").Inc()
	return png, nil
}

func render(series models.TemperatureSeries, city string) ([]byte, error) {
	graph, err := newGraph(series, city)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := graph.Render(gochart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	return buf.Bytes(), nil
}

// newGraph lays out the line chart with a legend in the top-left corner of the plot.
func newGraph(series models.TemperatureSeries, city string) (*gochart.Chart, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: empty series", ErrRender)
	}

	xs := make([]float64, len(series))
	ys := series.Temperatures()
	ticks := make([]gochart.Tick, len(series))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, p := range series {
		xs[i] = float64(i)
		ticks[i] = gochart.Tick{Value: float64(i), Label: p.Label}
		if math.IsNaN(p.Temperature) || math.IsInf(p.Temperature, 0) {
			return nil, fmt.Errorf("%w: non-finite temperature at %s", ErrRender, p.Label)
		}
		lo = math.Min(lo, p.Temperature)
		hi = math.Max(hi, p.Temperature)
	}

	graph := &gochart.Chart{
		Title:  "Weather forecast for: " + strings.TrimSpace(city),
		Width:  Width,
		Height: Height,
		Background: gochart.Style{
			Padding: gochart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: gochart.XAxis{
			Name:  "Time",
			Ticks: ticks,
			Style: gochart.Style{TextRotationDegrees: 45},
		},
		YAxis: gochart.YAxis{
			Name:  "Temperature (°C)",
			Range: &gochart.ContinuousRange{Min: math.Floor(lo - yPadding), Max: math.Ceil(hi + yPadding)},
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.1f", f)
				}
				return ""
			},
		},
		Series: []gochart.Series{
			gochart.ContinuousSeries{
				Name:    "Temperature",
				XValues: xs,
				YValues: ys,
				Style: gochart.Style{
					StrokeColor: gochart.ColorBlue,
					StrokeWidth: 2,
					DotColor:    gochart.ColorBlue,
					DotWidth:    markerSize,
				},
			},
		},
	}
	graph.Elements = []gochart.Renderable{gochart.Legend(graph)}
	return graph, nil
}
