package chart

import (
	"bytes"
	"fmt"
	"image/png"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/weather-chart-service/internal/models"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func berlinSeries() models.TemperatureSeries {
	s := make(models.TemperatureSeries, models.SeriesLength)
	for i := range s {
		s[i] = models.SeriesPoint{Label: fmt.Sprintf("%02d:00", i), Temperature: 10.0 + 0.2*float64(i)}
	}
	return s
}

func TestRender_PNG(t *testing.T) {
	out, err := Render(berlinSeries(), "Berlin")
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, pngMagic), "output is not a PNG")

	cfg, err := png.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, Width, cfg.Width)
	assert.Equal(t, Height, cfg.Height)
}

func TestRender_FlatSeries(t *testing.T) {
	s := berlinSeries()
	for i := range s {
		s[i].Temperature = 0
	}
	out, err := Render(s, "Reykjavik")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, pngMagic))
}

func TestRender_NegativeTemperatures(t *testing.T) {
	s := berlinSeries()
	for i := range s {
		s[i].Temperature = -30 + float64(i)
	}
	_, err := Render(s, "Yakutsk")
	require.NoError(t, err)
}

func TestRender_Errors(t *testing.T) {
	_, err := Render(nil, "Berlin")
	require.ErrorIs(t, err, ErrRender)

	s := berlinSeries()
	s[3].Temperature = math.NaN()
	_, err = Render(s, "Berlin")
	require.ErrorIs(t, err, ErrRender)
}

func TestNewGraph_Layout(t *testing.T) {
	graph, err := newGraph(berlinSeries(), "  Berlin ")
	require.NoError(t, err)

	assert.Equal(t, "Weather forecast for: Berlin", graph.Title)
	assert.Equal(t, "Time", graph.XAxis.Name)
	assert.Equal(t, "Temperature (°C)", graph.YAxis.Name)
	require.Len(t, graph.XAxis.Ticks, models.SeriesLength)
	assert.Equal(t, "05:00", graph.XAxis.Ticks[5].Label)
	require.Len(t, graph.Series, 1)
	assert.Equal(t, "Temperature", graph.Series[0].GetName())
	assert.Len(t, graph.Elements, 1, "legend")
}
