package models

// SeriesLength is the number of hourly samples rendered for "today".
const SeriesLength = 24

// GeoCoordinate is the first geocoding match for a city.
type GeoCoordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Name      string  `json:"name,omitempty"`
	Country   string  `json:"country,omitempty"`
	Timezone  string  `json:"timezone,omitempty"`
}

// ForecastPayload is the raw forecast body exactly as the upstream returned it.
// Caches store it verbatim and never inspect it.
type ForecastPayload []byte

// Clone returns an owned copy of p.
func (p ForecastPayload) Clone() ForecastPayload {
	if p == nil {
		return nil
	}
	out := make(ForecastPayload, len(p))
	copy(out, p)
	return out
}

// HourlyForecast is the typed shape of a ForecastPayload.
type HourlyForecast struct {
	Latitude    float64     `json:"latitude"`
	Longitude   float64     `json:"longitude"`
	Timezone    string      `json:"timezone"`
	HourlyUnits HourlyUnits `json:"hourly_units"`
	Hourly      HourlyData  `json:"hourly"`
}

// HourlyUnits holds the unit labels of the hourly arrays.
type HourlyUnits struct {
	Time          string `json:"time"`
	Temperature2m string `json:"temperature_2m"`
}

// HourlyData holds parallel arrays: Time[i] is the local timestamp of Temperature2m[i].
// Open-Meteo sends null for a missing sample, which decodes to a nil element.
type HourlyData struct {
	Time          []string   `json:"time"`
	Temperature2m []*float64 `json:"temperature_2m"`
}

// FirstNullSample returns the index of the first nil temperature among the first n
// samples, or -1 when all of them are present.
func (h HourlyData) FirstNullSample(n int) int {
	n = min(n, len(h.Temperature2m))
	for i := 0; i < n; i++ {
		if h.Temperature2m[i] == nil {
			return i
		}
	}
	return -1
}

// SeriesPoint is one labelled hourly temperature.
type SeriesPoint struct {
	Label       string  `json:"label"`
	Temperature float64 `json:"temperature"`
}

// TemperatureSeries is the ordered list of SeriesLength hourly points.
type TemperatureSeries []SeriesPoint

// Temperatures returns the temperatures in order.
func (s TemperatureSeries) Temperatures() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Temperature
	}
	return out
}
