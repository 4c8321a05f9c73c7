package models

import "time"

// ForecastFetched is emitted after a cache miss was filled from the upstream.
type ForecastFetched struct {
	City         string    `json:"city"`
	CacheKey     string    `json:"cacheKey"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	ResolvedName string    `json:"resolvedName,omitempty"`
	Country      string    `json:"country,omitempty"`
	Timezone     string    `json:"timezone,omitempty"`
	PayloadBytes int       `json:"payloadBytes"`
	FetchedAt    time.Time `json:"fetchedAt"`
}
