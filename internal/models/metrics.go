package models

import "time"

// MetricsSnapshot summarises process metrics for the admin dashboard.
type MetricsSnapshot struct {
	CacheHitRatio            float64          `json:"cacheHitRatio"`
	CacheHits                uint64           `json:"cacheHits"`
	CacheMisses              uint64           `json:"cacheMisses"`
	RequestsTotal            uint64           `json:"requestsTotal"`
	AverageRequestDurationMs float64          `json:"averageRequestDurationMs"`
	Admissions               map[string]int64 `json:"admissions"`
	EventsPublished          uint64           `json:"eventsPublished"`
	EventsDropped            uint64           `json:"eventsDropped"`
	Goroutines               int              `json:"goroutines"`
	GeneratedAt              time.Time        `json:"generatedAt"`
}
