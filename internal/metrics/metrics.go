// Package metrics records scrape cycle and forecast cache telemetry.
//
// Two backends implement the same interfaces: CloudWatch for the Lambda
// deployment and Prometheus for long-running processes, which also serve
// /metrics. Nop discards everything.
package metrics

import (
	"context"
	"time"
)

// ScrapeMetrics receives one call per scrape cycle outcome.
type ScrapeMetrics interface {
	// RecordCycle records a finished cycle. result is one of the
	// types.ScrapeResult* values.
	RecordCycle(ctx context.Context, result string, found, saved int, duration time.Duration)
	// RecordSkippedTick records a tick dropped because a cycle was running.
	RecordSkippedTick(ctx context.Context)
	// RecordFallback records a cycle that fell back to per-row writes.
	RecordFallback(ctx context.Context, failed int)
}

// ForecastMetrics receives forecast cache outcomes: "hit", "miss" or "stale".
type ForecastMetrics interface {
	RecordForecastCache(ctx context.Context, outcome string)
}

// Recorder is implemented by every backend.
type Recorder interface {
	ScrapeMetrics
	ForecastMetrics
}

// Forecast cache outcomes.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheStale = "stale"
)

// Nop discards all measurements.
type Nop struct{}

var _ Recorder = Nop{}

func (Nop) RecordCycle(context.Context, string, int, int, time.Duration) {}
func (Nop) RecordSkippedTick(context.Context)                            {}
func (Nop) RecordFallback(context.Context, int)                          {}
func (Nop) RecordForecastCache(context.Context, string)                  {}
