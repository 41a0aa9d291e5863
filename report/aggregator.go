// Package report rolls per-query timings, cache statistics, batch metrics,
// and pool signals into a single serializable snapshot with a coarse health
// verdict.
package report

import (
	"sync"
	"time"
)

const (
	// DefaultSlowQueryThreshold marks a query as slow. Overridable through
	// the monitor options.
	DefaultSlowQueryThreshold = 100 * time.Millisecond

	// DefaultSlowSampleLimit bounds the retained slow-query sample.
	DefaultSlowSampleLimit = 25
)

// QueryLogEntry is one executed query as reported by the data layer. It is
// folded into running aggregates immediately and not retained, except for a
// bounded sample of slow queries.
type QueryLogEntry struct {
	Resource   string        `json:"resource"`
	Operation  string        `json:"operation"`
	Duration   time.Duration `json:"-"`
	DurationMs float64       `json:"executionTimeMs"`
	HasText    bool          `json:"-"`
	Timestamp  time.Time     `json:"timestamp"`
}

// QueryPerformance is the aggregated query section of a report.
type QueryPerformance struct {
	TotalQueries       int64           `json:"totalQueries"`
	AverageQueryTimeMs float64         `json:"averageQueryTime"`
	CacheHitRate       float64         `json:"cacheHitRate"`
	SlowQueries        int64           `json:"slowQueries"`
	SlowQuerySample    []QueryLogEntry `json:"slowQuerySample,omitempty"`
}

// Aggregator accumulates query statistics. Safe for concurrent use.
type Aggregator struct {
	mu            sync.Mutex
	slowThreshold time.Duration
	sampleLimit   int

	totalQueries int64
	sumDuration  time.Duration
	slowQueries  int64
	slowSample   []QueryLogEntry // ring, newest last
}

// NewAggregator creates an aggregator. Non-positive arguments fall back to
// the documented defaults.
func NewAggregator(slowThreshold time.Duration, sampleLimit int) *Aggregator {
	if slowThreshold <= 0 {
		slowThreshold = DefaultSlowQueryThreshold
	}
	if sampleLimit <= 0 {
		sampleLimit = DefaultSlowSampleLimit
	}
	return &Aggregator{
		slowThreshold: slowThreshold,
		sampleLimit:   sampleLimit,
	}
}

// Record folds one query into the running aggregates.
func (a *Aggregator) Record(entry QueryLogEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalQueries++
	a.sumDuration += entry.Duration

	if entry.Duration >= a.slowThreshold {
		a.slowQueries++
		entry.DurationMs = float64(entry.Duration) / float64(time.Millisecond)
		a.slowSample = append(a.slowSample, entry)
		if len(a.slowSample) > a.sampleLimit {
			a.slowSample = a.slowSample[1:]
		}
	}
}

// SlowQueryThreshold reports the configured threshold.
func (a *Aggregator) SlowQueryThreshold() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.slowThreshold
}

// Snapshot returns the aggregated query stats. cacheHitRate is supplied by
// the caller because the cache owns its own counters.
func (a *Aggregator) Snapshot(cacheHitRate float64) QueryPerformance {
	a.mu.Lock()
	defer a.mu.Unlock()

	perf := QueryPerformance{
		TotalQueries: a.totalQueries,
		CacheHitRate: cacheHitRate,
		SlowQueries:  a.slowQueries,
	}
	if a.totalQueries > 0 {
		perf.AverageQueryTimeMs = float64(a.sumDuration) / float64(time.Millisecond) / float64(a.totalQueries)
	}
	if len(a.slowSample) > 0 {
		perf.SlowQuerySample = make([]QueryLogEntry, len(a.slowSample))
		copy(perf.SlowQuerySample, a.slowSample)
	}
	return perf
}

// TotalQueries reports the number of recorded queries.
func (a *Aggregator) TotalQueries() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalQueries
}

// Reset zeroes all aggregates. The threshold and sample limit are
// configuration and survive the reset.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalQueries = 0
	a.sumDuration = 0
	a.slowQueries = 0
	a.slowSample = nil
}
