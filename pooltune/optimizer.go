// Package pooltune observes connection-pool lifecycle events and recommends
// pool bounds and timeouts. It never fails: with too little data it returns
// conservative per-database defaults instead of an error.
//
// Acquire durations are aged through a go-metrics exponentially decaying
// sample (reservoir 1028, alpha 0.015, the library's standard tuning), so
// recent behavior is weighted more heavily than stale behavior while memory
// stays bounded.
package pooltune

import (
	"sync"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

// EventKind is a connection lifecycle transition reported by the pool.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventAcquired EventKind = "acquired"
	EventReleased EventKind = "released"
	EventError    EventKind = "error"
	EventTimeout  EventKind = "timeout"
)

const (
	// minSamples is the number of acquire observations required before the
	// optimizer trusts its own statistics over the defaults.
	minSamples = 20

	// reservoirSize and decayAlpha parameterize the exp-decay sample.
	reservoirSize = 1028
	decayAlpha    = 0.015

	defaultAcquireTimeout = 30 * time.Second
	defaultIdleTimeout    = 5 * time.Minute

	minAcquireTimeout = time.Second
	maxRecommendedMax = 100
)

// Defaults are the sizing bounds used before enough data has been observed.
type Defaults struct {
	Min int
	Max int
}

// Recommendation is the optimizer's current advice. Min >= 1 and
// Min <= Max always hold.
type Recommendation struct {
	Min              int           `json:"min"`
	Max              int           `json:"max"`
	AcquireTimeoutMs int64         `json:"acquireTimeoutMs"`
	IdleTimeoutMs    int64         `json:"idleTimeoutMs"`
	AcquireTimeout   time.Duration `json:"-"`
	IdleTimeout      time.Duration `json:"-"`
}

// Stats is a snapshot of observed lifecycle counters.
type Stats struct {
	Created      int64   `json:"created"`
	Acquired     int64   `json:"acquired"`
	Released     int64   `json:"released"`
	Errors       int64   `json:"errors"`
	Timeouts     int64   `json:"timeouts"`
	InUse        int64   `json:"inUse"`
	PeakInUse    int64   `json:"peakInUse"`
	AvgAcquireMs float64 `json:"avgAcquireMs"`
	P95AcquireMs float64 `json:"p95AcquireMs"`
}

// Optimizer folds lifecycle events into bounded running state. All methods
// are safe for concurrent use and none of them ever returns an error.
type Optimizer struct {
	mu       sync.Mutex
	defaults Defaults

	created  int64
	acquired int64
	released int64
	errors   int64
	timeouts int64

	inUse     int64
	peakInUse int64

	acquireSample gometrics.Sample
	acquireTotal  time.Duration

	// idle-gap tracking: time from a release to the next acquire is the
	// observed idle interval of a pool slot.
	lastRelease  time.Time
	idleGapSum   time.Duration
	idleGapCount int64
	now          func() time.Time
}

// New creates an optimizer with the given sizing defaults.
func New(defaults Defaults) *Optimizer {
	if defaults.Min < 1 {
		defaults.Min = 1
	}
	if defaults.Max < defaults.Min {
		defaults.Max = defaults.Min
	}
	return &Optimizer{
		defaults:      defaults,
		acquireSample: gometrics.NewExpDecaySample(reservoirSize, decayAlpha),
		now:           time.Now,
	}
}

// Track records one lifecycle event. duration is meaningful for acquired
// (wait time) and is ignored for the other kinds; pass 0 when unknown.
func (o *Optimizer) Track(kind EventKind, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch kind {
	case EventCreated:
		o.created++
	case EventAcquired:
		o.acquired++
		o.inUse++
		if o.inUse > o.peakInUse {
			o.peakInUse = o.inUse
		}
		if duration > 0 {
			o.acquireSample.Update(duration.Nanoseconds())
			o.acquireTotal += duration
		}
		if !o.lastRelease.IsZero() {
			if gap := o.now().Sub(o.lastRelease); gap > 0 {
				o.idleGapSum += gap
				o.idleGapCount++
			}
			o.lastRelease = time.Time{}
		}
	case EventReleased:
		o.released++
		if o.inUse > 0 {
			o.inUse--
		}
		o.lastRelease = o.now()
	case EventError:
		o.errors++
	case EventTimeout:
		o.timeouts++
	}
}

// Stats returns the observed counters.
func (o *Optimizer) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Stats{
		Created:   o.created,
		Acquired:  o.acquired,
		Released:  o.released,
		Errors:    o.errors,
		Timeouts:  o.timeouts,
		InUse:     o.inUse,
		PeakInUse: o.peakInUse,
	}
	if n := o.acquireSample.Count(); n > 0 {
		s.AvgAcquireMs = o.acquireSample.Mean() / float64(time.Millisecond)
		s.P95AcquireMs = o.acquireSample.Percentile(0.95) / float64(time.Millisecond)
	}
	return s
}

// Recommendation derives pool bounds and timeouts from observed behavior.
//
// Sizing: max tracks peak concurrent acquisition with 25% headroom, bumped
// further while timeouts are being observed; min is a quarter of max,
// raised when connection churn (created events outpacing the pool bound)
// suggests the floor is too low. With fewer than minSamples acquire
// observations the per-database defaults are returned unchanged.
func (o *Optimizer) Recommendation() Recommendation {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec := Recommendation{
		Min:            o.defaults.Min,
		Max:            o.defaults.Max,
		AcquireTimeout: defaultAcquireTimeout,
		IdleTimeout:    defaultIdleTimeout,
	}

	if o.acquired >= minSamples {
		max := int(float64(o.peakInUse)*1.25) + 1
		if o.timeouts > 0 {
			// Pending acquirers are starving; give the pool more room.
			max += int(o.timeouts)
		}
		if max > maxRecommendedMax {
			max = maxRecommendedMax
		}
		if max < 1 {
			max = 1
		}

		min := max / 4
		if min < 1 {
			min = 1
		}
		// Heavy create churn means connections are constantly torn down
		// and rebuilt; hold a larger floor open.
		if o.created > int64(max)*2 && min < max/2 {
			min = max / 2
		}

		rec.Min = min
		rec.Max = max
	}

	if o.acquireSample.Count() >= minSamples {
		p95 := time.Duration(o.acquireSample.Percentile(0.95))
		switch {
		case o.timeouts > 0:
			// The current timeout is too aggressive for observed load.
			rec.AcquireTimeout = defaultAcquireTimeout * 2
		case p95 > 0 && p95*8 < defaultAcquireTimeout:
			// Acquisitions complete far below the default; tighten it so
			// a stall is noticed sooner.
			rec.AcquireTimeout = p95 * 8
			if rec.AcquireTimeout < minAcquireTimeout {
				rec.AcquireTimeout = minAcquireTimeout
			}
		}
	}

	if o.idleGapCount > 0 {
		meanGap := o.idleGapSum / time.Duration(o.idleGapCount)
		// Keep connections around for well beyond the typical idle gap so
		// steady traffic never pays reconnect latency.
		idle := meanGap * 10
		if idle < time.Minute {
			idle = time.Minute
		}
		if idle > 30*time.Minute {
			idle = 30 * time.Minute
		}
		rec.IdleTimeout = idle
	}

	// Invariants: min >= 1, min <= max.
	if rec.Min < 1 {
		rec.Min = 1
	}
	if rec.Max < rec.Min {
		rec.Max = rec.Min
	}
	rec.AcquireTimeoutMs = rec.AcquireTimeout.Milliseconds()
	rec.IdleTimeoutMs = rec.IdleTimeout.Milliseconds()
	return rec
}

// Reset discards all observed history. The sizing defaults are kept.
func (o *Optimizer) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.created = 0
	o.acquired = 0
	o.released = 0
	o.errors = 0
	o.timeouts = 0
	o.inUse = 0
	o.peakInUse = 0
	o.acquireSample.Clear()
	o.acquireTotal = 0
	o.lastRelease = time.Time{}
	o.idleGapSum = 0
	o.idleGapCount = 0
}
