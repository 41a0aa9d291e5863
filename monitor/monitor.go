package monitor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/guileen/dbtune/batch"
	"github.com/guileen/dbtune/cache"
	"github.com/guileen/dbtune/fingerprint"
	"github.com/guileen/dbtune/logger"
	"github.com/guileen/dbtune/pooltune"
	"github.com/guileen/dbtune/report"
)

// ErrNoBatchExecutor is returned by Enqueue when the monitor was built
// without a batch executor.
var ErrNoBatchExecutor = errors.New("monitor: no batch executor configured")

// Monitor is the per-database facade over the cache, batch scheduler, pool
// optimizer and query aggregator. Tracking methods never propagate internal
// failures to the instrumented application: they log and count instead.
type Monitor struct {
	opts Options
	caps capabilities
	log  *slog.Logger

	enabled          atomic.Bool
	trackingFailures atomic.Int64

	cache *cache.Cache
	agg   *report.Aggregator
	pool  *pooltune.Optimizer
	sched *batch.Scheduler[any, any]
}

// New builds a monitor from validated options.
func New(opts Options) (*Monitor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	caps := dialects[opts.Database]

	m := &Monitor{
		opts:  opts,
		caps:  caps,
		log:   logger.With("component", "monitor", "database", string(opts.Database)),
		cache: cache.New(opts.CacheSize, opts.CacheTTL),
		agg:   report.NewAggregator(opts.SlowQueryThreshold, opts.SlowQuerySampleLimit),
		pool:  pooltune.New(caps.poolDefaults),
	}
	m.enabled.Store(opts.Enabled)

	if opts.BatchExecutor != nil {
		sched, err := batch.NewScheduler(opts.batchConfig(), opts.BatchExecutor)
		if err != nil {
			return nil, fmt.Errorf("monitor: batch scheduler: %w", err)
		}
		m.sched = sched
	}

	return m, nil
}

// Enabled reports whether tracking is active.
func (m *Monitor) Enabled() bool {
	return m.enabled.Load()
}

// SetEnabled toggles tracking. A disabled monitor keeps its accumulated
// state; re-enabling resumes where it left off.
func (m *Monitor) SetEnabled(enabled bool) {
	m.enabled.Store(enabled)
}

// TrackQuery records one executed query described by q. The raw query text
// is never retained; the report only surfaces whether one was present. The
// call is a no-op when the monitor is disabled and never panics.
func (m *Monitor) TrackQuery(q fingerprint.Query, duration time.Duration) {
	if !m.enabled.Load() {
		return
	}
	defer m.absorb("track query")

	m.agg.Record(report.QueryLogEntry{
		Resource:   q.Resource,
		Operation:  q.Operation,
		Duration:   duration,
		DurationMs: float64(duration) / float64(time.Millisecond),
		HasText:    q.Text != "",
		Timestamp:  time.Now(),
	})
	if duration >= m.agg.SlowQueryThreshold() {
		m.log.Warn("slow query",
			"resource", q.Resource,
			"operation", q.Operation,
			"durationMs", float64(duration)/float64(time.Millisecond))
	}
}

// TrackConnection records one pool lifecycle event. Duration is meaningful
// for acquire events and ignored otherwise. No-op when disabled, never
// panics.
func (m *Monitor) TrackConnection(kind pooltune.EventKind, duration time.Duration) {
	if !m.enabled.Load() {
		return
	}
	defer m.absorb("track connection")

	m.pool.Track(kind, duration)
}

// absorb converts a panic in a tracking path into a warning and a counter
// bump. Instrumentation must never take the application down.
func (m *Monitor) absorb(op string) {
	if r := recover(); r != nil {
		m.trackingFailures.Add(1)
		m.log.Warn("tracking failure absorbed", "op", op, "panic", fmt.Sprint(r))
	}
}

// TrackingFailures reports how many tracking panics have been absorbed.
func (m *Monitor) TrackingFailures() int64 {
	return m.trackingFailures.Load()
}

// Lookup probes the fingerprint cache for a previously stored result. A
// disabled monitor always misses without touching counters.
func (m *Monitor) Lookup(q fingerprint.Query) (any, bool) {
	if !m.enabled.Load() {
		return nil, false
	}
	return m.cache.Lookup(fingerprint.New(q))
}

// Store caches a query result under the query's fingerprint. No-op when
// disabled.
func (m *Monitor) Store(q fingerprint.Query, value any) {
	if !m.enabled.Load() {
		return
	}
	m.cache.Store(fingerprint.New(q), q.Resource, value)
}

// InvalidateResource drops every cached result for the resource. Callers
// invoke this after writes so readers never see stale rows past a mutation.
func (m *Monitor) InvalidateResource(resource string) {
	m.cache.InvalidateResource(resource)
}

// Enqueue hands an operation to the batch scheduler and returns its future.
// Fails when no executor was configured.
func (m *Monitor) Enqueue(op any) (*batch.Future[any], error) {
	if m.sched == nil {
		return nil, ErrNoBatchExecutor
	}
	return m.sched.Enqueue(op), nil
}

// Cache exposes the underlying cache for adapters that key on fingerprints
// directly.
func (m *Monitor) Cache() *cache.Cache {
	return m.cache
}

// Pool exposes the pool optimizer for adapters that poll driver stats.
func (m *Monitor) Pool() *pooltune.Optimizer {
	return m.pool
}

// GetMetrics assembles a full point-in-time snapshot across all components.
// It is valid on a disabled monitor and always structurally complete.
func (m *Monitor) GetMetrics() report.Report {
	cacheStats := m.cache.Stats()
	poolStats := m.pool.Stats()
	poolRec := m.pool.Recommendation()

	var batchMetrics batch.Metrics
	if m.sched != nil {
		batchMetrics = m.sched.Metrics()
	} else {
		batchMetrics.SuccessRate = 1
		batchMetrics.RecommendedBatchSize = m.opts.BatchSize
	}

	health := report.Classify(report.Signals{
		CacheLookups:     cacheStats.Hits + cacheStats.Misses,
		CacheHitRate:     cacheStats.HitRate,
		TotalBatches:     batchMetrics.TotalBatches,
		BatchSuccessRate: batchMetrics.SuccessRate,
		PoolEvents:       poolStats.Created + poolStats.Acquired + poolStats.Released + poolStats.Errors + poolStats.Timeouts,
		PoolFailures:     poolStats.Errors + poolStats.Timeouts,
	})

	return report.Report{
		Database:    string(m.opts.Database),
		Performance: m.agg.Snapshot(cacheStats.HitRate),
		Cache:       cacheStats,
		Connections: report.ConnectionReport{
			OptimalPoolSize: report.PoolBounds{Min: poolRec.Min, Max: poolRec.Max},
			Stats:           poolStats,
			Recommendations: poolRec,
		},
		Batching: report.BatchReport{
			PendingOperations: batchMetrics.Pending,
			BatchSize:         m.opts.BatchSize,
			BatchDelayMs:      m.opts.BatchDelay.Milliseconds(),
			Metrics:           batchMetrics,
			Performance: report.BatchPerformance{
				RecommendedBatchSize: batchMetrics.RecommendedBatchSize,
				SuccessRate:          batchMetrics.SuccessRate,
				AverageExecutionMs:   batchMetrics.AverageExecutionMs,
			},
		},
		OverallHealth: health,
	}
}

// GetRecommendations derives human-readable tuning hints from the current
// snapshot. An empty slice means nothing stands out.
func (m *Monitor) GetRecommendations() []string {
	r := m.GetMetrics()
	var recs []string

	lookups := r.Cache.Hits + r.Cache.Misses
	if lookups >= 20 && r.Cache.HitRate < 0.3 {
		recs = append(recs, fmt.Sprintf(
			"cache hit rate is %.0f%% over %d lookups; consider raising the cache TTL or capacity",
			r.Cache.HitRate*100, lookups))
	}
	if r.Performance.TotalQueries > 0 {
		slowShare := float64(r.Performance.SlowQueries) / float64(r.Performance.TotalQueries)
		if slowShare > 0.1 {
			recs = append(recs, fmt.Sprintf(
				"%d of %d queries exceeded the %s slow threshold; review indexes on hot resources",
				r.Performance.SlowQueries, r.Performance.TotalQueries, m.agg.SlowQueryThreshold()))
		}
	}
	if r.Connections.Stats.Timeouts > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d acquire timeouts observed; raise the pool maximum toward %d or the acquire timeout toward %dms",
			r.Connections.Stats.Timeouts, r.Connections.Recommendations.Max,
			r.Connections.Recommendations.AcquireTimeoutMs))
	} else if r.Connections.Recommendations.Max > m.caps.poolDefaults.Max {
		recs = append(recs, fmt.Sprintf(
			"observed concurrency peaked at %d; recommended pool size is %d..%d",
			r.Connections.Stats.PeakInUse, r.Connections.Recommendations.Min,
			r.Connections.Recommendations.Max))
	}
	if m.caps.singleWriter && r.Connections.Stats.PeakInUse > 1 {
		recs = append(recs, "this database serializes writes; concurrent writers will queue rather than scale")
	}
	if r.Batching.Metrics.TotalBatches > 0 && r.Batching.Metrics.SuccessRate < 0.9 {
		recs = append(recs, fmt.Sprintf(
			"batch success rate is %.0f%%; the scheduler shrank its target to %d",
			r.Batching.Metrics.SuccessRate*100, r.Batching.Metrics.RecommendedBatchSize))
	}

	return recs
}

// Reset clears all accumulated state. Pending batch futures are rejected,
// counters zero, and the pool optimizer returns to its per-database
// defaults. Enabled state is preserved.
func (m *Monitor) Reset() {
	m.cache.Reset()
	m.agg.Reset()
	m.pool.Reset()
	if m.sched != nil {
		m.sched.Reset()
	}
	m.trackingFailures.Store(0)
	m.log.Info("monitor state reset")
}

// Close releases the scheduler. Pending futures are rejected. The monitor
// must not be used afterwards.
func (m *Monitor) Close() {
	if m.sched != nil {
		m.sched.Close()
	}
}
