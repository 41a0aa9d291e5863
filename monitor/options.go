package monitor

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/guileen/dbtune/batch"
	"github.com/guileen/dbtune/pooltune"
	"github.com/guileen/dbtune/report"
)

// ErrInvalidConfig reports invalid monitor options. Construction fails fast
// instead of coercing bad values.
var ErrInvalidConfig = errors.New("monitor: invalid configuration")

// DatabaseType identifies the database flavor a monitor instruments. The
// set is closed; anything else fails validation.
type DatabaseType string

const (
	PostgreSQL DatabaseType = "postgresql"
	MySQL      DatabaseType = "mysql"
	SQLite     DatabaseType = "sqlite"
)

// capabilities carries the per-database knobs the monitor dispatches on.
// One table lookup replaces ad hoc type probing.
type capabilities struct {
	poolDefaults pooltune.Defaults
	// singleWriter is set for engines that serialize writes internally,
	// where recommending a large write pool would be misleading.
	singleWriter bool
}

var dialects = map[DatabaseType]capabilities{
	PostgreSQL: {poolDefaults: pooltune.Defaults{Min: 2, Max: 10}},
	MySQL:      {poolDefaults: pooltune.Defaults{Min: 2, Max: 10}},
	SQLite:     {poolDefaults: pooltune.Defaults{Min: 1, Max: 1}, singleWriter: true},
}

// Options configures a Monitor. Every field has a documented default; use
// DefaultOptions and override what you need.
type Options struct {
	// Database selects the dialect capability set. Required.
	Database DatabaseType

	// Enabled controls whether tracking calls record anything. A disabled
	// monitor is a no-op in hot paths. Default true.
	Enabled bool

	// CacheSize is the fingerprint cache capacity. Default 100.
	CacheSize int
	// CacheTTL is the freshness window of cached results. Default 60s.
	CacheTTL time.Duration

	// BatchSize is the flush ceiling for the batch scheduler. Default 10.
	BatchSize int
	// MinBatchSize floors the adaptive batch target. Default 1.
	MinBatchSize int
	// BatchDelay bounds the wait before a forced flush. Default 100ms.
	BatchDelay time.Duration
	// SlowFlushThreshold is the flush latency that triggers adaptive
	// back-off. Default 250ms.
	SlowFlushThreshold time.Duration
	// BatchExecutor performs batch round-trips. Optional: without one the
	// monitor simply has no batching surface.
	BatchExecutor batch.Executor[any, any]

	// SlowQueryThreshold marks a tracked query as slow. Default 100ms.
	SlowQueryThreshold time.Duration
	// SlowQuerySampleLimit bounds the retained slow-query sample.
	// Default 25.
	SlowQuerySampleLimit int
}

// DefaultOptions returns the documented defaults for a database type.
func DefaultOptions(db DatabaseType) Options {
	bc := batch.DefaultConfig()
	return Options{
		Database:             db,
		Enabled:              true,
		CacheSize:            100,
		CacheTTL:             60 * time.Second,
		BatchSize:            bc.BatchSize,
		MinBatchSize:         bc.MinBatchSize,
		BatchDelay:           bc.BatchDelay,
		SlowFlushThreshold:   bc.SlowFlushThreshold,
		SlowQueryThreshold:   report.DefaultSlowQueryThreshold,
		SlowQuerySampleLimit: report.DefaultSlowSampleLimit,
	}
}

// LoadOptions builds options from defaults plus environment variables:
// DBTUNE_CACHE_SIZE, DBTUNE_CACHE_TTL_MS, DBTUNE_BATCH_SIZE,
// DBTUNE_BATCH_DELAY_MS, DBTUNE_SLOW_QUERY_THRESHOLD_MS, DBTUNE_ENABLED.
// Unparseable values are ignored in favor of the default.
func LoadOptions(db DatabaseType) Options {
	opts := DefaultOptions(db)

	if v := os.Getenv("DBTUNE_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.CacheSize = n
		}
	}
	if v := os.Getenv("DBTUNE_CACHE_TTL_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			opts.CacheTTL = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("DBTUNE_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.BatchSize = n
		}
	}
	if v := os.Getenv("DBTUNE_BATCH_DELAY_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			opts.BatchDelay = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("DBTUNE_SLOW_QUERY_THRESHOLD_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			opts.SlowQueryThreshold = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("DBTUNE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			opts.Enabled = enabled
		}
	}

	return opts
}

// Validate rejects invalid option combinations.
func (o Options) Validate() error {
	if _, ok := dialects[o.Database]; !ok {
		return fmt.Errorf("%w: unknown database type %q", ErrInvalidConfig, o.Database)
	}
	if o.CacheSize <= 0 {
		return fmt.Errorf("%w: cache size must be positive, got %d", ErrInvalidConfig, o.CacheSize)
	}
	if o.CacheTTL <= 0 {
		return fmt.Errorf("%w: cache TTL must be positive, got %s", ErrInvalidConfig, o.CacheTTL)
	}
	if o.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, o.BatchSize)
	}
	if o.MinBatchSize <= 0 || o.MinBatchSize > o.BatchSize {
		return fmt.Errorf("%w: min batch size must be in [1, %d], got %d", ErrInvalidConfig, o.BatchSize, o.MinBatchSize)
	}
	if o.BatchDelay <= 0 {
		return fmt.Errorf("%w: batch delay must be positive, got %s", ErrInvalidConfig, o.BatchDelay)
	}
	if o.SlowFlushThreshold <= 0 {
		return fmt.Errorf("%w: slow flush threshold must be positive, got %s", ErrInvalidConfig, o.SlowFlushThreshold)
	}
	if o.SlowQueryThreshold <= 0 {
		return fmt.Errorf("%w: slow query threshold must be positive, got %s", ErrInvalidConfig, o.SlowQueryThreshold)
	}
	if o.SlowQuerySampleLimit <= 0 {
		return fmt.Errorf("%w: slow query sample limit must be positive, got %d", ErrInvalidConfig, o.SlowQuerySampleLimit)
	}
	return nil
}

func (o Options) batchConfig() batch.Config {
	return batch.Config{
		BatchSize:          o.BatchSize,
		MinBatchSize:       o.MinBatchSize,
		BatchDelay:         o.BatchDelay,
		SlowFlushThreshold: o.SlowFlushThreshold,
	}
}
