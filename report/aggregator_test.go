package report

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndSnapshot(t *testing.T) {
	a := NewAggregator(100*time.Millisecond, 25)

	a.Record(QueryLogEntry{Resource: "posts", Operation: "list", Duration: 20 * time.Millisecond})
	a.Record(QueryLogEntry{Resource: "posts", Operation: "getOne", Duration: 40 * time.Millisecond})

	perf := a.Snapshot(0.5)
	assert.Equal(t, int64(2), perf.TotalQueries)
	assert.InDelta(t, 30, perf.AverageQueryTimeMs, 1e-9)
	assert.InDelta(t, 0.5, perf.CacheHitRate, 1e-9)
	assert.Zero(t, perf.SlowQueries)
}

func TestSlowQueryCountingAndSample(t *testing.T) {
	a := NewAggregator(100*time.Millisecond, 3)

	a.Record(QueryLogEntry{Resource: "fast", Duration: 10 * time.Millisecond})
	for i := 0; i < 5; i++ {
		a.Record(QueryLogEntry{
			Resource: fmt.Sprintf("slow%d", i),
			Duration: 200 * time.Millisecond,
		})
	}

	perf := a.Snapshot(0)
	assert.Equal(t, int64(5), perf.SlowQueries)
	require.Len(t, perf.SlowQuerySample, 3, "sample is bounded")
	// The ring keeps the newest entries.
	assert.Equal(t, "slow2", perf.SlowQuerySample[0].Resource)
	assert.Equal(t, "slow4", perf.SlowQuerySample[2].Resource)
}

func TestThresholdBoundaryIsSlow(t *testing.T) {
	a := NewAggregator(100*time.Millisecond, 25)

	a.Record(QueryLogEntry{Resource: "edge", Duration: 100 * time.Millisecond})

	assert.Equal(t, int64(1), a.Snapshot(0).SlowQueries)
}

func TestDefaultsApplied(t *testing.T) {
	a := NewAggregator(0, 0)
	assert.Equal(t, DefaultSlowQueryThreshold, a.SlowQueryThreshold())
}

func TestAggregatorReset(t *testing.T) {
	a := NewAggregator(50*time.Millisecond, 10)

	a.Record(QueryLogEntry{Resource: "r", Duration: 60 * time.Millisecond})
	a.Reset()

	perf := a.Snapshot(0)
	assert.Zero(t, perf.TotalQueries)
	assert.Zero(t, perf.SlowQueries)
	assert.Empty(t, perf.SlowQuerySample)
	assert.Zero(t, perf.AverageQueryTimeMs)
}
