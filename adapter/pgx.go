// Package adapter wires a live pgx v5 connection pool into a monitor:
// lifecycle hooks on the pool config, a background stats poller, and a
// batch executor that rides pgx's pipelined batches.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guileen/dbtune/batch"
	"github.com/guileen/dbtune/logger"
	"github.com/guileen/dbtune/monitor"
	"github.com/guileen/dbtune/pooltune"
)

// InstrumentConfig installs monitor hooks on a pool config before the pool
// is built. Existing hooks are preserved and run first.
func InstrumentConfig(cfg *pgxpool.Config, m *monitor.Monitor) {
	prevAfterConnect := cfg.AfterConnect
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if prevAfterConnect != nil {
			if err := prevAfterConnect(ctx, conn); err != nil {
				return err
			}
		}
		m.TrackConnection(pooltune.EventCreated, 0)
		return nil
	}

	prevBeforeAcquire := cfg.BeforeAcquire
	cfg.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		if prevBeforeAcquire != nil && !prevBeforeAcquire(ctx, conn) {
			return false
		}
		m.TrackConnection(pooltune.EventAcquired, 0)
		return true
	}

	prevAfterRelease := cfg.AfterRelease
	cfg.AfterRelease = func(conn *pgx.Conn) bool {
		keep := true
		if prevAfterRelease != nil {
			keep = prevAfterRelease(conn)
		}
		m.TrackConnection(pooltune.EventReleased, 0)
		return keep
	}
}

// StatSnapshot is the subset of cumulative pool counters the tuner needs.
// pgxpool.Stat has no public constructor, so the poller converts each
// driver snapshot into this form and diffs those.
type StatSnapshot struct {
	NewConns         int64
	Acquires         int64
	CanceledAcquires int64
	AcquireDuration  time.Duration
}

// Snapshot extracts the relevant counters from a driver stat.
func Snapshot(s *pgxpool.Stat) StatSnapshot {
	return StatSnapshot{
		NewConns:         s.NewConnsCount(),
		Acquires:         s.AcquireCount(),
		CanceledAcquires: s.CanceledAcquireCount(),
		AcquireDuration:  s.AcquireDuration(),
	}
}

// StatDelta is the per-interval change between two pool stat snapshots,
// expressed as monitor events.
type StatDelta struct {
	Created        int64
	Acquired       int64
	Canceled       int64
	AvgAcquireTime time.Duration
}

// DiffStats converts two consecutive snapshots into a delta. Counters are
// cumulative; a pool restart can make them regress, in which case the delta
// clamps to zero rather than going negative.
func DiffStats(prev, cur StatSnapshot) StatDelta {
	d := StatDelta{
		Created:  max64(cur.NewConns-prev.NewConns, 0),
		Acquired: max64(cur.Acquires-prev.Acquires, 0),
		Canceled: max64(cur.CanceledAcquires-prev.CanceledAcquires, 0),
	}
	if d.Acquired > 0 && cur.AcquireDuration > prev.AcquireDuration {
		d.AvgAcquireTime = (cur.AcquireDuration - prev.AcquireDuration) / time.Duration(d.Acquired)
	}
	return d
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// apply feeds a delta into the monitor as individual events. Canceled
// acquires count as timeouts: from the application's view the wait was
// abandoned either way.
func (d StatDelta) apply(m *monitor.Monitor) {
	for i := int64(0); i < d.Created; i++ {
		m.TrackConnection(pooltune.EventCreated, 0)
	}
	for i := int64(0); i < d.Acquired; i++ {
		m.TrackConnection(pooltune.EventAcquired, d.AvgAcquireTime)
	}
	for i := int64(0); i < d.Canceled; i++ {
		m.TrackConnection(pooltune.EventTimeout, 0)
	}
}

// StatsPoller periodically folds pool stats into a monitor. Use it instead
// of InstrumentConfig when the pool is built elsewhere and its config is
// out of reach.
type StatsPoller struct {
	pool     *pgxpool.Pool
	mon      *monitor.Monitor
	interval time.Duration
	done     chan struct{}
}

// NewStatsPoller creates a poller; Run starts it.
func NewStatsPoller(pool *pgxpool.Pool, m *monitor.Monitor, interval time.Duration) *StatsPoller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &StatsPoller{
		pool:     pool,
		mon:      m,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Run polls until ctx is canceled. It is meant to run on its own goroutine.
func (p *StatsPoller) Run(ctx context.Context) {
	defer close(p.done)

	log := logger.With("component", "stats_poller")
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	prev := Snapshot(p.pool.Stat())
	for {
		select {
		case <-ctx.Done():
			log.Debug("stats poller stopped")
			return
		case <-ticker.C:
			cur := Snapshot(p.pool.Stat())
			DiffStats(prev, cur).apply(p.mon)
			prev = cur
		}
	}
}

// Done is closed once Run returns.
func (p *StatsPoller) Done() <-chan struct{} {
	return p.done
}

// BatchOp is one statement destined for a pgx batch.
type BatchOp struct {
	SQL  string
	Args []any
}

// BatchResult carries the outcome of one statement within a flushed batch.
type BatchResult struct {
	RowsAffected int64
}

// NewBatchExecutor returns a batch.Executor that sends a window of
// statements as one pgx pipelined batch. Results come back in enqueue
// order; the first failing statement fails the whole window.
func NewBatchExecutor(pool *pgxpool.Pool) batch.Executor[BatchOp, BatchResult] {
	return func(ctx context.Context, ops []BatchOp) ([]BatchResult, error) {
		pb := &pgx.Batch{}
		for _, op := range ops {
			pb.Queue(op.SQL, op.Args...)
		}

		br := pool.SendBatch(ctx, pb)
		defer br.Close()

		results := make([]BatchResult, len(ops))
		for i := range ops {
			tag, err := br.Exec()
			if err != nil {
				return nil, fmt.Errorf("batch statement %d: %w", i, err)
			}
			results[i] = BatchResult{RowsAffected: tag.RowsAffected()}
		}
		return results, nil
	}
}

// ErrNotBatchOp is returned when the facade's untyped queue receives
// something other than a BatchOp.
var ErrNotBatchOp = errors.New("adapter: operation is not a BatchOp")

// NewAnyBatchExecutor adapts NewBatchExecutor to the facade's any-typed
// scheduler.
func NewAnyBatchExecutor(pool *pgxpool.Pool) batch.Executor[any, any] {
	exec := NewBatchExecutor(pool)
	return func(ctx context.Context, ops []any) ([]any, error) {
		typed := make([]BatchOp, len(ops))
		for i, op := range ops {
			bo, ok := op.(BatchOp)
			if !ok {
				return nil, fmt.Errorf("%w: %T", ErrNotBatchOp, op)
			}
			typed[i] = bo
		}
		results, err := exec(ctx, typed)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(results))
		for i, r := range results {
			out[i] = r
		}
		return out, nil
	}
}
