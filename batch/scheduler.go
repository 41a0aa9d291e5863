// Package batch accumulates pending operations and flushes them to an
// injected executor as a single call, either when the current window reaches
// the target batch size or when the debounce delay expires. Batches are
// all-or-nothing: if the executor fails, every operation in that window
// fails with the same error, and the scheduler reopens a fresh window for
// subsequent work.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrInvalidConfig is returned by NewScheduler for bad configuration.
	ErrInvalidConfig = errors.New("batch: invalid configuration")

	// ErrSchedulerClosed is the rejection error for operations enqueued
	// after Close, and for operations pending when Close is called.
	ErrSchedulerClosed = errors.New("batch: scheduler closed")

	// ErrSchedulerReset rejects operations that were pending when Reset
	// discarded the open window. Callers holding futures observe this
	// instead of waiting forever.
	ErrSchedulerReset = errors.New("batch: scheduler reset")

	// ErrResultMismatch reports an executor that returned a result slice
	// whose length does not match the operation slice.
	ErrResultMismatch = errors.New("batch: executor result count mismatch")
)

// Executor performs one batch round-trip. It must return one result per
// operation, in the same order. The executor call is the only I/O-causing
// effect of the scheduler.
type Executor[T, R any] func(ctx context.Context, ops []T) ([]R, error)

// Config controls flush behavior. The zero value is invalid; use
// DefaultConfig as a starting point.
type Config struct {
	// BatchSize is the ceiling on operations per flush. Reaching it
	// triggers an immediate flush.
	BatchSize int
	// MinBatchSize bounds the adaptive target from below.
	MinBatchSize int
	// BatchDelay is the maximum time an enqueued operation waits before a
	// forced flush, even if the window holds a single operation.
	BatchDelay time.Duration
	// SlowFlushThreshold is the flush latency above which the adaptive
	// target backs off, as if the flush had failed.
	SlowFlushThreshold time.Duration
}

// DefaultConfig returns the documented defaults: batches of up to 10
// operations, a 100ms debounce, a floor of 1, and a 250ms slow-flush
// threshold.
func DefaultConfig() Config {
	return Config{
		BatchSize:          10,
		MinBatchSize:       1,
		BatchDelay:         100 * time.Millisecond,
		SlowFlushThreshold: 250 * time.Millisecond,
	}
}

func (c Config) validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidConfig, c.BatchSize)
	}
	if c.MinBatchSize <= 0 || c.MinBatchSize > c.BatchSize {
		return fmt.Errorf("%w: min batch size must be in [1, %d], got %d", ErrInvalidConfig, c.BatchSize, c.MinBatchSize)
	}
	if c.BatchDelay <= 0 {
		return fmt.Errorf("%w: batch delay must be positive, got %s", ErrInvalidConfig, c.BatchDelay)
	}
	if c.SlowFlushThreshold <= 0 {
		return fmt.Errorf("%w: slow flush threshold must be positive, got %s", ErrInvalidConfig, c.SlowFlushThreshold)
	}
	return nil
}

// Metrics is a point-in-time snapshot of scheduler counters.
type Metrics struct {
	TotalBatches       int64     `json:"totalBatches"`
	TotalOperations    int64     `json:"totalOperations"`
	AverageBatchSize   float64   `json:"averageBatchSize"`
	AverageExecutionMs float64   `json:"averageExecutionMs"`
	FailedBatches      int64     `json:"failedBatches"`
	// SuccessRate is (totalBatches-failedBatches)/totalBatches, or 1 when
	// no batch has run yet.
	SuccessRate   float64   `json:"successRate"`
	LastBatchTime time.Time `json:"lastBatchTime"`
	// Pending counts operations in the currently open window.
	Pending int `json:"pendingOperations"`
	// RecommendedBatchSize is the current adaptive target. It never
	// exceeds the configured BatchSize ceiling and never overrides it.
	RecommendedBatchSize int `json:"recommendedBatchSize"`
}

type pending[T, R any] struct {
	op  T
	fut *Future[R]
}

// Scheduler coalesces operations into batches. Exactly one window is open
// at a time; an operation belongs to exactly one window.
type Scheduler[T, R any] struct {
	cfg      Config
	executor Executor[T, R]

	mu       sync.Mutex
	window   []pending[T, R]
	windowID uint64
	timer    *time.Timer
	closed   bool

	// adaptive sizing
	target     int
	fastStreak int

	totalBatches  int64
	totalOps      int64
	failedBatches int64
	sumExec       time.Duration
	lastBatch     time.Time
}

// NewScheduler validates the configuration and returns a scheduler. The
// executor must not be nil.
func NewScheduler[T, R any](cfg Config, executor Executor[T, R]) (*Scheduler[T, R], error) {
	if executor == nil {
		return nil, fmt.Errorf("%w: executor is required", ErrInvalidConfig)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Scheduler[T, R]{
		cfg:      cfg,
		executor: executor,
		target:   cfg.BatchSize,
	}, nil
}

// Enqueue adds an operation to the open window and returns a future for its
// result. The first operation of a window arms the delay timer; reaching
// the adaptive target flushes immediately and cancels the timer.
func (s *Scheduler[T, R]) Enqueue(op T) *Future[R] {
	fut := newFuture[R]()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fut.reject(ErrSchedulerClosed)
		return fut
	}

	s.window = append(s.window, pending[T, R]{op: op, fut: fut})

	if len(s.window) == 1 {
		id := s.windowID
		s.timer = time.AfterFunc(s.cfg.BatchDelay, func() { s.flushExpired(id) })
	}

	if len(s.window) >= s.target {
		ops := s.takeWindowLocked()
		s.mu.Unlock()
		go s.run(ops)
		return fut
	}

	s.mu.Unlock()
	return fut
}

// flushExpired is the timer path: it flushes whatever the window holds, but
// only if the window that armed the timer is still the open one.
func (s *Scheduler[T, R]) flushExpired(id uint64) {
	s.mu.Lock()
	if s.closed || s.windowID != id || len(s.window) == 0 {
		s.mu.Unlock()
		return
	}
	ops := s.takeWindowLocked()
	s.mu.Unlock()
	s.run(ops)
}

// takeWindowLocked atomically closes the open window and opens a new empty
// one. Callers must hold s.mu.
func (s *Scheduler[T, R]) takeWindowLocked() []pending[T, R] {
	ops := s.window
	s.window = nil
	s.windowID++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return ops
}

// run hands one closed window to the executor and settles its futures.
func (s *Scheduler[T, R]) run(ops []pending[T, R]) {
	values := make([]T, len(ops))
	for i, p := range ops {
		values[i] = p.op
	}

	start := time.Now()
	results, err := s.executor(context.Background(), values)
	elapsed := time.Since(start)

	if err == nil && len(results) != len(ops) {
		err = fmt.Errorf("%w: %d results for %d operations", ErrResultMismatch, len(results), len(ops))
	}

	if err != nil {
		for _, p := range ops {
			p.fut.reject(err)
		}
	} else {
		for i, p := range ops {
			p.fut.resolve(results[i])
		}
	}

	s.mu.Lock()
	s.totalBatches++
	s.totalOps += int64(len(ops))
	s.sumExec += elapsed
	s.lastBatch = time.Now()
	if err != nil {
		s.failedBatches++
	}
	s.adaptLocked(err != nil, elapsed)
	s.mu.Unlock()
}

// adaptLocked is the feedback control on the flush target. Failures and
// slow flushes halve the target down to the configured floor; three
// consecutive fast successes double it back toward the ceiling. The
// configured BatchSize is a hard ceiling, never silently raised.
func (s *Scheduler[T, R]) adaptLocked(failed bool, elapsed time.Duration) {
	if failed || elapsed > s.cfg.SlowFlushThreshold {
		s.fastStreak = 0
		s.target /= 2
		if s.target < s.cfg.MinBatchSize {
			s.target = s.cfg.MinBatchSize
		}
		return
	}

	if s.target >= s.cfg.BatchSize {
		s.fastStreak = 0
		return
	}
	s.fastStreak++
	if s.fastStreak >= 3 {
		s.fastStreak = 0
		s.target *= 2
		if s.target > s.cfg.BatchSize {
			s.target = s.cfg.BatchSize
		}
	}
}

// RecommendedBatchSize reports the current adaptive target.
func (s *Scheduler[T, R]) RecommendedBatchSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Metrics returns a snapshot of the scheduler counters.
func (s *Scheduler[T, R]) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metricsLocked()
}

func (s *Scheduler[T, R]) metricsLocked() Metrics {
	m := Metrics{
		TotalBatches:         s.totalBatches,
		TotalOperations:      s.totalOps,
		FailedBatches:        s.failedBatches,
		LastBatchTime:        s.lastBatch,
		Pending:              len(s.window),
		RecommendedBatchSize: s.target,
		SuccessRate:          1,
	}
	if s.totalBatches > 0 {
		m.AverageBatchSize = float64(s.totalOps) / float64(s.totalBatches)
		m.AverageExecutionMs = float64(s.sumExec.Milliseconds()) / float64(s.totalBatches)
		m.SuccessRate = float64(s.totalBatches-s.failedBatches) / float64(s.totalBatches)
	}
	return m
}

// Reset discards the open window, rejecting its futures with
// ErrSchedulerReset, and zeroes all counters and the adaptive state.
// Configuration is untouched and the scheduler remains usable.
func (s *Scheduler[T, R]) Reset() {
	s.mu.Lock()
	ops := s.takeWindowLocked()
	s.totalBatches = 0
	s.totalOps = 0
	s.failedBatches = 0
	s.sumExec = 0
	s.lastBatch = time.Time{}
	s.target = s.cfg.BatchSize
	s.fastStreak = 0
	s.mu.Unlock()

	for _, p := range ops {
		p.fut.reject(ErrSchedulerReset)
	}
}

// Close permanently stops the scheduler. Pending operations are rejected
// with ErrSchedulerClosed, as are later Enqueue calls.
func (s *Scheduler[T, R]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ops := s.takeWindowLocked()
	s.mu.Unlock()

	for _, p := range ops {
		p.fut.reject(ErrSchedulerClosed)
	}
}
