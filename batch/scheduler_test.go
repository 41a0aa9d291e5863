package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingExecutor captures every batch it receives and echoes each
// operation back as its result.
type recordingExecutor struct {
	mu      sync.Mutex
	batches [][]string
	err     error
	delay   time.Duration
}

func (r *recordingExecutor) exec(_ context.Context, ops []string) ([]string, error) {
	r.mu.Lock()
	batch := make([]string, len(ops))
	copy(batch, ops)
	r.batches = append(r.batches, batch)
	err := r.err
	delay := r.delay
	r.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *recordingExecutor) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func (r *recordingExecutor) batch(i int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batches[i]
}

func newTestScheduler(t *testing.T, cfg Config, exec *recordingExecutor) *Scheduler[string, string] {
	t.Helper()
	s, err := NewScheduler(cfg, exec.exec)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestConfigValidation(t *testing.T) {
	exec := func(_ context.Context, ops []string) ([]string, error) { return ops, nil }

	_, err := NewScheduler[string, string](DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bad := DefaultConfig()
	bad.BatchSize = 0
	_, err = NewScheduler(bad, exec)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bad = DefaultConfig()
	bad.MinBatchSize = bad.BatchSize + 1
	_, err = NewScheduler(bad, exec)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bad = DefaultConfig()
	bad.BatchDelay = 0
	_, err = NewScheduler(bad, exec)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSizeTriggerFlushesImmediately(t *testing.T) {
	exec := &recordingExecutor{}
	cfg := DefaultConfig()
	cfg.BatchSize = 3
	cfg.BatchDelay = time.Hour // the timer must not be the trigger
	s := newTestScheduler(t, cfg, exec)

	futs := []*Future[string]{
		s.Enqueue("a"), s.Enqueue("b"), s.Enqueue("c"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i, f := range futs {
		v, err := f.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}[i], v)
	}

	require.Equal(t, 1, exec.batchCount())
	assert.Equal(t, []string{"a", "b", "c"}, exec.batch(0))
}

func TestDelayTriggerFlushesSingleOperation(t *testing.T) {
	exec := &recordingExecutor{}
	cfg := DefaultConfig()
	cfg.BatchSize = 100
	cfg.BatchDelay = 20 * time.Millisecond
	s := newTestScheduler(t, cfg, exec)

	start := time.Now()
	fut := s.Enqueue("only")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := fut.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "only", v)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	require.Equal(t, 1, exec.batchCount())
	assert.Equal(t, []string{"only"}, exec.batch(0))
}

func TestOrderingWithinWindow(t *testing.T) {
	exec := &recordingExecutor{}
	cfg := DefaultConfig()
	cfg.BatchSize = 5
	cfg.BatchDelay = time.Hour
	s := newTestScheduler(t, cfg, exec)

	want := []string{"o1", "o2", "o3", "o4", "o5"}
	futs := make([]*Future[string], len(want))
	for i, op := range want {
		futs[i] = s.Enqueue(op)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i, f := range futs {
		v, err := f.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, want[i], v)
	}
	assert.Equal(t, want, exec.batch(0))
}

func TestExecutorFailureRejectsWholeWindow(t *testing.T) {
	boom := errors.New("connection lost")
	exec := &recordingExecutor{err: boom}
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.MinBatchSize = 2
	cfg.BatchDelay = time.Hour
	s := newTestScheduler(t, cfg, exec)

	f1 := s.Enqueue("a")
	f2 := s.Enqueue("b")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f1.Wait(ctx)
	assert.ErrorIs(t, err, boom)
	_, err = f2.Wait(ctx)
	assert.ErrorIs(t, err, boom)

	// A new window is unaffected by the previous failure.
	exec.mu.Lock()
	exec.err = nil
	exec.mu.Unlock()

	f3 := s.Enqueue("c")
	f4 := s.Enqueue("d")
	v, err := f3.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", v)
	v, err = f4.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "d", v)

	// Counters are updated after futures settle, so poll briefly.
	require.Eventually(t, func() bool {
		return s.Metrics().TotalBatches == 2
	}, time.Second, 5*time.Millisecond)
	m := s.Metrics()
	assert.Equal(t, int64(1), m.FailedBatches)
	assert.InDelta(t, 0.5, m.SuccessRate, 1e-9)
}

func TestResultCountMismatchRejects(t *testing.T) {
	exec := func(_ context.Context, ops []string) ([]string, error) {
		return ops[:1], nil
	}
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.BatchDelay = time.Hour
	s, err := NewScheduler(cfg, exec)
	require.NoError(t, err)
	defer s.Close()

	f1 := s.Enqueue("a")
	f2 := s.Enqueue("b")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = f1.Wait(ctx)
	assert.ErrorIs(t, err, ErrResultMismatch)
	_, err = f2.Wait(ctx)
	assert.ErrorIs(t, err, ErrResultMismatch)
}

func TestAdaptiveTargetShrinksAndRecovers(t *testing.T) {
	exec := &recordingExecutor{err: errors.New("down")}
	cfg := DefaultConfig()
	cfg.BatchSize = 8
	cfg.MinBatchSize = 2
	cfg.BatchDelay = time.Hour
	s := newTestScheduler(t, cfg, exec)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	flush := func(n int) {
		before := s.Metrics().TotalBatches
		futs := make([]*Future[string], n)
		for i := 0; i < n; i++ {
			futs[i] = s.Enqueue(fmt.Sprintf("op%d", i))
		}
		for _, f := range futs {
			f.Wait(ctx) //nolint:errcheck
		}
		// The adaptive step runs after futures settle; wait for it.
		require.Eventually(t, func() bool {
			return s.Metrics().TotalBatches > before
		}, time.Second, time.Millisecond)
	}

	// Failures halve the target: 8 -> 4 -> 2, floored at MinBatchSize.
	flush(8)
	assert.Equal(t, 4, s.RecommendedBatchSize())
	flush(4)
	assert.Equal(t, 2, s.RecommendedBatchSize())
	flush(2)
	assert.Equal(t, 2, s.RecommendedBatchSize(), "target never drops below the floor")

	// Fast successes climb back toward the configured ceiling.
	exec.mu.Lock()
	exec.err = nil
	exec.mu.Unlock()
	for i := 0; i < 3; i++ {
		flush(2)
	}
	assert.Equal(t, 4, s.RecommendedBatchSize())
}

func TestResetRejectsPendingFutures(t *testing.T) {
	exec := &recordingExecutor{}
	cfg := DefaultConfig()
	cfg.BatchSize = 100
	cfg.BatchDelay = time.Hour
	s := newTestScheduler(t, cfg, exec)

	fut := s.Enqueue("stranded")
	s.Reset()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := fut.Wait(ctx)
	assert.ErrorIs(t, err, ErrSchedulerReset)
	assert.Equal(t, 0, exec.batchCount(), "reset must not flush")

	m := s.Metrics()
	assert.Zero(t, m.TotalBatches)
	assert.Zero(t, m.Pending)
	assert.Equal(t, cfg.BatchSize, m.RecommendedBatchSize)
}

func TestEnqueueAfterCloseRejects(t *testing.T) {
	exec := &recordingExecutor{}
	s := newTestScheduler(t, DefaultConfig(), exec)
	s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := s.Enqueue("late").Wait(ctx)
	assert.ErrorIs(t, err, ErrSchedulerClosed)
}

func TestEndToEndDelayTiming(t *testing.T) {
	exec := &recordingExecutor{}
	cfg := DefaultConfig()
	cfg.BatchSize = 3
	cfg.BatchDelay = 50 * time.Millisecond
	s := newTestScheduler(t, cfg, exec)

	f1 := s.Enqueue("w1")
	f2 := s.Enqueue("w2")

	// Below the size threshold nothing flushes before the delay.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, exec.batchCount())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f1.Wait(ctx)
	require.NoError(t, err)
	_, err = f2.Wait(ctx)
	require.NoError(t, err)

	require.Equal(t, 1, exec.batchCount())
	assert.Equal(t, []string{"w1", "w2"}, exec.batch(0))
}
