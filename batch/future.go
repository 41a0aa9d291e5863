package batch

import (
	"context"
	"sync"
)

// Future is the pending result of an enqueued operation. It settles exactly
// once, either with the operation's result or with the error that failed
// its whole batch.
type Future[R any] struct {
	once sync.Once
	done chan struct{}
	val  R
	err  error
}

func newFuture[R any]() *Future[R] {
	return &Future[R]{done: make(chan struct{})}
}

func (f *Future[R]) resolve(v R) {
	f.once.Do(func() {
		f.val = v
		close(f.done)
	})
}

func (f *Future[R]) reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed when the future has settled.
func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future settles or the context is canceled.
func (f *Future[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}
