package reactive

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Watchable is anything a Watch can observe: it exposes the current
// value and change notification. Cell, Computed, and the status
// wrappers all qualify.
type Watchable[T any] interface {
	Peek() T
	AddListener(fn func()) *Subscription
}

// WatchStats are the run statistics of a Watch.
type WatchStats struct {
	// Runs is the number of completed callback invocations.
	Runs uint64

	// LastDuration is the duration of the most recent invocation.
	LastDuration time.Duration

	// TotalDuration is the cumulative duration of all invocations.
	TotalDuration time.Duration

	// InFlight reports whether an invocation is currently running.
	InFlight bool

	// LastError is the error returned by the most recent async
	// invocation, nil after a successful one. Always nil for sync
	// watches.
	LastError error
}

// Watch is an imperative subscription: it invokes a callback on every
// change of its source and tracks run statistics. After Dispose the
// callback is never invoked again, even if the source keeps emitting.
type Watch[T any] struct {
	id   uint64
	name string
	sub  *Subscription

	mu    sync.Mutex
	stats WatchStats

	cancel   context.CancelFunc
	disposed atomic.Bool
}

// NewWatch invokes fn with the source's value on every change.
// A panic from fn propagates to the dispatch that triggered the run,
// after the statistics are updated.
func NewWatch[T any](src Watchable[T], fn func(T), opts ...Option) *Watch[T] {
	cfg := newConfig(opts)
	w := &Watch[T]{id: nextID(), name: cfg.name}
	w.sub = src.AddListener(func() {
		if w.disposed.Load() {
			return
		}
		w.invoke(func() error {
			fn(src.Peek())
			return nil
		})
	})
	return w
}

// NewWatchAsync invokes fn on its own goroutine on every change. The
// context is cancelled when the watch is disposed. The returned error
// is recorded in the statistics.
func NewWatchAsync[T any](src Watchable[T], fn func(context.Context, T) error, opts ...Option) *Watch[T] {
	cfg := newConfig(opts)
	w := &Watch[T]{id: nextID(), name: cfg.name}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.sub = src.AddListener(func() {
		if w.disposed.Load() {
			return
		}
		v := src.Peek()
		go func() {
			defer cleanupTrackingContext()
			if w.disposed.Load() {
				return
			}
			w.invoke(func() error {
				return fn(ctx, v)
			})
		}()
	})
	return w
}

// invoke runs one callback invocation, maintaining the statistics even
// when the callback panics.
func (w *Watch[T]) invoke(fn func() error) {
	w.mu.Lock()
	w.stats.InFlight = true
	w.mu.Unlock()

	start := time.Now()
	var err error
	defer func() {
		d := time.Since(start)
		w.mu.Lock()
		w.stats.InFlight = false
		w.stats.Runs++
		w.stats.LastDuration = d
		w.stats.TotalDuration += d
		w.stats.LastError = err
		w.mu.Unlock()
	}()
	err = fn()
}

// ID returns the unique identifier for this watch.
func (w *Watch[T]) ID() uint64 { return w.id }

// Name returns the debug name ("" if unset).
func (w *Watch[T]) Name() string { return w.name }

// Stats returns a snapshot of the run statistics.
func (w *Watch[T]) Stats() WatchStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// IsDisposed reports whether Dispose has been called.
func (w *Watch[T]) IsDisposed() bool {
	return w.disposed.Load()
}

// Dispose cancels the underlying subscription. Idempotent.
func (w *Watch[T]) Dispose() {
	if w.disposed.Swap(true) {
		return
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.sub.Cancel()
}
