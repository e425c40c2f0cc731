package reactive

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Source is an external push-based value source. Subscribe registers fn
// for every emission and returns a cancel func that releases the
// subscription.
type Source[T any] interface {
	Subscribe(fn func(T)) (cancel func())
}

// SourceFunc adapts a plain subscribe function into a Source.
type SourceFunc[T any] func(fn func(T)) (cancel func())

// Subscribe implements Source.
func (f SourceFunc[T]) Subscribe(fn func(T)) (cancel func()) {
	return f(fn)
}

// ChanSource adapts a channel into a Source. Each subscriber drains the
// channel on its own goroutine until the channel closes or the
// subscription is cancelled.
func ChanSource[T any](ch <-chan T) Source[T] {
	return SourceFunc[T](func(fn func(T)) func() {
		done := make(chan struct{})
		go func() {
			defer cleanupTrackingContext()
			for {
				select {
				case v, ok := <-ch:
					if !ok {
						return
					}
					fn(v)
				case <-done:
					return
				}
			}
		}()
		var once sync.Once
		return func() {
			once.Do(func() { close(done) })
		}
	})
}

// statusCell is the shared reactive core of the asynchronous wrappers:
// a Status-valued cell with lazy activation hooks. Status transitions
// are driven by the runtime, not by user mutations, so they bypass the
// interceptor pipeline (they cannot be vetoed or recorded), but they
// are still batched and instrumented like any other change.
type statusCell[T any] struct {
	id       uint64
	name     string
	ownerID  uint64
	notifier *Notifier
	registry *Registry

	mu       sync.Mutex
	status   Status[T]
	disposed atomic.Bool
}

func newStatusCell[T any](cfg config, initial Status[T]) *statusCell[T] {
	s := &statusCell[T]{
		id:       nextID(),
		name:     cfg.name,
		ownerID:  cfg.ownerID,
		notifier: NewNotifier(),
		registry: cfg.registry,
		status:   initial,
	}
	return s
}

// ID returns the unique identifier for this wrapper.
func (s *statusCell[T]) ID() uint64 { return s.id }

// Name returns the debug name ("" if unset).
func (s *statusCell[T]) Name() string { return s.name }

// OwnerID returns the owning scope's id (0 if unset).
func (s *statusCell[T]) OwnerID() uint64 { return s.ownerID }

// IsDisposed reports whether the wrapper has been disposed.
func (s *statusCell[T]) IsDisposed() bool { return s.disposed.Load() }

// Get returns the current status and subscribes the currently
// evaluating computation.
func (s *statusCell[T]) Get() Status[T] {
	v := s.Peek()
	if d := currentDependent(); d != nil && !s.disposed.Load() {
		d.observe(s)
	}
	return v
}

// Peek returns the current status without creating a dependency.
func (s *statusCell[T]) Peek() Status[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// AddListener registers a change listener. The first listener activates
// the underlying source.
func (s *statusCell[T]) AddListener(fn func()) *Subscription {
	return s.notifier.AddListener(fn)
}

// Subscribe registers a listener that receives the status on every
// transition.
func (s *statusCell[T]) Subscribe(fn func(Status[T])) *Subscription {
	if fn == nil {
		return &Subscription{}
	}
	return s.notifier.AddListener(func() {
		fn(s.Peek())
	})
}

// setStatus transitions the status, suppressing equal transitions, and
// notifies through the ambient transaction when one is open.
func (s *statusCell[T]) setStatus(next Status[T]) {
	if s.disposed.Load() {
		return
	}
	s.mu.Lock()
	if statusEquals(s.status, next) {
		s.mu.Unlock()
		return
	}
	old := s.status
	s.status = next
	s.mu.Unlock()

	emitEvent(Event{Kind: EventMutation, CellID: s.id, OwnerID: s.ownerID, Name: s.name, ValueType: typeName[Status[T]](), Old: old.String(), New: next.String()})
	if tx := currentTransaction(); tx != nil {
		tx.touch(s)
		return
	}
	s.notifier.Notify()
}

// notifyNow implements notifiable for transaction flush.
func (s *statusCell[T]) notifyNow() {
	s.notifier.Notify()
}

// dispose terminally disposes the wrapper.
func (s *statusCell[T]) dispose() bool {
	if s.disposed.Swap(true) {
		return false
	}
	s.registry.runDispose(s)
	emitEvent(Event{Kind: EventDisposed, CellID: s.id, OwnerID: s.ownerID, Name: s.name})
	s.notifier.Dispose()
	return true
}

// Future wraps a one-shot asynchronous result into a Status-valued
// reactive. Activation is lazy: fn is not started until the wrapper
// gains its first listener, and an in-flight run is cancelled when the
// last listener departs (the status falls back to Idle and a later
// activation retries). A completed result is kept.
type Future[T any] struct {
	*statusCell[T]
	fn func(context.Context) (T, error)

	runMu  sync.Mutex
	runID  uint64
	cancel context.CancelFunc
	done   bool
}

// NewFuture creates a Future over fn.
func NewFuture[T any](fn func(context.Context) (T, error), opts ...Option) *Future[T] {
	cfg := newConfig(opts)
	f := &Future[T]{
		statusCell: newStatusCell(cfg, Idle[T]()),
		fn:         fn,
	}
	f.notifier.setActivationHooks(f.activate, f.deactivate)
	f.registry.runInit(f)
	emitEvent(Event{Kind: EventCellCreated, CellID: f.id, OwnerID: f.ownerID, Name: f.name, ValueType: typeName[Status[T]]()})
	return f
}

func (f *Future[T]) activate() {
	f.runMu.Lock()
	if f.done || f.disposed.Load() {
		f.runMu.Unlock()
		return
	}
	f.runID++
	rid := f.runID
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.runMu.Unlock()

	f.setStatus(Waiting[T]())
	go func() {
		defer cleanupTrackingContext()
		v, err := runGuarded(ctx, f.fn)

		f.runMu.Lock()
		if rid != f.runID || f.disposed.Load() {
			f.runMu.Unlock()
			return
		}
		f.done = true
		f.cancel = nil
		f.runMu.Unlock()

		if err != nil {
			f.setStatus(Failure[T](err))
			return
		}
		f.setStatus(Success(v))
	}()
}

func (f *Future[T]) deactivate() {
	f.runMu.Lock()
	cancel := f.cancel
	f.cancel = nil
	if !f.done {
		f.runID++
	}
	done := f.done
	f.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !done {
		f.setStatus(Idle[T]())
	}
}

// Dispose terminally disposes the Future, cancelling any in-flight run.
func (f *Future[T]) Dispose() {
	f.runMu.Lock()
	cancel := f.cancel
	f.cancel = nil
	f.runMu.Unlock()
	if cancel != nil {
		cancel()
	}
	f.dispose()
}

// Stream wraps a push-based event source into a Status-valued reactive:
// every emission becomes Success(value). The source is not subscribed
// until the wrapper gains its first listener and is released when the
// last listener departs, so an idle Stream holds no upstream
// subscription.
type Stream[T any] struct {
	*statusCell[T]
	src Source[T]

	srcMu     sync.Mutex
	srcCancel func()
}

// NewStream creates a Stream over src.
func NewStream[T any](src Source[T], opts ...Option) *Stream[T] {
	cfg := newConfig(opts)
	s := &Stream[T]{
		statusCell: newStatusCell(cfg, Idle[T]()),
		src:        src,
	}
	s.notifier.setActivationHooks(s.activate, s.deactivate)
	s.registry.runInit(s)
	emitEvent(Event{Kind: EventCellCreated, CellID: s.id, OwnerID: s.ownerID, Name: s.name, ValueType: typeName[Status[T]]()})
	return s
}

func (s *Stream[T]) activate() {
	if s.src == nil || s.disposed.Load() {
		return
	}
	s.srcMu.Lock()
	defer s.srcMu.Unlock()
	if s.srcCancel != nil {
		return
	}
	s.srcCancel = s.src.Subscribe(func(v T) {
		s.setStatus(Success(v))
	})
}

func (s *Stream[T]) deactivate() {
	s.srcMu.Lock()
	cancel := s.srcCancel
	s.srcCancel = nil
	s.srcMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Dispose terminally disposes the Stream, releasing the source
// subscription.
func (s *Stream[T]) Dispose() {
	s.deactivate()
	s.dispose()
}

// runGuarded invokes an asynchronous evaluation function, converting a
// panic into an error so a failure is captured as a status instead of
// crashing the caller.
func runGuarded[T any](ctx context.Context, fn func(context.Context) (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reflow: async evaluation panicked: %v", r)
		}
	}()
	return fn(ctx)
}
