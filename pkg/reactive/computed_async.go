package reactive

import (
	"context"
	"sync"
)

// AsyncComputed derives a Status-valued result from an asynchronous
// evaluation function over other reactive values. Reads performed by fn
// are tracked as dependencies for the whole run, including after
// blocking waits, because the evaluation stays on its own goroutine.
//
// Like Computed it is lazy: unobserved it re-evaluates only when read;
// with listeners it subscribes to its dependencies and restarts the
// evaluation when one changes. A completion belonging to a superseded
// run is discarded. Failures become an Error status and never propagate
// to readers.
type AsyncComputed[T any] struct {
	*statusCell[T]
	fn func(context.Context) (T, error)

	stateMu sync.Mutex
	runID   uint64
	started bool
	active  bool
	hasSeed bool
	cancel  context.CancelFunc
	deps    []Observable
	subs    []*Subscription
}

// NewAsyncComputed creates an async computed over fn. fn does not run
// until the first read or the first listener.
func NewAsyncComputed[T any](fn func(context.Context) (T, error), opts ...Option) *AsyncComputed[T] {
	cfg := newConfig(opts)
	c := &AsyncComputed[T]{
		statusCell: newStatusCell(cfg, Idle[T]()),
		fn:         fn,
	}
	c.notifier.setActivationHooks(c.activate, c.deactivate)
	c.registry.runInit(c)
	emitEvent(Event{Kind: EventCellCreated, CellID: c.id, OwnerID: c.ownerID, Name: c.name, ValueType: typeName[Status[T]]()})
	return c
}

// WithSeed reports seed as a synchronous Success until the first
// asynchronous evaluation completes. Returns the computed for chaining.
func (c *AsyncComputed[T]) WithSeed(seed T) *AsyncComputed[T] {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if !c.started {
		c.hasSeed = true
		c.mu.Lock()
		c.status = Success(seed)
		c.mu.Unlock()
	}
	return c
}

// Get returns the current status, starting the first evaluation on
// demand, and subscribes the currently evaluating computation.
func (c *AsyncComputed[T]) Get() Status[T] {
	if d := currentDependent(); d != nil && !c.disposed.Load() {
		d.observe(c)
	}
	c.stateMu.Lock()
	started := c.started
	c.stateMu.Unlock()
	if !started {
		c.restart()
	}
	return c.Peek()
}

// Refresh forces a new evaluation, superseding any in-flight run.
func (c *AsyncComputed[T]) Refresh() {
	if c.disposed.Load() {
		return
	}
	c.restart()
}

// observe implements dependent: values read by the evaluation function
// record themselves as dependencies.
func (c *AsyncComputed[T]) observe(src Observable) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	for _, d := range c.deps {
		if d.ID() == src.ID() {
			return
		}
	}
	c.deps = append(c.deps, src)
}

func (c *AsyncComputed[T]) activate() {
	c.stateMu.Lock()
	c.active = true
	c.stateMu.Unlock()
	c.restart()
}

func (c *AsyncComputed[T]) deactivate() {
	c.stateMu.Lock()
	c.active = false
	cancel := c.cancel
	c.cancel = nil
	subs := c.subs
	c.subs = nil
	c.deps = nil
	c.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, s := range subs {
		s.Cancel()
	}
}

// restart begins a fresh evaluation run, tearing down the previous
// run's dependency edges first.
func (c *AsyncComputed[T]) restart() {
	if c.disposed.Load() {
		return
	}

	c.stateMu.Lock()
	c.started = true
	c.runID++
	rid := c.runID
	if prev := c.cancel; prev != nil {
		defer prev()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	subs := c.subs
	c.subs = nil
	c.deps = nil
	hasSeed := c.hasSeed
	c.stateMu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}

	// The seed stays visible as Success until the first completion.
	if !hasSeed {
		c.setStatus(Waiting[T]())
	}

	go c.run(ctx, rid)
}

// run executes one evaluation on its own goroutine with this computed
// installed in that goroutine's tracking slot, so every read inside fn
// is recorded as a dependency, before and after any blocking wait.
func (c *AsyncComputed[T]) run(ctx context.Context, rid uint64) {
	defer cleanupTrackingContext()

	prev := setCurrentDependent(c)
	v, err := runGuarded(ctx, c.fn)
	setCurrentDependent(prev)

	c.stateMu.Lock()
	if rid != c.runID || c.disposed.Load() {
		c.stateMu.Unlock()
		return
	}
	c.hasSeed = false
	c.cancel = nil
	active := c.active
	deps := make([]Observable, len(c.deps))
	copy(deps, c.deps)
	c.stateMu.Unlock()

	if active {
		for _, d := range deps {
			sub := d.AddListener(c.onDepChanged)
			c.stateMu.Lock()
			c.subs = append(c.subs, sub)
			c.stateMu.Unlock()
		}
	}
	emitDepsChanged(c, deps)

	if err != nil {
		c.setStatus(Failure[T](err))
		return
	}
	c.setStatus(Success(v))
}

// onDepChanged restarts the evaluation when an upstream value changes
// while the computed is observed.
func (c *AsyncComputed[T]) onDepChanged() {
	if c.disposed.Load() {
		return
	}
	c.stateMu.Lock()
	active := c.active
	c.stateMu.Unlock()
	if active {
		c.restart()
	}
}

// Dispose terminally disposes the computed, cancelling any in-flight
// run and all upstream subscriptions.
func (c *AsyncComputed[T]) Dispose() {
	c.deactivate()
	c.dispose()
}
