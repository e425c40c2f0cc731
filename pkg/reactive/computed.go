package reactive

import (
	"sync"
	"sync/atomic"
)

// Computed derives a value from a function over other reactive values,
// with automatic dependency tracking.
//
// A Computed is lazy. While it has no listeners it holds no upstream
// subscriptions and re-evaluates on demand when read (pull). The instant
// it gains its first listener it evaluates once and subscribes to every
// value read during that evaluation (push); the instant its last
// listener departs it cancels every such subscription. Each evaluation
// tears down all subscriptions from the previous one before new edges
// are established, so divergent code paths never accumulate stale edges.
//
// A panic from the evaluation function propagates to whoever forced the
// re-evaluation, typically the listener dispatch of an upstream cell.
type Computed[T any] struct {
	id       uint64
	name     string
	ownerID  uint64
	notifier *Notifier
	registry *Registry
	fn       func() T

	mu         sync.Mutex
	value      T
	cached     bool
	active     bool
	evaluating bool
	deps       []Observable
	subs       []*Subscription

	// equal suppresses downstream notification when a re-evaluation
	// produces an equal value.
	equal func(T, T) bool

	disposed atomic.Bool
}

// NewComputed creates a derived value from fn. fn is not run until the
// first read or the first listener.
func NewComputed[T any](fn func() T, opts ...Option) *Computed[T] {
	cfg := newConfig(opts)
	c := &Computed[T]{
		id:       nextID(),
		name:     cfg.name,
		ownerID:  cfg.ownerID,
		notifier: NewNotifier(),
		registry: cfg.registry,
		fn:       fn,
	}
	c.notifier.setActivationHooks(c.activate, c.deactivate)
	c.registry.runInit(c)
	emitEvent(Event{Kind: EventCellCreated, CellID: c.id, OwnerID: c.ownerID, Name: c.name, ValueType: typeName[T]()})
	return c
}

// WithEquals configures the equality function used to decide whether a
// re-evaluation changed the value. Returns the computed for chaining.
func (c *Computed[T]) WithEquals(fn func(T, T) bool) *Computed[T] {
	c.equal = fn
	return c
}

// ID returns the unique identifier for this computed.
func (c *Computed[T]) ID() uint64 { return c.id }

// Name returns the debug name ("" if unset).
func (c *Computed[T]) Name() string { return c.name }

// OwnerID returns the owning scope's id (0 if unset).
func (c *Computed[T]) OwnerID() uint64 { return c.ownerID }

// IsDisposed reports whether Close has been called.
func (c *Computed[T]) IsDisposed() bool { return c.disposed.Load() }

// Get returns the derived value, evaluating on demand while the
// computed is unobserved, and subscribes the currently evaluating
// computation to this computed.
func (c *Computed[T]) Get() T {
	if d := currentDependent(); d != nil && !c.disposed.Load() {
		d.observe(c)
	}
	return c.Peek()
}

// Peek returns the derived value without creating a dependency.
func (c *Computed[T]) Peek() T {
	c.mu.Lock()
	if c.active && c.cached {
		v := c.value
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()
	v, _ := c.evaluate(false)
	return v
}

// AddListener registers a change listener. The first listener activates
// push mode; removing the last one deactivates it.
func (c *Computed[T]) AddListener(fn func()) *Subscription {
	return c.notifier.AddListener(fn)
}

// Subscribe registers a listener that receives the derived value on
// every change.
func (c *Computed[T]) Subscribe(fn func(T)) *Subscription {
	if fn == nil {
		return &Subscription{}
	}
	return c.notifier.AddListener(func() {
		fn(c.Peek())
	})
}

// Close terminally disposes the computed, cancelling all upstream
// subscriptions.
func (c *Computed[T]) Close() {
	if c.disposed.Swap(true) {
		return
	}
	c.teardown()
	c.registry.runDispose(c)
	emitEvent(Event{Kind: EventDisposed, CellID: c.id, OwnerID: c.ownerID, Name: c.name})
	c.notifier.Dispose()
}

// observe implements dependent: a value read during evaluation records
// itself as a dependency edge. Edges are deduplicated by id.
func (c *Computed[T]) observe(src Observable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.deps {
		if d.ID() == src.ID() {
			return
		}
	}
	c.deps = append(c.deps, src)
}

// activate switches to push mode on the first listener: evaluate once
// and subscribe to everything read.
func (c *Computed[T]) activate() {
	if c.disposed.Load() {
		return
	}
	c.mu.Lock()
	c.active = true
	c.mu.Unlock()
	c.evaluate(true)
}

// deactivate releases all upstream subscriptions when the last listener
// departs; the computed falls back to pull-on-read.
func (c *Computed[T]) deactivate() {
	c.mu.Lock()
	c.active = false
	c.cached = false
	c.mu.Unlock()
	c.teardown()
}

// teardown cancels every upstream subscription and clears the edge set.
func (c *Computed[T]) teardown() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.deps = nil
	c.mu.Unlock()
	for _, s := range subs {
		s.Cancel()
	}
}

// evaluate runs fn with this computed installed in the ambient tracking
// slot, rebuilding the dependency edge set from scratch. When subscribe
// is true (push mode) it re-subscribes to the fresh edges.
func (c *Computed[T]) evaluate(subscribe bool) (T, bool) {
	c.mu.Lock()
	if c.evaluating || c.disposed.Load() {
		// Circular dependency or disposed: return the last-known value.
		v := c.value
		c.mu.Unlock()
		return v, false
	}
	c.evaluating = true
	c.mu.Unlock()

	// All prior edges go before new ones are established.
	c.teardown()

	var v T
	func() {
		prev := setCurrentDependent(c)
		defer func() {
			setCurrentDependent(prev)
			c.mu.Lock()
			c.evaluating = false
			c.mu.Unlock()
		}()
		v = c.fn()
	}()

	c.mu.Lock()
	changed := !c.cached || !c.equals(c.value, v)
	c.value = v
	c.cached = true
	deps := make([]Observable, len(c.deps))
	copy(deps, c.deps)
	active := c.active
	c.mu.Unlock()

	if active && subscribe {
		for _, d := range deps {
			sub := d.AddListener(c.onDepChanged)
			c.mu.Lock()
			c.subs = append(c.subs, sub)
			c.mu.Unlock()
		}
	}
	emitDepsChanged(c, deps)
	return v, changed
}

// onDepChanged re-evaluates when an upstream value changes in push mode
// and notifies downstream listeners if the derived value changed.
func (c *Computed[T]) onDepChanged() {
	if c.disposed.Load() {
		return
	}
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()
	if !active {
		return
	}
	if _, changed := c.evaluate(true); changed {
		c.publish()
	}
}

// publish routes the notification into the ambient transaction when one
// is open.
func (c *Computed[T]) publish() {
	if tx := currentTransaction(); tx != nil {
		tx.touch(c)
		return
	}
	c.notifier.Notify()
}

// notifyNow implements notifiable for transaction flush.
func (c *Computed[T]) notifyNow() {
	c.notifier.Notify()
}

func (c *Computed[T]) equals(a, b T) bool {
	if c.equal != nil {
		return c.equal(a, b)
	}
	return defaultEquals(a, b)
}

// emitDepsChanged reports a computed's rebuilt edge set.
func emitDepsChanged(src Observable, deps []Observable) {
	if !hasObserver() {
		return
	}
	ids := make([]uint64, len(deps))
	for i, d := range deps {
		ids[i] = d.ID()
	}
	emitEvent(Event{Kind: EventDepsChanged, CellID: src.ID(), OwnerID: src.OwnerID(), Name: src.Name(), Deps: ids})
}
