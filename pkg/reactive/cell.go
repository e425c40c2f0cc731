package reactive

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// Cell is a reactive value container. Reading a Cell during a tracked
// computation automatically subscribes that computation to the Cell's
// changes. Writes are suppressed when the new value equals the current
// one; every effective write is routed through the interceptor pipeline
// before it commits, and its notification is redirected into the ambient
// transaction when one is open.
type Cell[T any] struct {
	id       uint64
	name     string
	ownerID  uint64
	notifier *Notifier
	registry *Registry

	mu    sync.RWMutex
	value T

	// equal determines write suppression. Nil uses default equality.
	equal func(T, T) bool

	disposed atomic.Bool

	// unbinds are cancel funcs for Bind sources, torn down on Close.
	unbindMu sync.Mutex
	unbinds  []func()
}

// NewCell creates a cell holding initial.
func NewCell[T any](initial T, opts ...Option) *Cell[T] {
	cfg := newConfig(opts)
	c := &Cell[T]{
		id:       nextID(),
		name:     cfg.name,
		ownerID:  cfg.ownerID,
		notifier: NewNotifier(),
		registry: cfg.registry,
		value:    initial,
	}
	c.registry.runInit(c)
	emitEvent(Event{Kind: EventCellCreated, CellID: c.id, OwnerID: c.ownerID, Name: c.name, ValueType: typeName[T]()})
	return c
}

// WithEquals configures the cell with a custom equality function used
// for write suppression. Useful for types where reflect.DeepEqual is
// too expensive or has incorrect semantics. Returns the cell for
// chaining.
func (c *Cell[T]) WithEquals(fn func(T, T) bool) *Cell[T] {
	c.equal = fn
	return c
}

// ID returns the unique identifier for this cell.
func (c *Cell[T]) ID() uint64 { return c.id }

// Name returns the cell's debug name ("" if unset).
func (c *Cell[T]) Name() string { return c.name }

// OwnerID returns the owning scope's id (0 if unset).
func (c *Cell[T]) OwnerID() uint64 { return c.ownerID }

// IsDisposed reports whether Close has been called.
func (c *Cell[T]) IsDisposed() bool { return c.disposed.Load() }

// Get returns the current value and subscribes the currently evaluating
// computation, if any.
func (c *Cell[T]) Get() T {
	v := c.Peek()
	if d := currentDependent(); d != nil && !c.disposed.Load() {
		d.observe(c)
	}
	return v
}

// Peek returns the current value without creating a dependency.
func (c *Cell[T]) Peek() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Set updates the value and notifies listeners. Writes equal to the
// current value are suppressed; use Refresh to force a re-emit.
func (c *Cell[T]) Set(v T) {
	if c.disposed.Load() {
		return
	}
	old := c.Peek()
	if c.equals(old, v) {
		return
	}
	c.apply(old, v)
}

// Refresh re-emits the current value as a genuine change event, with
// old == new.
func (c *Cell[T]) Refresh() {
	if c.disposed.Load() {
		return
	}
	cur := c.Peek()
	c.apply(cur, cur)
}

// Call is the functor shorthand: with no arguments it reads the value,
// with one argument it writes and returns it.
func (c *Cell[T]) Call(args ...T) T {
	switch len(args) {
	case 0:
		return c.Get()
	case 1:
		c.Set(args[0])
		return args[0]
	default:
		panic("reflow: Cell.Call accepts at most one argument")
	}
}

// Update atomically reads and updates the value. The write is
// suppressed when fn returns a value equal to the current one.
func (c *Cell[T]) Update(fn func(T) T) {
	if c.disposed.Load() || fn == nil {
		return
	}
	old := c.Peek()
	v := fn(old)
	if c.equals(old, v) {
		return
	}
	c.apply(old, v)
}

// Mutate runs fn against the current value for in-place mutation of a
// mutable value (map, slice, pointer target), then forces a
// notification with old == new.
func (c *Cell[T]) Mutate(fn func(T)) {
	if c.disposed.Load() || fn == nil {
		return
	}
	v := c.Peek()
	fn(v)
	c.apply(v, v)
}

// Bind forwards every value emitted by src into this cell. The
// subscription is released when the returned cancel func is called or
// when the cell closes, whichever comes first.
func (c *Cell[T]) Bind(src Source[T]) (cancel func()) {
	if src == nil || c.disposed.Load() {
		return func() {}
	}
	stop := src.Subscribe(func(v T) {
		c.Set(v)
	})
	c.unbindMu.Lock()
	c.unbinds = append(c.unbinds, stop)
	c.unbindMu.Unlock()
	return stop
}

// AddListener registers a change listener. The listener receives no
// arguments; use Subscribe to receive the value.
func (c *Cell[T]) AddListener(fn func()) *Subscription {
	return c.notifier.AddListener(fn)
}

// Subscribe registers a listener that receives the cell's value on
// every change.
func (c *Cell[T]) Subscribe(fn func(T)) *Subscription {
	if fn == nil {
		return &Subscription{}
	}
	return c.notifier.AddListener(func() {
		fn(c.Peek())
	})
}

// Close terminally disposes the cell. Further mutations and listener
// registrations are silent no-ops.
func (c *Cell[T]) Close() {
	if c.disposed.Swap(true) {
		return
	}

	c.unbindMu.Lock()
	unbinds := c.unbinds
	c.unbinds = nil
	c.unbindMu.Unlock()
	for _, stop := range unbinds {
		stop()
	}

	c.registry.runDispose(c)
	emitEvent(Event{Kind: EventDisposed, CellID: c.id, OwnerID: c.ownerID, Name: c.name})
	c.notifier.Dispose()
}

// apply builds the Change for a mutation and routes it through the
// interceptor pipeline. If the pipeline does not call through, the
// value is left unchanged (a veto).
func (c *Cell[T]) apply(old, new T) {
	ch := newChange(c.id, c.name, reflect.TypeOf((*T)(nil)).Elem(), old, new, c.restore)

	commit := func() {
		c.mu.Lock()
		c.value = new
		c.mu.Unlock()
		ch.applied.Store(true)
	}

	if p := c.registry.pipeline(); p.mutation != nil {
		p.mutation(c, ch, commit)
	} else {
		commit()
	}
	if !ch.applied.Load() {
		return
	}

	emitEvent(Event{Kind: EventMutation, CellID: c.id, OwnerID: c.ownerID, Name: c.name, ValueType: typeName[T](), Old: any(old), New: any(new)})
	c.publish()
}

// restore re-applies a recorded value without re-entering the mutation
// path: no equality suppression, no interceptor pipeline. Used by the
// history interceptor's undo/redo.
func (c *Cell[T]) restore(value any) {
	if c.disposed.Load() {
		return
	}
	v, ok := value.(T)
	if !ok {
		return
	}
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()
	c.publish()
}

// publish routes the notification into the ambient transaction when one
// is open, and fires immediately otherwise.
func (c *Cell[T]) publish() {
	if tx := currentTransaction(); tx != nil {
		tx.touch(c)
		return
	}
	c.notifier.Notify()
}

// notifyNow implements notifiable for transaction flush.
func (c *Cell[T]) notifyNow() {
	c.notifier.Notify()
}

// equals checks two values using the configured equality function.
func (c *Cell[T]) equals(a, b T) bool {
	if c.equal != nil {
		return c.equal(a, b)
	}
	return defaultEquals(a, b)
}

// typeName renders T's name for instrumentation events.
func typeName[T any]() string {
	return reflect.TypeOf((*T)(nil)).Elem().String()
}

// defaultEquals provides type-appropriate equality checking.
// Uses == for common comparable types and reflect.DeepEqual for others.
func defaultEquals[T any](a, b T) bool {
	switch av := any(a).(type) {
	case int:
		return av == any(b).(int)
	case int8:
		return av == any(b).(int8)
	case int16:
		return av == any(b).(int16)
	case int32:
		return av == any(b).(int32)
	case int64:
		return av == any(b).(int64)
	case uint:
		return av == any(b).(uint)
	case uint8:
		return av == any(b).(uint8)
	case uint16:
		return av == any(b).(uint16)
	case uint32:
		return av == any(b).(uint32)
	case uint64:
		return av == any(b).(uint64)
	case float32:
		return av == any(b).(float32)
	case float64:
		return av == any(b).(float64)
	case string:
		return av == any(b).(string)
	case bool:
		return av == any(b).(bool)
	default:
		return reflect.DeepEqual(a, b)
	}
}
