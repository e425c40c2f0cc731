package reactive

import (
	"sync/atomic"
	"time"
)

// EventKind enumerates the instrumentation event types the core emits.
type EventKind uint8

const (
	// EventCellCreated fires once per cell/computed/wrapper at
	// construction.
	EventCellCreated EventKind = iota + 1

	// EventMutation fires for every committed (non-vetoed) mutation.
	EventMutation

	// EventBatchStart fires when an outermost transaction opens.
	EventBatchStart

	// EventBatchEnd fires when an outermost transaction has flushed.
	EventBatchEnd

	// EventDepsChanged fires when a computed rebuilds its dependency
	// edge set.
	EventDepsChanged

	// EventDisposed fires once per cell/computed/wrapper at disposal.
	EventDisposed
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventCellCreated:
		return "cell_created"
	case EventMutation:
		return "mutation"
	case EventBatchStart:
		return "batch_start"
	case EventBatchEnd:
		return "batch_end"
	case EventDepsChanged:
		return "deps_changed"
	case EventDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Event is one structured lifecycle notification for an external
// observer such as a devtools panel. Events are fire-and-forget: they
// never block and never alter core behavior.
type Event struct {
	Kind         EventKind
	Time         time.Time
	CellID       uint64
	OwnerID      uint64
	Name         string
	ValueType    string
	Old, New     any
	Participants int
	Deps         []uint64
}

// Observer consumes instrumentation events. Implementations must not
// block: the core calls ObserveEvent synchronously on the mutating
// goroutine.
type Observer interface {
	ObserveEvent(Event)
}

// observerHolder wraps the interface for atomic swapping.
type observerHolder struct {
	o Observer
}

var globalObserver atomic.Pointer[observerHolder]

// SetObserver installs the process-wide instrumentation observer.
// Passing nil removes it. Takes effect for all subsequent events.
func SetObserver(o Observer) {
	if o == nil {
		globalObserver.Store(nil)
		return
	}
	globalObserver.Store(&observerHolder{o: o})
}

// hasObserver is the fast-path check used before building event
// payloads.
func hasObserver() bool {
	return globalObserver.Load() != nil
}

// emitEvent delivers ev to the installed observer, stamping the time.
func emitEvent(ev Event) {
	h := globalObserver.Load()
	if h == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	h.o.ObserveEvent(ev)
}
