package reactive

import (
	"sync"
	"sync/atomic"
)

// listenerEntry is one registered listener. Entries are tombstoned on
// removal so a dispatch that already snapshotted the set can skip them.
type listenerEntry struct {
	id      uint64
	fn      func()
	removed atomic.Bool
}

// Subscription is the handle returned by AddListener. Cancelling it
// removes the listener; cancelling twice is a no-op.
type Subscription struct {
	entry *listenerEntry
	n     *Notifier
}

// Cancel removes the subscription's listener from its Notifier.
// Safe to call at any time, including during a dispatch that has not yet
// reached the listener (it will then be skipped) and after disposal.
func (s *Subscription) Cancel() {
	if s == nil || s.n == nil {
		return
	}
	s.n.remove(s.entry)
}

// Notifier is the minimal listener-set primitive underlying every
// reactive value. It guarantees:
//
//   - a listener added while a dispatch is in progress is not invoked in
//     that same dispatch;
//   - a listener removed mid-dispatch is not invoked if its turn has not
//     yet come;
//   - after Dispose, AddListener and Notify are silent no-ops.
type Notifier struct {
	mu       sync.Mutex
	entries  []*listenerEntry
	disposed atomic.Bool

	// onFirst/onLast fire on the 0->1 and 1->0 listener-count
	// transitions. Used by lazy primitives (Computed, Future, Stream)
	// to activate and release their upstream subscriptions.
	onFirst func()
	onLast  func()
}

// NewNotifier creates an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// setActivationHooks installs the listener-count transition callbacks.
// Must be called before any listeners are added.
func (n *Notifier) setActivationHooks(onFirst, onLast func()) {
	n.onFirst = onFirst
	n.onLast = onLast
}

// AddListener registers fn and returns its Subscription. After Dispose
// it returns an inert Subscription and fn will never be invoked.
func (n *Notifier) AddListener(fn func()) *Subscription {
	if fn == nil || n.disposed.Load() {
		return &Subscription{}
	}
	e := &listenerEntry{id: nextID(), fn: fn}

	n.mu.Lock()
	n.entries = append(n.entries, e)
	first := len(n.entries) == 1
	onFirst := n.onFirst
	n.mu.Unlock()

	if first && onFirst != nil {
		onFirst()
	}
	return &Subscription{entry: e, n: n}
}

// remove tombstones and unlinks an entry.
func (n *Notifier) remove(e *listenerEntry) {
	if e == nil || e.removed.Swap(true) {
		return
	}

	n.mu.Lock()
	for i, existing := range n.entries {
		if existing == e {
			n.entries = append(n.entries[:i], n.entries[i+1:]...)
			break
		}
	}
	last := len(n.entries) == 0
	onLast := n.onLast
	n.mu.Unlock()

	if last && onLast != nil && !n.disposed.Load() {
		onLast()
	}
}

// Notify invokes every currently-registered listener. The set is
// snapshotted before dispatch; tombstoned entries are skipped.
func (n *Notifier) Notify() {
	if n.disposed.Load() {
		return
	}

	n.mu.Lock()
	snapshot := make([]*listenerEntry, len(n.entries))
	copy(snapshot, n.entries)
	n.mu.Unlock()

	for _, e := range snapshot {
		if e.removed.Load() {
			continue
		}
		e.fn()
	}
}

// ListenerCount returns the number of currently-registered listeners.
func (n *Notifier) ListenerCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.entries)
}

// Dispose terminally disposes the Notifier. All registered listeners are
// dropped; further AddListener/Notify calls are silent no-ops.
func (n *Notifier) Dispose() {
	if n.disposed.Swap(true) {
		return
	}
	n.mu.Lock()
	for _, e := range n.entries {
		e.removed.Store(true)
	}
	n.entries = nil
	n.mu.Unlock()
}

// IsDisposed reports whether Dispose has been called.
func (n *Notifier) IsDisposed() bool {
	return n.disposed.Load()
}
