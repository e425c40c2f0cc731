// Package history provides undo/redo over the reactive runtime. It
// observes committed mutations through an interceptor and keeps two
// stacks of records; batched mutations collapse into one composite
// record so a transaction undoes atomically.
package history

import (
	"sync"

	"github.com/reflow-dev/reflow/pkg/reactive"
)

// Token is the registry slot the history interceptor occupies. Creating
// a second History on the same registry replaces the first one's hooks.
const Token = "history"

// History records committed cell mutations and replays them on demand.
// Undo and redo restore values directly, bypassing the interceptor
// pipeline, so replayed changes are never re-recorded and can never be
// vetoed.
type History struct {
	registry *reactive.Registry
	ic       *reactive.Interceptor

	mu        sync.Mutex
	undo      []reactive.Record
	redo      []reactive.Record
	limit     int
	paused    bool
	restoring bool

	grouping   bool
	group      []*reactive.Change
	groupLabel string
	nextLabel  string
}

// Option configures a History.
type Option func(*History)

// WithLimit bounds the undo stack to n records; the oldest record is
// dropped when the bound is exceeded. Zero or negative means unbounded.
func WithLimit(n int) Option {
	return func(h *History) {
		h.limit = n
	}
}

// WithRegistry attaches the history to a specific interceptor registry
// instead of the process-wide default. Note that batch grouping hooks
// only fire for the default registry; cells on a custom registry are
// recorded as individual changes even inside a batch.
func WithRegistry(r *reactive.Registry) Option {
	return func(h *History) {
		h.registry = r
	}
}

// New creates a History and registers its interceptor under Token.
func New(opts ...Option) *History {
	h := &History{
		registry: reactive.DefaultRegistry(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.ic = &reactive.Interceptor{
		Name:     "history",
		Mutation: h.onMutation,
		Batch:    h.onBatch,
	}
	h.registry.Register(h.ic, reactive.WithToken(Token))
	return h
}

// onMutation records every applied, non-replayed change. Vetoed changes
// never enter the history.
func (h *History) onMutation(cell reactive.Observable, ch *reactive.Change, next func()) {
	next()
	if !ch.Applied() {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.paused || h.restoring {
		return
	}
	if h.grouping {
		h.group = append(h.group, ch)
		return
	}
	h.pushLocked(ch)
}

// onBatch turns all changes committed inside one outermost transaction
// into a single composite record.
func (h *History) onBatch(next func()) {
	h.mu.Lock()
	if h.paused || h.restoring || h.grouping {
		h.mu.Unlock()
		next()
		return
	}
	h.grouping = true
	h.groupLabel = h.nextLabel
	h.nextLabel = ""
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		group := h.group
		label := h.groupLabel
		h.group = nil
		h.grouping = false
		if len(group) > 0 {
			h.pushLocked(reactive.NewBatchRecord(label, group))
		}
		h.mu.Unlock()
	}()
	next()
}

// pushLocked appends a record to the undo stack, clears the redo stack,
// and enforces the limit. Caller holds h.mu.
func (h *History) pushLocked(rec reactive.Record) {
	h.undo = append(h.undo, rec)
	h.redo = nil
	if h.limit > 0 && len(h.undo) > h.limit {
		h.undo = h.undo[len(h.undo)-h.limit:]
	}
}

// Group runs fn inside a labeled transaction; the resulting composite
// record carries the label.
func (h *History) Group(label string, fn func()) {
	h.mu.Lock()
	h.nextLabel = label
	h.mu.Unlock()
	reactive.Batch(fn)
}

// Undo rewinds the most recent record, restoring all of its old values
// in one transaction. Returns false when there is nothing to undo.
func (h *History) Undo() bool {
	h.mu.Lock()
	if len(h.undo) == 0 {
		h.mu.Unlock()
		return false
	}
	rec := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.restoring = true
	h.mu.Unlock()

	h.replay(rec.RestoreOld)

	h.mu.Lock()
	h.restoring = false
	h.redo = append(h.redo, rec)
	h.mu.Unlock()
	return true
}

// Redo replays the most recently undone record, restoring all of its
// new values in one transaction. Returns false when there is nothing to
// redo.
func (h *History) Redo() bool {
	h.mu.Lock()
	if len(h.redo) == 0 {
		h.mu.Unlock()
		return false
	}
	rec := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.restoring = true
	h.mu.Unlock()

	h.replay(rec.RestoreNew)

	h.mu.Lock()
	h.restoring = false
	h.undo = append(h.undo, rec)
	h.mu.Unlock()
	return true
}

// replay runs the restore inside a batch so multi-cell records notify
// coherently, and clears the restoring flag even if a listener panics.
func (h *History) replay(restore func()) {
	defer func() {
		if r := recover(); r != nil {
			h.mu.Lock()
			h.restoring = false
			h.mu.Unlock()
			panic(r)
		}
	}()
	reactive.Batch(restore)
}

// CanUndo reports whether the undo stack is non-empty.
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo) > 0
}

// CanRedo reports whether the redo stack is non-empty.
func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redo) > 0
}

// UndoDepth returns the number of undoable records.
func (h *History) UndoDepth() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo)
}

// RedoDepth returns the number of redoable records.
func (h *History) RedoDepth() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redo)
}

// Records returns a snapshot of the undo stack, oldest first.
func (h *History) Records() []reactive.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]reactive.Record, len(h.undo))
	copy(out, h.undo)
	return out
}

// Pause stops recording until Resume. Mutations made while paused are
// lost to the history.
func (h *History) Pause() {
	h.mu.Lock()
	h.paused = true
	h.mu.Unlock()
}

// Resume re-enables recording.
func (h *History) Resume() {
	h.mu.Lock()
	h.paused = false
	h.mu.Unlock()
}

// Clear drops both stacks.
func (h *History) Clear() {
	h.mu.Lock()
	h.undo = nil
	h.redo = nil
	h.mu.Unlock()
}

// Close unregisters the interceptor and drops both stacks. The History
// must not be used afterwards.
func (h *History) Close() {
	h.registry.Unregister(h.ic)
	h.Clear()
}
