package reactive

import (
	"reflect"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// DebugMode enables debug features throughout the reactive package: every
// Change captures the stack trace of the mutation site, and Failure
// statuses capture the stack of the failure. This should be set at
// startup and not changed during runtime.
var DebugMode bool

// Record is one undoable unit of history: either a single Change or a
// composite BatchRecord produced by one transaction.
type Record interface {
	// At returns the time the record was created.
	At() time.Time

	// Label returns the human-readable name ("" if unset).
	Label() string

	// Len returns the number of changes in the record.
	Len() int

	// IsEmpty reports whether the record contains no changes.
	IsEmpty() bool

	// CellIDs returns the distinct participating cell ids, in the order
	// they were first touched.
	CellIDs() []uint64

	// RestoreOld re-applies the old value(s) without re-entering the
	// normal mutation path. For a composite, changes restore in reverse.
	RestoreOld()

	// RestoreNew is the mirror of RestoreOld, re-applying the new
	// value(s) in original order.
	RestoreNew()
}

// Change is an immutable snapshot of one cell mutation.
type Change struct {
	at        time.Time
	cellID    uint64
	label     string
	valueType reflect.Type
	old, new  any

	// restore re-applies a value to the originating cell, bypassing the
	// interceptor pipeline. Nil for cells that were closed before the
	// record was replayed.
	restore func(value any)

	// applied is set once the pipeline calls through to the underlying
	// setter. A Change whose pipeline returned without applying was
	// vetoed.
	applied atomic.Bool

	stack []byte
}

// newChange builds a Change for a mutation of the given cell. The stack
// is captured only when DebugMode is enabled.
func newChange(cellID uint64, label string, valueType reflect.Type, old, new any, restore func(any)) *Change {
	ch := &Change{
		at:        time.Now(),
		cellID:    cellID,
		label:     label,
		valueType: valueType,
		old:       old,
		new:       new,
		restore:   restore,
	}
	if DebugMode {
		ch.stack = debug.Stack()
	}
	return ch
}

// At returns the time the mutation was initiated.
func (c *Change) At() time.Time { return c.at }

// Label returns the originating cell's debug name ("" if unset).
func (c *Change) Label() string { return c.label }

// CellID returns the id of the mutated cell.
func (c *Change) CellID() uint64 { return c.cellID }

// ValueType returns the declared value type of the mutated cell.
func (c *Change) ValueType() reflect.Type { return c.valueType }

// OldValue returns the value before the mutation.
func (c *Change) OldValue() any { return c.old }

// NewValue returns the value after the mutation.
func (c *Change) NewValue() any { return c.new }

// Applied reports whether the pipeline called through to the underlying
// setter. False means the change was vetoed.
func (c *Change) Applied() bool { return c.applied.Load() }

// Stack returns the mutation-site stack trace, or nil when DebugMode was
// off at mutation time.
func (c *Change) Stack() []byte { return c.stack }

// Len implements Record.
func (c *Change) Len() int { return 1 }

// IsEmpty implements Record.
func (c *Change) IsEmpty() bool { return false }

// CellIDs implements Record.
func (c *Change) CellIDs() []uint64 { return []uint64{c.cellID} }

// RestoreOld re-applies the old value, bypassing the interceptor
// pipeline. No-op if the originating cell is gone.
func (c *Change) RestoreOld() {
	if c.restore != nil {
		c.restore(c.old)
	}
}

// RestoreNew re-applies the new value, bypassing the interceptor
// pipeline.
func (c *Change) RestoreNew() {
	if c.restore != nil {
		c.restore(c.new)
	}
}

// BatchRecord is the ordered list of changes produced by one
// transaction. It exposes aggregate metadata only: a batch has many old
// and new values, so the single-value accessors panic.
type BatchRecord struct {
	at      time.Time
	label   string
	changes []*Change
}

// NewBatchRecord builds a composite record from the changes committed by
// one transaction, in commit order.
func NewBatchRecord(label string, changes []*Change) *BatchRecord {
	return &BatchRecord{
		at:      time.Now(),
		label:   label,
		changes: changes,
	}
}

// At implements Record.
func (b *BatchRecord) At() time.Time { return b.at }

// Label implements Record.
func (b *BatchRecord) Label() string { return b.label }

// Len implements Record.
func (b *BatchRecord) Len() int { return len(b.changes) }

// IsEmpty implements Record.
func (b *BatchRecord) IsEmpty() bool { return len(b.changes) == 0 }

// Changes returns the individual changes in commit order.
func (b *BatchRecord) Changes() []*Change {
	out := make([]*Change, len(b.changes))
	copy(out, b.changes)
	return out
}

// CellIDs returns the distinct participating cell ids in first-touched
// order.
func (b *BatchRecord) CellIDs() []uint64 {
	seen := make(map[uint64]struct{}, len(b.changes))
	ids := make([]uint64, 0, len(b.changes))
	for _, ch := range b.changes {
		if _, ok := seen[ch.cellID]; ok {
			continue
		}
		seen[ch.cellID] = struct{}{}
		ids = append(ids, ch.cellID)
	}
	return ids
}

// OldValue panics: a batch has many old values. Inspect Changes instead.
func (b *BatchRecord) OldValue() any {
	panic("reflow: batch record has no single old value; inspect Changes()")
}

// NewValue panics: a batch has many new values. Inspect Changes instead.
func (b *BatchRecord) NewValue() any {
	panic("reflow: batch record has no single new value; inspect Changes()")
}

// RestoreOld re-applies every change's old value in reverse commit
// order, so the batch is undone atomically.
func (b *BatchRecord) RestoreOld() {
	for i := len(b.changes) - 1; i >= 0; i-- {
		b.changes[i].RestoreOld()
	}
}

// RestoreNew re-applies every change's new value in commit order.
func (b *BatchRecord) RestoreNew() {
	for _, ch := range b.changes {
		ch.RestoreNew()
	}
}
