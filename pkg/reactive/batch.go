package reactive

import (
	"context"
	"sync"
	"sync/atomic"
)

// transaction collects the cells changed inside one Batch/BatchAsync
// scope so each distinct cell notifies exactly once, in first-touched
// order, when the outermost scope ends.
type transaction struct {
	mu      sync.Mutex
	entries []notifiable
	seen    map[uint64]struct{}
	flushed bool
}

func newTransaction() *transaction {
	return &transaction{
		seen: make(map[uint64]struct{}),
	}
}

// touch records a changed cell. Re-touching a cell already in the set is
// a no-op: it notifies once per transaction, with whatever value it
// holds when its turn comes.
func (tx *transaction) touch(t notifiable) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if _, ok := tx.seen[t.ID()]; ok {
		return
	}
	tx.seen[t.ID()] = struct{}{}
	tx.entries = append(tx.entries, t)
}

// participants returns the number of distinct cells touched so far.
func (tx *transaction) participants() int {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return len(tx.entries)
}

// flush drains the pending set iteratively. Cells that change as a side
// effect of notifying other cells are appended to the same set and
// drained by the same loop, so cascades of arbitrary depth never
// recurse into flush. A panicking listener does not starve the cells
// after it: the remaining entries still notify, and the first panic
// value resurfaces once the set is drained.
func (tx *transaction) flush() {
	tx.mu.Lock()
	if tx.flushed {
		tx.mu.Unlock()
		return
	}
	tx.flushed = true
	tx.mu.Unlock()

	var panicked bool
	var cause any
	for i := 0; ; i++ {
		tx.mu.Lock()
		if i >= len(tx.entries) {
			tx.mu.Unlock()
			break
		}
		t := tx.entries[i]
		tx.mu.Unlock()

		if t.IsDisposed() {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil && !panicked {
					panicked = true
					cause = r
				}
			}()
			t.notifyNow()
		}()
	}
	if panicked {
		panic(cause)
	}
}

// openTransactions counts transactions currently open anywhere in the
// process, sync or async.
var openTransactions atomic.Int64

// IsBatching reports whether any transaction is currently open.
func IsBatching() bool {
	return openTransactions.Load() > 0
}

// Batch groups the cell updates performed by fn into one transaction:
// each distinct changed cell notifies its listeners exactly once, with
// its final value, after fn returns, in the order the cells were first
// touched.
//
// Batches nest: only the outermost call flushes. A Batch entered while
// an async transaction is ambient is absorbed into it. A panic from fn
// or from a listener still flushes whatever changed first and leaves the
// transaction state clean before propagating.
func Batch(fn func()) {
	runBatch(fn)
}

// BatchValue is Batch for bodies that return a value.
func BatchValue[T any](fn func() T) T {
	var out T
	runBatch(func() {
		out = fn()
	})
	return out
}

// BatchAsync runs fn inside an async transaction that stays ambient for
// the whole call, including across blocking waits inside fn: a write
// issued after waiting on a channel or an HTTP response is still
// captured by the same transaction rather than flushed early.
//
// The transaction is also carried in the context handed to fn, so
// goroutines spawned by fn can rejoin it via Scope. Sync Batch calls
// inside fn are absorbed. The returned error is fn's error; the flush
// happens either way.
func BatchAsync(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tc := getTrackingContext()
	if tx := tc.tx; tx != nil {
		// Already inside a transaction: absorbed.
		return fn(context.WithValue(ctx, txContextKey{}, tx))
	}

	tx := newTransaction()
	runTransaction(tc, tx, func() {
		err = fn(context.WithValue(ctx, txContextKey{}, tx))
	})
	return err
}

// runBatch opens a sync transaction, or joins the ambient one.
func runBatch(fn func()) {
	tc := getTrackingContext()
	if tc.tx != nil {
		// Nested: the ambient transaction (sync or async) absorbs this
		// scope; only the outermost owner flushes.
		fn()
		return
	}
	runTransaction(tc, newTransaction(), fn)
}

// runTransaction installs tx as the goroutine's ambient transaction,
// runs body wrapped by the registry's batch hooks, and flushes on the
// way out. The nested defers guarantee that a panic from the body, from
// a batch hook, or from a listener during flush still leaves the
// ambient slot cleared and the batching flag reset — after flushing
// whatever had changed by then.
func runTransaction(tc *trackingContext, tx *transaction, body func()) {
	tc.tx = tx
	openTransactions.Add(1)
	emitEvent(Event{Kind: EventBatchStart})

	defer func() {
		defer func() {
			tc.tx = nil
			openTransactions.Add(-1)
			emitEvent(Event{Kind: EventBatchEnd, Participants: tx.participants()})
		}()
		tx.flush()
	}()

	if p := defaultRegistry.pipeline(); p.batch != nil {
		p.batch(body)
	} else {
		body()
	}
}
