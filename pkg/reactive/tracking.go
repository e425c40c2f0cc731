package reactive

import (
	"context"
	"sync"

	"github.com/petermattis/goid"
)

// Observable is the type-erased view of a reactive value (Cell, Computed,
// or a status wrapper) seen by the dependency tracker, transactions, and
// interceptors.
type Observable interface {
	// ID returns the primitive's unique identifier.
	ID() uint64

	// Name returns the optional debug name ("" if unset).
	Name() string

	// OwnerID returns the optional owning scope's id (0 if unset).
	OwnerID() uint64

	// IsDisposed reports whether the primitive has been closed.
	IsDisposed() bool

	// AddListener registers a change listener.
	AddListener(fn func()) *Subscription
}

// dependent is the ambient "currently evaluating" slot's occupant.
// Cells call observe on it when they are read.
type dependent interface {
	observe(src Observable)
}

// notifiable is a transaction participant.
type notifiable interface {
	ID() uint64
	IsDisposed() bool
	notifyNow()
}

// trackingContext holds the reactive state for one goroutine: the
// currently evaluating computation (dependency tracking) and the ambient
// transaction (notification batching).
type trackingContext struct {
	dependent dependent
	tx        *transaction
}

// trackingContexts stores per-goroutine tracking contexts.
var trackingContexts sync.Map

// getTrackingContext returns the tracking context for the current
// goroutine, creating one if needed.
func getTrackingContext() *trackingContext {
	gid := goid.Get()
	if tc, ok := trackingContexts.Load(gid); ok {
		return tc.(*trackingContext)
	}
	tc := &trackingContext{}
	trackingContexts.Store(gid, tc)
	return tc
}

// cleanupTrackingContext removes the current goroutine's tracking
// context. Called when runtime-owned goroutines exit to avoid holding
// entries for dead goroutine ids.
func cleanupTrackingContext() {
	trackingContexts.Delete(goid.Get())
}

// currentDependent returns the computation currently tracking reads, or
// nil when reads should not create dependencies.
func currentDependent() dependent {
	return getTrackingContext().dependent
}

// setCurrentDependent installs d as the tracking slot's occupant and
// returns the previous occupant so it can be restored. Save-and-restore
// discipline applies around every evaluation, including panic paths.
func setCurrentDependent(d dependent) dependent {
	tc := getTrackingContext()
	old := tc.dependent
	tc.dependent = d
	return old
}

// currentTransaction returns the ambient transaction, or nil.
func currentTransaction() *transaction {
	return getTrackingContext().tx
}

// Untracked runs fn with dependency tracking suspended: reads inside fn
// do not subscribe the current computation.
//
// For a single read, Peek is more efficient and clearer in intent.
func Untracked(fn func()) {
	old := setCurrentDependent(nil)
	defer setCurrentDependent(old)
	fn()
}

// txContextKey carries the ambient transaction inside a context.Context
// so goroutines spawned from a BatchAsync body can rejoin it via Scope.
type txContextKey struct{}

// Scope runs fn with the transaction carried by ctx (if any) installed
// as the current goroutine's ambient transaction. Use it when a
// BatchAsync body spawns goroutines that write cells:
//
//	reactive.BatchAsync(ctx, func(ctx context.Context) error {
//	    go reactive.Scope(ctx, func() {
//	        progress.Set(1)
//	    })
//	    ...
//	})
//
// Dependency tracking is suspended inside fn.
func Scope(ctx context.Context, fn func()) {
	tx, _ := ctx.Value(txContextKey{}).(*transaction)

	tc := getTrackingContext()
	prevTx := tc.tx
	prevDep := tc.dependent
	tc.tx = tx
	tc.dependent = nil
	defer func() {
		tc.tx = prevTx
		tc.dependent = prevDep
	}()
	fn()
}
