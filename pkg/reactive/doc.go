// Package reactive provides a fine-grained reactive-state runtime:
// observable value cells, derived computations with automatic dependency
// tracking, transactional batching of notifications, and a composable
// interceptor pipeline for cross-cutting concerns such as undo/redo and
// external instrumentation.
//
// # Core Types
//
// Cell[T] is a reactive value container:
//
//	count := reactive.NewCell(0)
//	value := count.Get()  // Read (subscribes the current computation)
//	count.Set(5)          // Write (notifies listeners, unless equal)
//	count.Update(func(n int) int { return n + 1 })
//
// Computed[T] is a lazily derived value:
//
//	doubled := reactive.NewComputed(func() int { return count.Get() * 2 })
//
// While a Computed has no listeners it recomputes on demand; the moment it
// gains its first listener it subscribes to every cell it reads, and it
// releases those subscriptions when the last listener departs.
//
// # Batching
//
// Multiple cell updates can be grouped so each distinct cell notifies its
// listeners exactly once, in the order the cells were first touched:
//
//	reactive.Batch(func() {
//	    first.Set("John")
//	    last.Set("Doe")
//	})
//
// BatchAsync keeps the transaction ambient across blocking calls in its
// body; writes issued after waiting on a channel or an HTTP response are
// still captured by the same transaction.
//
// # Interceptors
//
// A Registry holds an ordered chain of Interceptors that may wrap every
// cell mutation (and veto it by not calling through), wrap batch bodies,
// and observe cell init/dispose. The history package builds undo/redo
// purely on this contract.
//
// # Concurrency
//
// The tracking context is per-goroutine. A computation stays on its
// goroutine across blocking calls, so the ambient transaction and the
// dependency tracker survive suspension. Spawned goroutines join an
// ambient transaction explicitly via Scope.
package reactive
