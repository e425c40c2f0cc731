package reactive

import (
	"sync"
	"sync/atomic"
)

// MutationFunc wraps "apply this change to this cell". Calling next
// commits the change (and runs the remaining inner interceptors);
// returning without calling next vetoes it.
type MutationFunc func(cell Observable, ch *Change, next func())

// BatchFunc wraps the whole body passed to Batch/BatchAsync. It may
// panic to reject the transaction; the panic propagates out of the
// batch call after transaction cleanup.
type BatchFunc func(next func())

// Interceptor is one entry in the registry's chain. Hooks left nil are
// transparent identity wrappers.
type Interceptor struct {
	// Name identifies the interceptor in instrumentation output.
	Name string

	// Mutation wraps every cell mutation.
	Mutation MutationFunc

	// Batch wraps every outermost Batch/BatchAsync body.
	Batch BatchFunc

	// Init fires once per cell/computed at construction.
	Init func(cell Observable)

	// Dispose fires once per cell/computed at disposal.
	Dispose func(cell Observable)
}

// pipeline is the composed view of a registry, rebuilt on every registry
// change and read lock-free on the mutation hot path.
type pipeline struct {
	mutation MutationFunc
	batch    BatchFunc
	inits    []func(Observable)
	disposes []func(Observable)
}

var emptyPipeline = &pipeline{}

// registryEntry pairs an interceptor with its optional slot token.
type registryEntry struct {
	token string
	ic    *Interceptor
}

// Registry is an ordered, process-owned set of interceptors. Cells read
// a live snapshot of its composed pipeline on each mutation, so
// registering or removing an interceptor takes effect for all future
// mutations without re-creating cells.
//
// Composition order: the most recently added interceptor wraps
// outermost, so its pre-logic runs first and its post-logic runs last.
// All previously added interceptors nest inside it, and the innermost
// "actually apply the change" operation sits at the center.
type Registry struct {
	mu      sync.Mutex
	entries []registryEntry
	pipe    atomic.Pointer[pipeline]
}

// NewRegistry creates an empty interceptor registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.pipe.Store(emptyPipeline)
	return r
}

// defaultRegistry is the process-wide registry used by cells unless one
// is supplied via WithRegistry, and by Batch/BatchAsync for batch hooks.
var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry { return defaultRegistry }

// registerConfig holds options for Register.
type registerConfig struct {
	token string
}

// RegisterOption configures a Register call.
type RegisterOption func(*registerConfig)

// WithToken assigns a slot token: re-registering under the same token
// atomically replaces the previous interceptor without disturbing the
// relative order of the other entries.
func WithToken(token string) RegisterOption {
	return func(c *registerConfig) {
		c.token = token
	}
}

// Register appends ic to the chain. Registration is idempotent by
// interceptor identity; see WithToken for replace-in-place semantics.
func (r *Registry) Register(ic *Interceptor, opts ...RegisterOption) {
	if ic == nil {
		return
	}
	var cfg registerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg.token != "" {
		for i, e := range r.entries {
			if e.token == cfg.token {
				r.entries[i].ic = ic
				r.rebuildLocked()
				return
			}
		}
	}
	for _, e := range r.entries {
		if e.ic == ic {
			return
		}
	}
	r.entries = append(r.entries, registryEntry{token: cfg.token, ic: ic})
	r.rebuildLocked()
}

// Unregister removes ic from the chain. Unknown interceptors are
// ignored.
func (r *Registry) Unregister(ic *Interceptor) {
	if ic == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.ic == ic {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			r.rebuildLocked()
			return
		}
	}
}

// UnregisterToken removes the interceptor registered under token.
func (r *Registry) UnregisterToken(token string) {
	if token == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.token == token {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			r.rebuildLocked()
			return
		}
	}
}

// Len returns the number of registered interceptors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// HasMutation reports whether any registered interceptor supplies a
// mutation hook. Cells use this to skip the pipeline entirely.
func (r *Registry) HasMutation() bool {
	return r.pipe.Load().mutation != nil
}

// HasBatch reports whether any registered interceptor supplies a batch
// hook.
func (r *Registry) HasBatch() bool {
	return r.pipe.Load().batch != nil
}

// pipeline returns the current composed snapshot.
func (r *Registry) pipeline() *pipeline {
	return r.pipe.Load()
}

// rebuildLocked recomposes the cached pipeline. Entries are folded in
// registration order, each hook wrapping everything composed so far, so
// the last-added hook ends up outermost.
func (r *Registry) rebuildLocked() {
	p := &pipeline{}
	for _, e := range r.entries {
		ic := e.ic
		if hook := ic.Mutation; hook != nil {
			if inner := p.mutation; inner == nil {
				p.mutation = hook
			} else {
				p.mutation = func(cell Observable, ch *Change, next func()) {
					hook(cell, ch, func() { inner(cell, ch, next) })
				}
			}
		}
		if hook := ic.Batch; hook != nil {
			if inner := p.batch; inner == nil {
				p.batch = hook
			} else {
				p.batch = func(next func()) {
					hook(func() { inner(next) })
				}
			}
		}
		if ic.Init != nil {
			p.inits = append(p.inits, ic.Init)
		}
		if ic.Dispose != nil {
			p.disposes = append(p.disposes, ic.Dispose)
		}
	}
	r.pipe.Store(p)
}

// runInit fires every init hook for a newly constructed primitive.
func (r *Registry) runInit(cell Observable) {
	for _, fn := range r.pipeline().inits {
		fn(cell)
	}
}

// runDispose fires every dispose hook for a closed primitive.
func (r *Registry) runDispose(cell Observable) {
	for _, fn := range r.pipeline().disposes {
		fn(cell)
	}
}
