package reactive

// config holds construction-time settings shared by all reactive
// primitives.
type config struct {
	name     string
	ownerID  uint64
	registry *Registry
}

func newConfig(opts []Option) config {
	cfg := config{registry: defaultRegistry}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Option configures a reactive primitive at construction.
type Option func(*config)

// WithName sets a human-readable debug name, carried on change records
// and instrumentation events.
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithOwnerID tags the primitive with the id of the scope that owns it.
// The core does not interpret the id; it is carried on instrumentation
// events for external containers.
func WithOwnerID(ownerID uint64) Option {
	return func(c *config) {
		c.ownerID = ownerID
	}
}

// WithRegistry routes the primitive's mutations and lifecycle hooks
// through r instead of the process-wide default registry.
func WithRegistry(r *Registry) Option {
	return func(c *config) {
		if r != nil {
			c.registry = r
		}
	}
}
