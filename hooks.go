package swrcache

// Tier names reported to Hooks.Evicted.
const (
	TierMemory     = "memory"
	TierPersistent = "persistent"
)

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// Memory tier lookups.
	Hit(key string)
	Miss(key string)

	// An entry left a tier without being deleted by the caller.
	// tier ∈ {TierMemory, TierPersistent}; reason ∈ {"capacity", "expired", "quota"}
	Evicted(tier, key, reason string)

	// A durable store operation failed and was swallowed.
	// op ∈ {"load", "flush", "remove", "reload", "encode"}
	PersistFailed(op, key string, err error)

	// Another process changed key in the durable store.
	ExternalChange(key string)

	// InvalidatePattern/InvalidatePrefix/Clear removed n entries.
	Invalidated(pattern string, n int)

	// SetWithGen dropped a write because key was invalidated after the
	// generation was observed.
	StaleWriteSkipped(key string)

	// A background SWR refresh settled; err is nil on success.
	Refresh(key string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Hit(string)                          {}
func (NopHooks) Miss(string)                         {}
func (NopHooks) Evicted(string, string, string)      {}
func (NopHooks) PersistFailed(string, string, error) {}
func (NopHooks) ExternalChange(string)               {}
func (NopHooks) Invalidated(string, int)             {}
func (NopHooks) StaleWriteSkipped(string)            {}
func (NopHooks) Refresh(string, error)               {}

// MultiHooks fans every event out to each of its members in order.
type MultiHooks []Hooks

var _ Hooks = MultiHooks(nil)

func (m MultiHooks) Hit(k string) {
	for _, h := range m {
		h.Hit(k)
	}
}

func (m MultiHooks) Miss(k string) {
	for _, h := range m {
		h.Miss(k)
	}
}

func (m MultiHooks) Evicted(tier, k, reason string) {
	for _, h := range m {
		h.Evicted(tier, k, reason)
	}
}

func (m MultiHooks) PersistFailed(op, k string, err error) {
	for _, h := range m {
		h.PersistFailed(op, k, err)
	}
}

func (m MultiHooks) ExternalChange(k string) {
	for _, h := range m {
		h.ExternalChange(k)
	}
}

func (m MultiHooks) Invalidated(pattern string, n int) {
	for _, h := range m {
		h.Invalidated(pattern, n)
	}
}

func (m MultiHooks) StaleWriteSkipped(k string) {
	for _, h := range m {
		h.StaleWriteSkipped(k)
	}
}

func (m MultiHooks) Refresh(k string, err error) {
	for _, h := range m {
		h.Refresh(k, err)
	}
}
