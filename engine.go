package swrcache

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/swrcache/genstore"
	"github.com/unkn0wn-root/swrcache/internal/clock"
	pr "github.com/unkn0wn-root/swrcache/provider"
	"github.com/unkn0wn-root/swrcache/request"
	"github.com/unkn0wn-root/swrcache/store"
)

// Clock is the engine's time source.
type Clock = clock.Clock

// Options tune the Engine. The zero value is a memory-only cache with
// defaults.
type Options struct {
	Provider        pr.Provider       // nil => memory only
	Prefix          string            // persisted key prefix; "" => "swr:"
	MaxEntries      int               // memory tier; 0 => 500, < 0 => unlimited
	MaxStorageBytes int64             // persistent tier; 0 => 5 MiB, < 0 => unlimited
	DefaultTTL      time.Duration     // used when Set gets ttl 0; 0 => 5m
	CleanupInterval time.Duration     // sweeper period; 0 => 1m, < 0 => no sweeper
	GenStore        genstore.GenStore // nil => in-process generations
	GenRetention    time.Duration     // 0 => 24h
	Score           store.ScoreFunc   // nil => store.ProductScore
	Clock           Clock             // nil => wall clock
	Logger          Logger            // nil => NopLogger
	Hooks           Hooks             // nil => NopHooks
	Disabled        bool              // every read misses, writes are dropped
}

// Engine is the public cache. Safe for concurrent use.
type Engine struct {
	mem    *store.Store
	bridge *Bridge // nil when memory only
	p      pr.Provider
	gen    genstore.GenStore
	clock  Clock
	log    Logger
	hooks  Hooks

	enabled       bool
	defaultTTL    time.Duration
	sweepInterval time.Duration
	genRetention  time.Duration

	// wmu orders generation checks with the writes they guard, so an
	// invalidation cannot slip between SetWithGen's check and its write.
	wmu sync.Mutex

	producers request.Group

	fmu     sync.Mutex
	flights map[string]int

	tmu     sync.Mutex
	touched map[string]struct{}

	hits   atomic.Int64
	misses atomic.Int64

	lmu     sync.Mutex
	started bool
	closed  bool
	stopCh  chan struct{}
	changes chan string
	unwatch func()
	wg      sync.WaitGroup
}

func New(opts Options) (*Engine, error) {
	clk := coalesce[Clock](opts.Clock, clock.Real{})
	e := &Engine{
		p:       opts.Provider,
		clock:   clk,
		enabled: !opts.Disabled,
		flights: make(map[string]int),
		touched: make(map[string]struct{}),
		stopCh:  make(chan struct{}),
		changes: make(chan string, changeQueueSize),
	}

	// defaults
	e.log = coalesce[Logger](opts.Logger, NopLogger{})
	e.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	e.defaultTTL = coalesce[time.Duration](opts.DefaultTTL, DefaultTTL)
	e.sweepInterval = coalesce[time.Duration](opts.CleanupInterval, DefaultCleanupInterval)
	e.genRetention = coalesce[time.Duration](opts.GenRetention, defaultGenRetention)

	e.mem = store.New(store.Config{
		Limit: store.Limit{Kind: store.Count, Max: limitOrDefault(int64(opts.MaxEntries), DefaultMaxEntries)},
		Score: opts.Score,
		Clock: clk,
	})

	if opts.GenStore != nil {
		e.gen = opts.GenStore
	} else {
		e.gen = genstore.NewLocalGenStore(clk.Now)
	}

	if opts.Provider != nil {
		prefix := coalesce(opts.Prefix, DefaultPrefix)
		maxBytes := limitOrDefault(opts.MaxStorageBytes, DefaultMaxStorageBytes)
		e.bridge = newBridge(opts.Provider, prefix, maxBytes, e.mem, clk, e.log, e.hooks)
	}
	return e, nil
}

func (e *Engine) Enabled() bool { return e.enabled }

// Bridge returns the persistence bridge, or nil for a memory-only engine.
func (e *Engine) Bridge() *Bridge { return e.bridge }

func (e *Engine) Hooks() Hooks   { return e.hooks }
func (e *Engine) Logger() Logger { return e.log }
func (e *Engine) Clock() Clock   { return e.clock }

// DefaultTTL is the TTL applied when Set is given 0.
func (e *Engine) DefaultTTL() time.Duration { return e.defaultTTL }

// Get returns the live value for key and records the access.
func (e *Engine) Get(ctx context.Context, key string) ([]byte, bool) {
	ent, ok := e.Lookup(ctx, key)
	if !ok {
		return nil, false
	}
	return ent.Value, true
}

// GetOr is Get with a fallback.
func (e *Engine) GetOr(ctx context.Context, key string, def []byte) []byte {
	if v, ok := e.Get(ctx, key); ok {
		return v
	}
	return def
}

// Lookup is Get returning the entry with its metadata.
func (e *Engine) Lookup(_ context.Context, key string) (store.Entry, bool) {
	if !e.enabled {
		return store.Entry{}, false
	}
	ent, ok := e.mem.Get(key)
	if !ok {
		e.misses.Add(1)
		e.hooks.Miss(key)
		return store.Entry{}, false
	}
	e.hits.Add(1)
	e.hooks.Hit(key)
	if e.bridge != nil {
		e.tmu.Lock()
		e.touched[key] = struct{}{}
		e.tmu.Unlock()
	}
	return ent, true
}

// Peek returns the live entry without recording an access or counting a
// hit/miss.
func (e *Engine) Peek(_ context.Context, key string) (store.Entry, bool) {
	if !e.enabled {
		return store.Entry{}, false
	}
	return e.mem.Peek(key)
}

// Set stores value under key. ttl 0 uses DefaultTTL; ttl < 0 never expires.
// The write goes to memory first (evicting by score if over capacity, never
// the new key) and is then flushed to the provider. Reports false only when
// the engine is disabled.
func (e *Engine) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if !e.enabled {
		return false
	}
	e.wmu.Lock()
	defer e.wmu.Unlock()
	e.setLocked(ctx, key, value, ttl)
	return true
}

func (e *Engine) setLocked(ctx context.Context, key string, value []byte, ttl time.Duration) {
	switch {
	case ttl == 0:
		ttl = e.defaultTTL
	case ttl < 0:
		ttl = 0
	}
	ent := e.mem.Set(key, value, ttl)
	for _, ev := range e.mem.Evict(key) {
		e.hooks.Evicted(TierMemory, ev.Key, evictReason(ev, e.mem))
		e.log.Debug("evicted", Fields{"key": ev.Key, "tier": TierMemory})
	}
	if e.bridge != nil {
		e.bridge.Flush(ctx, ent)
	}
}

// SnapshotGen returns key's current generation (0 on error; SetWithGen
// then re-checks and reports the error).
func (e *Engine) SnapshotGen(key string) uint64 {
	g, err := e.gen.Snapshot(context.Background(), key)
	if err != nil {
		e.log.Warn("gen snapshot error", Fields{"key": key, "err": err})
		return 0
	}
	return g
}

// SetWithGen writes only if key's generation is still observed. A skipped
// write reports (false, nil).
func (e *Engine) SetWithGen(ctx context.Context, key string, value []byte, observed uint64, ttl time.Duration) (bool, error) {
	if !e.enabled {
		return false, nil
	}
	e.wmu.Lock()
	defer e.wmu.Unlock()
	cur, err := e.gen.Snapshot(ctx, key)
	if err != nil {
		return false, err
	}
	if cur != observed {
		// generation moved; skip stale write
		e.log.Debug("SetWithGen skipped (gen mismatch)", Fields{"key": key, "obs": observed, "cur": cur})
		e.hooks.StaleWriteSkipped(key)
		return false, nil
	}
	e.setLocked(ctx, key, value, ttl)
	return true, nil
}

// BeginFlight registers an outstanding producer for key and returns the
// generation to pass to SetWithGen. Pattern invalidations bump keys with a
// flight even when neither tier holds them. Pair with EndFlight.
func (e *Engine) BeginFlight(key string) uint64 {
	e.fmu.Lock()
	e.flights[key]++
	e.fmu.Unlock()
	return e.SnapshotGen(key)
}

func (e *Engine) EndFlight(key string) {
	e.fmu.Lock()
	defer e.fmu.Unlock()
	if n := e.flights[key]; n > 1 {
		e.flights[key] = n - 1
	} else {
		delete(e.flights, key)
	}
}

func (e *Engine) flightKeys() []string {
	e.fmu.Lock()
	defer e.fmu.Unlock()
	out := make([]string, 0, len(e.flights))
	for k := range e.flights {
		out = append(out, k)
	}
	return out
}

// GetOrSet returns the cached value or runs producer once among concurrent
// callers and caches its non-nil result (unless key was invalidated while
// it ran). A producer error is returned and nothing is cached.
func (e *Engine) GetOrSet(ctx context.Context, key string, producer func(context.Context) ([]byte, error), ttl time.Duration) ([]byte, error) {
	if producer == nil {
		return nil, ErrNilProducer
	}
	if !e.enabled {
		return producer(ctx)
	}
	if v, ok := e.Get(ctx, key); ok {
		return v, nil
	}
	v, _, err := request.Dedupe(ctx, &e.producers, key, func(ctx context.Context) ([]byte, error) {
		gen := e.BeginFlight(key)
		defer e.EndFlight(key)
		v, err := producer(ctx)
		if err != nil {
			return nil, err
		}
		if v != nil {
			if _, err := e.SetWithGen(ctx, key, v, gen, ttl); err != nil {
				e.log.Warn("GetOrSet: result not cached", Fields{"key": key, "err": err})
			}
		}
		return v, nil
	})
	return v, err
}

// Delete removes key from both tiers without touching its generation.
// Reports whether memory held it.
func (e *Engine) Delete(ctx context.Context, key string) bool {
	if !e.enabled {
		return false
	}
	e.wmu.Lock()
	defer e.wmu.Unlock()
	ok := e.mem.Delete(key)
	if e.bridge != nil {
		e.bridge.Remove(ctx, key)
	}
	return ok
}

// Invalidate bumps key's generation and removes it from both tiers, so a
// refresh already in flight for key will not write back.
func (e *Engine) Invalidate(ctx context.Context, key string) error {
	if !e.enabled {
		return nil
	}
	e.wmu.Lock()
	defer e.wmu.Unlock()
	_, bumpErr := e.gen.Bump(ctx, key)
	e.mem.Delete(key)
	if e.bridge != nil {
		e.bridge.Remove(ctx, key)
	}
	if bumpErr != nil {
		e.log.Error("gen bump error", Fields{"key": key, "err": bumpErr})
		return &InvalidateError{Target: key, Keys: 1, Err: bumpErr}
	}
	e.log.Debug("invalidated key (bumped gen + deleted)", Fields{"key": key})
	return nil
}

// InvalidatePattern removes every key matching re from both tiers and bumps
// the generations of those keys and of matching keys with a producer in
// flight. Returns the number of distinct entries removed.
func (e *Engine) InvalidatePattern(ctx context.Context, re *regexp.Regexp) (int, error) {
	if re == nil {
		return 0, nil
	}
	return e.invalidateFunc(ctx, re.String(), re.MatchString)
}

// InvalidatePrefix is InvalidatePattern for keys starting with prefix.
func (e *Engine) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	return e.invalidateFunc(ctx, "^"+regexp.QuoteMeta(prefix), func(k string) bool {
		return strings.HasPrefix(k, prefix)
	})
}

// Clear removes everything from both tiers and bumps every known key.
func (e *Engine) Clear(ctx context.Context) (int, error) {
	return e.invalidateFunc(ctx, "*", func(string) bool { return true })
}

func (e *Engine) invalidateFunc(ctx context.Context, label string, match func(string) bool) (int, error) {
	if !e.enabled {
		return 0, nil
	}
	e.wmu.Lock()
	defer e.wmu.Unlock()

	removed := make(map[string]struct{})
	for _, k := range e.mem.DeleteFunc(match) {
		removed[k] = struct{}{}
	}
	if e.bridge != nil {
		for _, k := range e.bridge.RemoveFunc(ctx, match) {
			removed[k] = struct{}{}
		}
	}
	bump := make(map[string]struct{}, len(removed))
	for k := range removed {
		bump[k] = struct{}{}
	}
	for _, k := range e.flightKeys() {
		if match(k) {
			bump[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(bump))
	for k := range bump {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var err error
	if len(keys) > 0 {
		if _, bumpErr := e.gen.BumpMany(ctx, keys); bumpErr != nil {
			e.log.Error("gen bump error", Fields{"pattern": label, "keys": len(keys), "err": bumpErr})
			err = &InvalidateError{Target: label, Keys: len(keys), Err: bumpErr}
		}
	}
	e.hooks.Invalidated(label, len(removed))
	e.log.Debug("invalidated pattern", Fields{"pattern": label, "removed": len(removed), "bumped": len(keys)})
	return len(removed), err
}

// Start loads persisted entries, subscribes to external changes and starts
// the sweeper. Calling Start again, or after Close, is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.lmu.Lock()
	defer e.lmu.Unlock()
	if e.started || e.closed || !e.enabled {
		return nil
	}
	e.started = true

	if e.bridge != nil {
		e.bridge.LoadAll(ctx)
		stop, err := e.p.Watch(ctx, e.enqueueChange)
		if err != nil {
			e.log.Warn("external change feed unavailable; running without cross-process reloads", Fields{"err": err})
		} else {
			e.unwatch = stop
			e.wg.Add(1)
			go e.changeLoop()
		}
	}
	if e.sweepInterval > 0 {
		e.wg.Add(1)
		go e.sweepLoop()
	}
	return nil
}

// enqueueChange runs on the provider's delivery goroutine; it must not
// block or take engine locks.
func (e *Engine) enqueueChange(key string) {
	if !strings.HasPrefix(key, e.bridge.prefix) {
		return
	}
	select {
	case e.changes <- strings.TrimPrefix(key, e.bridge.prefix):
	default:
		e.log.Warn("external change dropped (queue full)", Fields{"key": key})
	}
}

func (e *Engine) changeLoop() {
	defer e.wg.Done()
	for {
		select {
		case key := <-e.changes:
			e.bridge.OnExternalChange(context.Background(), key)
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) sweepLoop() {
	defer e.wg.Done()
	t := time.NewTicker(e.sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			e.Sweep(context.Background())
		case <-e.stopCh:
			return
		}
	}
}

// Sweep removes expired entries from both tiers, persists access stats of
// entries read since the last sweep and prunes old generations.
func (e *Engine) Sweep(ctx context.Context) {
	if !e.enabled {
		return
	}
	for _, k := range e.mem.RemoveExpired() {
		e.hooks.Evicted(TierMemory, k, "expired")
	}
	if e.bridge != nil {
		e.bridge.RemoveExpired(ctx)
		e.flushTouched(ctx)
	}
	e.gen.Cleanup(e.genRetention)
}

func (e *Engine) flushTouched(ctx context.Context) {
	e.tmu.Lock()
	keys := make([]string, 0, len(e.touched))
	for k := range e.touched {
		keys = append(keys, k)
	}
	e.touched = make(map[string]struct{})
	e.tmu.Unlock()
	if len(keys) == 0 {
		return
	}
	sort.Strings(keys)

	e.wmu.Lock()
	defer e.wmu.Unlock()
	entries := make([]store.Entry, 0, len(keys))
	for _, k := range keys {
		if ent, ok := e.mem.Peek(k); ok {
			entries = append(entries, ent)
		}
	}
	e.bridge.Flush(ctx, entries...)
}

// Close stops background work, persists pending access stats and closes
// the generation store and provider. Safe to call multiple times.
func (e *Engine) Close(ctx context.Context) error {
	e.lmu.Lock()
	if e.closed {
		e.lmu.Unlock()
		return nil
	}
	e.closed = true
	close(e.stopCh)
	unwatch := e.unwatch
	e.lmu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	e.wg.Wait()

	if e.bridge != nil && e.enabled {
		e.flushTouched(ctx)
	}
	// Close gen store first (best effort)
	_ = e.gen.Close(ctx)
	if e.p != nil {
		return e.p.Close(ctx)
	}
	return nil
}
