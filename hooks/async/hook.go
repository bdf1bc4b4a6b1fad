// Package asynchook moves Hooks calls off the cache's hot path onto a small
// worker pool. Events are dropped when the queue is full.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    HitMissEvery: 100, // sample ~1% of hit/miss lines
//	})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	eng, _ := swrcache.New(swrcache.Options{
//	    Provider: provider,
//	    Hooks:    hooks, // or raw if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/swrcache"
)

type Hooks struct {
	inner   swrcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards closed against sends on a closed queue
	closed  bool
	dropped atomic.Uint64
}

var _ swrcache.Hooks = (*Hooks)(nil)

func New(inner swrcache.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = swrcache.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events after Close are
// dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped is the number of events discarded because the queue was full or
// closed.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default: // drop
		h.dropped.Add(1)
	}
}

func (h *Hooks) Hit(k string)                { h.try(func() { h.inner.Hit(k) }) }
func (h *Hooks) Miss(k string)               { h.try(func() { h.inner.Miss(k) }) }
func (h *Hooks) ExternalChange(k string)     { h.try(func() { h.inner.ExternalChange(k) }) }
func (h *Hooks) StaleWriteSkipped(k string)  { h.try(func() { h.inner.StaleWriteSkipped(k) }) }
func (h *Hooks) Refresh(k string, err error) { h.try(func() { h.inner.Refresh(k, err) }) }
func (h *Hooks) Invalidated(p string, n int) { h.try(func() { h.inner.Invalidated(p, n) }) }
func (h *Hooks) Evicted(tier, k, reason string) {
	h.try(func() { h.inner.Evicted(tier, k, reason) })
}
func (h *Hooks) PersistFailed(op, k string, err error) {
	h.try(func() { h.inner.PersistFailed(op, k, err) })
}
