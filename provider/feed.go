package provider

import "sync"

// Feed fans key-change notifications out to watchers of in-process stores.
// A publisher never hears its own changes. Delivery is synchronous and
// happens outside the feed lock, so callbacks may call back into the store.
type Feed struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]feedSub
}

type feedSub struct {
	origin string
	fn     func(key string)
}

// Subscribe registers fn for changes not made by origin.
func (f *Feed) Subscribe(origin string, fn func(key string)) (stop func()) {
	f.mu.Lock()
	if f.subs == nil {
		f.subs = make(map[uint64]feedSub)
	}
	id := f.next
	f.next++
	f.subs[id] = feedSub{origin: origin, fn: fn}
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

// Publish reports a change to key made by origin.
func (f *Feed) Publish(origin, key string) {
	f.mu.RLock()
	targets := make([]func(string), 0, len(f.subs))
	for _, s := range f.subs {
		if s.origin != origin {
			targets = append(targets, s.fn)
		}
	}
	f.mu.RUnlock()
	for _, fn := range targets {
		fn(key)
	}
}
