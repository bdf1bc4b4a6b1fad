package asynchook

import (
	"sync"
	"testing"

	"github.com/unkn0wn-root/swrcache"
)

type countHooks struct {
	swrcache.NopHooks
	mu    sync.Mutex
	hits  int
	evict []string
	block chan struct{}
}

func (c *countHooks) Hit(string) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *countHooks) Evicted(tier, key, reason string) {
	c.mu.Lock()
	c.evict = append(c.evict, tier+"/"+key+"/"+reason)
	c.mu.Unlock()
}

func TestDeliversAndDrainsOnClose(t *testing.T) {
	inner := &countHooks{}
	h := New(inner, 2, 16)
	for i := 0; i < 10; i++ {
		h.Hit("k")
	}
	h.Evicted(swrcache.TierMemory, "a", "capacity")
	h.Close()

	if inner.hits != 10 {
		t.Fatalf("hits=%d", inner.hits)
	}
	if len(inner.evict) != 1 || inner.evict[0] != "memory/a/capacity" {
		t.Fatalf("evict=%v", inner.evict)
	}
	h.Hit("after-close")
	if h.Dropped() != 1 {
		t.Fatalf("dropped=%d", h.Dropped())
	}
}

func TestDropsWhenFull(t *testing.T) {
	inner := &countHooks{block: make(chan struct{})}
	h := New(inner, 1, 1)
	for i := 0; i < 10; i++ {
		h.Hit("k")
	}
	close(inner.block)
	h.Close()
	// one in the worker, one queued; the rest dropped
	if inner.hits+int(h.Dropped()) != 10 || h.Dropped() == 0 {
		t.Fatalf("hits=%d dropped=%d", inner.hits, h.Dropped())
	}
}
