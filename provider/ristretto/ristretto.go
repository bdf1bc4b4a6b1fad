package ristretto

import (
	"context"
	"errors"
	"strings"
	"sync"

	rc "github.com/dgraph-io/ristretto"
	"github.com/google/uuid"

	pr "github.com/unkn0wn-root/swrcache/provider"
)

// Provider keeps documents in Ristretto with cost = len(key)+len(value), so
// MaxCost is the byte quota. Ristretto cannot enumerate keys, so a key index
// is kept beside it and pruned from the eviction callbacks.
type Provider struct {
	c      *rc.Cache
	origin string
	feed   pr.Feed

	mu    sync.Mutex
	seq   uint64
	index map[string]uint64 // key -> seq of the live write
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64 // bytes
	BufferItems int64
	Metrics     bool
}

// item is what is stored in ristretto so callbacks can recover the key.
type item struct {
	key string
	seq uint64
	val []byte
}

func New(cfg Config) (*Provider, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	p := &Provider{origin: uuid.NewString(), index: make(map[string]uint64)}
	drop := func(it *rc.Item) {
		if v, ok := it.Value.(item); ok {
			p.forgetSeq(v.key, v.seq)
		}
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
		OnEvict:     drop,
		OnReject:    drop,
	})
	if err != nil {
		return nil, err
	}
	p.c = c
	return p, nil
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := p.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	it, ok := v.(item)
	if !ok {
		// self-heal: drop unexpected entry shape
		p.c.Del(key)
		p.forget(key)
		return nil, false, nil
	}
	return it.val, true, nil
}

// Set waits for the write buffer to drain so the value is readable on
// return; a write ristretto dropped or refused is a quota error.
func (p *Provider) Set(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	cost := int64(len(key) + len(v))

	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.index[key] = seq
	p.mu.Unlock()

	if !p.c.SetWithTTL(key, item{key: key, seq: seq, val: v}, cost, 0) {
		p.forgetSeq(key, seq)
		return pr.ErrQuotaExceeded
	}
	p.c.Wait()
	if _, ok := p.c.Get(key); !ok {
		p.forgetSeq(key, seq)
		return pr.ErrQuotaExceeded
	}
	p.feed.Publish(p.origin, key)
	return nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.c.Del(key)
	p.c.Wait()
	if p.forget(key) {
		p.feed.Publish(p.origin, key)
	}
	return nil
}

func (p *Provider) Keys(_ context.Context, prefix string) ([]string, error) {
	p.mu.Lock()
	candidates := make([]string, 0, len(p.index))
	for k := range p.index {
		if strings.HasPrefix(k, prefix) {
			candidates = append(candidates, k)
		}
	}
	p.mu.Unlock()

	out := candidates[:0]
	for _, k := range candidates {
		if _, ok := p.c.Get(k); ok {
			out = append(out, k)
		} else {
			p.forget(k)
		}
	}
	return out, nil
}

func (p *Provider) Watch(_ context.Context, fn func(key string)) (func(), error) {
	return p.feed.Subscribe(p.origin, fn), nil
}

func (p *Provider) Close(_ context.Context) error {
	p.c.Wait()
	p.c.Close()
	return nil
}

// forgetSeq drops key only if seq is still its live write, so callbacks for
// replaced values do not unindex the replacement.
func (p *Provider) forgetSeq(key string, seq uint64) {
	p.mu.Lock()
	if p.index[key] == seq {
		delete(p.index, key)
	}
	p.mu.Unlock()
}

func (p *Provider) forget(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.index[key]; !ok {
		return false
	}
	delete(p.index, key)
	return true
}

// Metrics exposes ristretto metrics if enabled (not part of provider.Provider).
func (p *Provider) Metrics() *rc.Metrics { return p.c.Metrics }
