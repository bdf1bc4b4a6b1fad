package bigcache

import (
	"context"
	"errors"
	"strings"
	"time"

	bc "github.com/allegro/bigcache/v3"
	"github.com/google/uuid"

	pr "github.com/unkn0wn-root/swrcache/provider"
)

// Provider keeps documents in a BigCache instance. BigCache bounds memory by
// HardMaxCacheSizeMB and can be iterated, which is all the persistent tier
// needs within a single process. Handles created with Open share the cache
// and see each other's changes.
type Provider struct {
	shared *shared
	origin string
}

type shared struct {
	c    *bc.BigCache
	feed pr.Feed
}

var _ pr.Provider = (*Provider)(nil)

type Config struct {
	Shards             int // power of two; 0 => 64
	MaxEntrySize       int // bytes hint for initial allocation
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

// lifeWindow is effectively "never": document expiry is owned by the bridge.
const lifeWindow = 10 * 365 * 24 * time.Hour

func New(cfg Config) (*Provider, error) {
	conf := bc.DefaultConfig(lifeWindow)
	conf.CleanWindow = 0
	conf.Verbose = false
	if cfg.Shards > 0 {
		conf.Shards = cfg.Shards
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	return &Provider{shared: &shared{c: c}, origin: uuid.NewString()}, nil
}

// Open returns another handle onto the same cache.
func (p *Provider) Open() *Provider {
	return &Provider{shared: p.shared, origin: uuid.NewString()}
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := p.shared.c.Get(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte) error {
	if err := p.shared.c.Set(key, value); err != nil {
		// bigcache reports oversize entries as plain errors
		if strings.Contains(err.Error(), "bigger than") {
			return errors.Join(pr.ErrQuotaExceeded, err)
		}
		return err
	}
	p.shared.feed.Publish(p.origin, key)
	return nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	err := p.shared.c.Delete(key)
	if errors.Is(err, bc.ErrEntryNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	p.shared.feed.Publish(p.origin, key)
	return nil
}

func (p *Provider) Keys(_ context.Context, prefix string) ([]string, error) {
	var out []string
	it := p.shared.c.Iterator()
	for it.SetNext() {
		info, err := it.Value()
		if err != nil {
			// entry vanished while iterating
			continue
		}
		if k := info.Key(); strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (p *Provider) Watch(_ context.Context, fn func(key string)) (func(), error) {
	return p.shared.feed.Subscribe(p.origin, fn), nil
}

func (p *Provider) Close(_ context.Context) error {
	return p.shared.c.Close()
}

// Stats exposes BigCache counters (not part of provider.Provider).
func (p *Provider) Stats() bc.Stats { return p.shared.c.Stats() }
