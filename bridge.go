package swrcache

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/unkn0wn-root/swrcache/internal/clock"
	"github.com/unkn0wn-root/swrcache/internal/wire"
	pr "github.com/unkn0wn-root/swrcache/provider"
	"github.com/unkn0wn-root/swrcache/store"
)

// Bridge mirrors the memory tier into a Provider. It keeps an index of what
// it believes is persisted (entry metadata, same ranking as memory) so the
// byte cap can be enforced without reading documents back. The cap applies
// to stored bytes: prefixed key plus serialized document.
//
// Every failure is logged, reported to Hooks.PersistFailed and swallowed.
type Bridge struct {
	p      pr.Provider
	prefix string
	mem    *store.Store
	index  *store.Store // Bytes-limited mirror of persisted entries, sized by document
	log    Logger
	hooks  Hooks

	mu sync.Mutex
}

func newBridge(p pr.Provider, prefix string, maxBytes int64, mem *store.Store, clk clock.Clock, log Logger, hooks Hooks) *Bridge {
	return &Bridge{
		p:      p,
		prefix: prefix,
		mem:    mem,
		index: store.New(store.Config{
			Limit: store.Limit{Kind: store.Bytes, Max: maxBytes},
			Score: mem.Score(),
			Clock: clk,
		}),
		log:   log,
		hooks: hooks,
	}
}

func (b *Bridge) storageKey(key string) string { return b.prefix + key }

// docSize is what one document occupies in the provider.
func (b *Bridge) docSize(key string, doc []byte) int64 {
	return int64(len(b.storageKey(key)) + len(doc))
}

// LoadAll seeds the memory tier from the provider. Expired and corrupt
// documents are deleted from the provider. Returns the number of entries
// loaded.
func (b *Bridge) LoadAll(ctx context.Context) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys, err := b.p.Keys(ctx, b.prefix)
	if err != nil {
		b.fail("load", "", StorageUnavailable, err)
		return 0
	}
	loaded := 0
	for _, sk := range keys {
		key := strings.TrimPrefix(sk, b.prefix)
		e, size, ok, _ := b.readLocked(ctx, "load", key)
		if !ok {
			continue
		}
		b.index.PutSized(e, size)
		b.mem.Put(e)
		loaded++
	}
	// the budget may have shrunk since the documents were written
	for _, ev := range b.index.Evict() {
		b.delLocked(ctx, "load", ev.Key)
		b.hooks.Evicted(TierPersistent, ev.Key, "capacity")
	}
	for _, ev := range b.mem.Evict() {
		b.hooks.Evicted(TierMemory, ev.Key, evictReason(ev, b.mem))
	}
	b.log.Info("persisted entries loaded", Fields{"loaded": loaded, "documents": len(keys)})
	return loaded
}

// readLocked fetches and decodes one document and reports its stored size.
// Missing, expired and corrupt documents report ok=false; the latter two are
// deleted. err is set (and already reported) only when the provider itself
// failed.
func (b *Bridge) readLocked(ctx context.Context, op, key string) (store.Entry, int64, bool, error) {
	raw, ok, err := b.p.Get(ctx, b.storageKey(key))
	if err != nil {
		b.fail(op, key, StorageUnavailable, err)
		return store.Entry{}, 0, false, err
	}
	if !ok {
		return store.Entry{}, 0, false, nil
	}
	e, err := wire.Decode(key, raw)
	if err != nil {
		b.fail(op, key, StorageSerialization, err)
		b.delLocked(ctx, op, key)
		return store.Entry{}, 0, false, nil
	}
	if e.Expired(b.index.Now()) {
		b.delLocked(ctx, op, key)
		return store.Entry{}, 0, false, nil
	}
	return e, b.docSize(key, raw), true, nil
}

// Flush writes entries to the provider, evicting persisted entries (lowest
// score first) until each document fits the byte cap. Documents larger than
// the whole cap are skipped. A quota error from the provider frees at least
// the document's size and retries once. If the write still fails the older
// document is deleted, so a restart cannot load a superseded value.
func (b *Bridge) Flush(ctx context.Context, entries ...store.Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range entries {
		b.flushLocked(ctx, e)
	}
}

func (b *Bridge) flushLocked(ctx context.Context, e store.Entry) {
	doc, err := wire.Encode(e)
	if err != nil {
		b.fail("flush", e.Key, StorageSerialization, err)
		b.dropLocked(ctx, e.Key)
		return
	}
	size := b.docSize(e.Key, doc)
	if max := b.index.Limit().Max; max > 0 && size > max {
		b.log.Warn("document larger than storage budget; not persisted", Fields{"key": e.Key, "size": size, "max": max})
		b.dropLocked(ctx, e.Key)
		return
	}

	b.index.PutSized(e, size)
	for _, ev := range b.index.Evict(e.Key) {
		b.delLocked(ctx, "flush", ev.Key)
		b.hooks.Evicted(TierPersistent, ev.Key, "capacity")
	}

	err = b.p.Set(ctx, b.storageKey(e.Key), doc)
	if errors.Is(err, pr.ErrQuotaExceeded) {
		// the provider is fuller than the index thinks (other writers);
		// free at least this document's size before retrying
		limit := store.Limit{Kind: store.Bytes, Max: b.index.Bytes() - size}
		if limit.Max <= 0 {
			limit = store.Limit{Kind: store.Count, Max: 1}
		}
		for _, ev := range b.index.EvictTo(limit, e.Key) {
			b.delLocked(ctx, "flush", ev.Key)
			b.hooks.Evicted(TierPersistent, ev.Key, "quota")
		}
		err = b.p.Set(ctx, b.storageKey(e.Key), doc)
	}
	if err != nil {
		b.dropLocked(ctx, e.Key)
		kind := StorageUnavailable
		if errors.Is(err, pr.ErrQuotaExceeded) {
			kind = StorageQuota
		}
		b.fail("flush", e.Key, kind, err)
	}
}

// Remove deletes the persisted documents for keys.
func (b *Bridge) Remove(ctx context.Context, keys ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		b.dropLocked(ctx, k)
	}
}

// RemoveFunc deletes every persisted document whose key matches, including
// ones written by other processes and not yet indexed here. Returns the
// removed keys.
func (b *Bridge) RemoveFunc(ctx context.Context, match func(key string) bool) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]struct{})
	for _, k := range b.index.DeleteFunc(match) {
		seen[k] = struct{}{}
	}
	if stored, err := b.p.Keys(ctx, b.prefix); err != nil {
		b.fail("remove", "", StorageUnavailable, err)
	} else {
		for _, sk := range stored {
			if k := strings.TrimPrefix(sk, b.prefix); match(k) {
				seen[k] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		b.delLocked(ctx, "remove", k)
		out = append(out, k)
	}
	return out
}

// OnExternalChange reloads key after another process changed it: a live
// document replaces the memory entry; a missing or expired one removes it.
func (b *Bridge) OnExternalChange(ctx context.Context, key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks.ExternalChange(key)

	e, size, ok, err := b.readLocked(ctx, "reload", key)
	if err != nil {
		return // keep serving the memory copy
	}
	if !ok {
		b.index.Delete(key)
		b.mem.Delete(key)
		return
	}
	b.index.PutSized(e, size)
	b.mem.Put(e)
	for _, ev := range b.mem.Evict(key) {
		b.hooks.Evicted(TierMemory, ev.Key, evictReason(ev, b.mem))
	}
}

// RemoveExpired drops expired persisted documents.
func (b *Bridge) RemoveExpired(ctx context.Context) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := b.index.RemoveExpired()
	for _, k := range keys {
		b.delLocked(ctx, "remove", k)
		b.hooks.Evicted(TierPersistent, k, "expired")
	}
	return keys
}

// Clear removes every document under the prefix.
func (b *Bridge) Clear(ctx context.Context) int {
	return len(b.RemoveFunc(ctx, func(string) bool { return true }))
}

// Keys lists the indexed (persisted) keys.
func (b *Bridge) Keys() []string { return b.index.Keys() }

// Len and Bytes describe the indexed persisted set; Bytes counts stored
// document bytes.
func (b *Bridge) Len() int            { return b.index.Len() }
func (b *Bridge) Bytes() int64        { return b.index.Bytes() }
func (b *Bridge) Has(key string) bool { return b.index.Has(key) }

func (b *Bridge) dropLocked(ctx context.Context, key string) {
	b.index.Delete(key)
	b.delLocked(ctx, "remove", key)
}

func (b *Bridge) delLocked(ctx context.Context, op, key string) {
	if err := b.p.Del(ctx, b.storageKey(key)); err != nil {
		b.fail(op, key, StorageUnavailable, err)
	}
}

func (b *Bridge) fail(op, key string, kind StorageErrorKind, err error) {
	se := &StorageError{Kind: kind, Op: op, Key: key, Err: err}
	b.log.Warn("persistence degraded", Fields{"op": op, "key": key, "kind": kind.String(), "err": err})
	b.hooks.PersistFailed(op, key, se)
}

func evictReason(e store.Entry, s *store.Store) string {
	if e.Expired(s.Now()) {
		return "expired"
	}
	return "capacity"
}
