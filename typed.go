package swrcache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/swrcache/codec"
)

// Typed is a Codec-backed view over one namespace of an Engine. Keys are
// stored as "<namespace>:<key>".
type Typed[V any] struct {
	e     *Engine
	ns    string
	codec c.Codec[V]
}

func NewTyped[V any](e *Engine, namespace string, codec c.Codec[V]) (*Typed[V], error) {
	if e == nil {
		return nil, ErrNilEngine
	}
	if codec == nil {
		return nil, ErrNilCodec
	}
	if namespace == "" {
		return nil, ErrNoNamespace
	}
	return &Typed[V]{e: e, ns: namespace, codec: codec}, nil
}

func (t *Typed[V]) Engine() *Engine { return t.e }

// Key maps a namespace-local key to the engine key.
func (t *Typed[V]) Key(key string) string {
	// isolate by namespace
	return t.ns + ":" + key
}

// Get decodes the cached value. An undecodable entry is deleted and
// reported as a miss.
func (t *Typed[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	k := t.Key(key)
	raw, ok := t.e.Get(ctx, k)
	if !ok {
		return zero, false
	}
	v, err := t.codec.Decode(raw)
	if err != nil {
		t.e.log.Warn("cached value undecodable; deleted", Fields{"key": k, "err": err})
		t.e.Delete(ctx, k) // self-heal
		return zero, false
	}
	return v, true
}

// Set encodes and stores v. If encoding fails nothing is written, the
// existing entry is left as it was and false is returned.
func (t *Typed[V]) Set(ctx context.Context, key string, v V, ttl time.Duration) bool {
	raw, ok := t.encode(key, v)
	if !ok {
		return false
	}
	return t.e.Set(ctx, t.Key(key), raw, ttl)
}

// SetWithGen is Set guarded by a generation from SnapshotGen.
func (t *Typed[V]) SetWithGen(ctx context.Context, key string, v V, observed uint64, ttl time.Duration) (bool, error) {
	raw, ok := t.encode(key, v)
	if !ok {
		return false, nil
	}
	return t.e.SetWithGen(ctx, t.Key(key), raw, observed, ttl)
}

func (t *Typed[V]) SnapshotGen(key string) uint64 { return t.e.SnapshotGen(t.Key(key)) }

// GetOrSet returns the cached value or runs producer (de-duplicated) and
// caches its result. An encode failure is returned as a StorageSerialization
// *StorageError; the produced value is still returned with it.
func (t *Typed[V]) GetOrSet(ctx context.Context, key string, producer func(context.Context) (V, error), ttl time.Duration) (V, error) {
	if producer == nil {
		var zero V
		return zero, ErrNilProducer
	}
	if v, ok := t.Get(ctx, key); ok {
		return v, nil
	}
	var produced V
	raw, err := t.e.GetOrSet(ctx, t.Key(key), func(ctx context.Context) ([]byte, error) {
		v, err := producer(ctx)
		if err != nil {
			return nil, err
		}
		produced = v
		b, err := t.codec.Encode(v)
		if err != nil {
			return nil, &StorageError{Kind: StorageSerialization, Op: "encode", Key: t.Key(key), Err: err}
		}
		return b, nil
	}, ttl)
	if err != nil {
		if IsStorageKind(err, StorageSerialization) {
			t.e.log.Warn("value not cached: encode failed", Fields{"key": t.Key(key), "err": err})
		}
		return produced, err
	}
	v, err := t.codec.Decode(raw)
	if err != nil {
		return produced, &StorageError{Kind: StorageSerialization, Op: "decode", Key: t.Key(key), Err: err}
	}
	return v, nil
}

func (t *Typed[V]) Delete(ctx context.Context, key string) bool { return t.e.Delete(ctx, t.Key(key)) }

func (t *Typed[V]) Invalidate(ctx context.Context, key string) error {
	return t.e.Invalidate(ctx, t.Key(key))
}

// InvalidateAll invalidates the whole namespace.
func (t *Typed[V]) InvalidateAll(ctx context.Context) (int, error) {
	return t.e.InvalidatePrefix(ctx, t.ns+":")
}

func (t *Typed[V]) encode(key string, v V) ([]byte, bool) {
	raw, err := t.codec.Encode(v)
	if err != nil {
		se := &StorageError{Kind: StorageSerialization, Op: "encode", Key: t.Key(key), Err: err}
		t.e.log.Warn("value not cached: encode failed", Fields{"key": t.Key(key), "err": se})
		t.e.hooks.PersistFailed("encode", t.Key(key), se)
		return nil, false
	}
	return raw, true
}
