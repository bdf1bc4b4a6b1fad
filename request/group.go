package request

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Group de-duplicates concurrent calls with the same key: at most one call
// per key is outstanding and every concurrent caller receives its outcome.
// The slot is released as soon as the call settles, successfully or not.
//
// The shared call runs detached from any single caller's cancellation;
// bound it with a timeout (WithTimeout) so it always settles. A caller whose
// ctx ends stops waiting and gets ctx.Err().
type Group struct {
	sf singleflight.Group

	mu       sync.Mutex
	inflight map[string]struct{}
}

// Do runs fn once per key among concurrent callers. shared reports whether
// the result was delivered to more than one caller.
func (g *Group) Do(ctx context.Context, key string, fn func(context.Context) (any, error)) (v any, shared bool, err error) {
	if key == "" {
		v, err = fn(ctx)
		return v, false, err
	}
	detached := context.WithoutCancel(ctx)
	ch := g.sf.DoChan(key, func() (any, error) {
		g.mark(key, true)
		defer g.mark(key, false)
		return fn(detached)
	})
	select {
	case r := <-ch:
		return r.Val, r.Shared, r.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// InFlight reports whether a call for key is currently outstanding.
func (g *Group) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inflight[key]
	return ok
}

// Len is the number of outstanding calls.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}

func (g *Group) mark(key string, on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if on {
		if g.inflight == nil {
			g.inflight = make(map[string]struct{})
		}
		g.inflight[key] = struct{}{}
		return
	}
	delete(g.inflight, key)
}

// Dedupe is the typed form of Group.Do.
func Dedupe[T any](ctx context.Context, g *Group, key string, fn func(context.Context) (T, error)) (T, bool, error) {
	v, shared, err := g.Do(ctx, key, func(c context.Context) (any, error) {
		return fn(c)
	})
	t, _ := v.(T)
	return t, shared, err
}
