package swr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/swrcache"
	"github.com/unkn0wn-root/swrcache/internal/clock"
	"github.com/unkn0wn-root/swrcache/request"
)

var t0 = time.Unix(1_700_000_000, 0)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestReader(t *testing.T) (*Reader, *swrcache.Engine, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(t0)
	e, err := swrcache.New(swrcache.Options{Clock: clk, CleanupInterval: -1})
	if err != nil {
		t.Fatal(err)
	}
	orch := request.New(request.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Sleep: noSleep})
	r, err := NewReader(e, orch, Options{StaleAfter: 10 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		r.Close()
		_ = e.Close(context.Background())
	})
	return r, e, clk
}

// countingFetch returns value and counts calls.
func countingFetch(value string, calls *atomic.Int32) Fetcher {
	return func(context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte(value), nil
	}
}

func TestReadMissFetchesAndCaches(t *testing.T) {
	ctx := context.Background()
	r, e, _ := newTestReader(t)
	var calls atomic.Int32

	res, err := r.Read(ctx, "k", countingFetch("v1", &calls), ReadOptions{})
	if err != nil || string(res.Value) != "v1" || res.State != FreshFromCache || !res.Found {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if !res.CachedAt.Equal(t0) {
		t.Fatalf("CachedAt=%v", res.CachedAt)
	}
	ent, ok := e.Peek(ctx, "k")
	if !ok {
		t.Fatalf("fetched value not cached")
	}
	// hard ttl = max(10s*3, engine default 5m)
	if ent.TTL != swrcache.DefaultTTL {
		t.Fatalf("hard ttl=%v", ent.TTL)
	}

	res, _ = r.Read(ctx, "k", countingFetch("v2", &calls), ReadOptions{})
	if string(res.Value) != "v1" || res.State != FreshFromCache || res.Refreshing {
		t.Fatalf("fresh hit should not refresh: %+v", res)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls=%d", calls.Load())
	}
}

func TestReadMissRetriesThenFails(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestReader(t)

	var calls atomic.Int32
	fail := func(context.Context) ([]byte, error) {
		calls.Add(1)
		return nil, &request.Error{Kind: request.KindServer, Status: 503}
	}
	res, err := r.Read(ctx, "k", fail, ReadOptions{})
	var re *request.Error
	if !errors.As(err, &re) || re.Status != 503 {
		t.Fatalf("err=%v", err)
	}
	if res.State != RefreshFailed || res.Found || r.State("k") != RefreshFailed {
		t.Fatalf("res=%+v state=%v", res, r.State("k"))
	}
	if calls.Load() != 3 {
		t.Fatalf("attempts=%d", calls.Load())
	}
}

func TestReadClientErrorNotRetried(t *testing.T) {
	r, _, _ := newTestReader(t)
	var calls atomic.Int32
	_, err := r.Read(context.Background(), "k", func(context.Context) ([]byte, error) {
		calls.Add(1)
		return nil, &request.Error{Kind: request.KindClient, Status: 403}
	}, ReadOptions{})
	if err == nil || calls.Load() != 1 {
		t.Fatalf("err=%v calls=%d", err, calls.Load())
	}
}

func TestStaleReadServesOldAndRefreshesOnce(t *testing.T) {
	ctx := context.Background()
	r, e, clk := newTestReader(t)
	e.Set(ctx, "k", []byte("old"), time.Hour)
	clk.Advance(10 * time.Second) // now == cachedAt + ttl

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("new"), nil
	}

	var updates atomic.Int32
	onUpdate := func(u Update) {
		if string(u.Value) == "new" && u.State == FreshFromCache {
			updates.Add(1)
		}
	}
	var eg errgroup.Group
	for i := 0; i < 10; i++ {
		eg.Go(func() error {
			res, err := r.Read(ctx, "k", fetch, ReadOptions{OnUpdate: onUpdate})
			if err != nil {
				return err
			}
			if string(res.Value) != "old" || res.State != StaleAwaitingRefresh || !res.Refreshing {
				return errors.New("stale read returned unexpected result")
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}
	if r.State("k") != Refreshing {
		t.Fatalf("state=%v", r.State("k"))
	}
	close(release)
	r.Wait()

	// every read that joined the refresh hears how it settled
	if calls.Load() != 1 || updates.Load() != 10 {
		t.Fatalf("fetch calls=%d updates=%d", calls.Load(), updates.Load())
	}
	if v, _ := e.Get(ctx, "k"); string(v) != "new" {
		t.Fatalf("refreshed value not cached: %q", v)
	}
	if r.State("k") != FreshFromCache {
		t.Fatalf("state=%v", r.State("k"))
	}
}

func TestFailedRefreshKeepsCachedValue(t *testing.T) {
	ctx := context.Background()
	r, e, clk := newTestReader(t)
	e.Set(ctx, "k", []byte("v"), time.Hour)
	clk.Advance(time.Minute)

	var got Update
	boom := errors.New("network down")
	res, err := r.Read(ctx, "k", func(context.Context) ([]byte, error) { return nil, request.Permanent(boom) },
		ReadOptions{OnUpdate: func(u Update) { got = u }})
	if err != nil || string(res.Value) != "v" {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	r.Wait()

	if !errors.Is(got.Err, boom) || got.State != StaleAwaitingRefresh {
		t.Fatalf("update=%+v", got)
	}
	if v, ok := e.Get(ctx, "k"); !ok || string(v) != "v" {
		t.Fatalf("cached value lost after failed refresh")
	}
	if r.State("k") != StaleAwaitingRefresh {
		t.Fatalf("prior state not restored: %v", r.State("k"))
	}
}

func TestInvalidationDiscardsInFlightRefresh(t *testing.T) {
	ctx := context.Background()
	r, e, clk := newTestReader(t)
	e.Set(ctx, "api:/devices", []byte("old"), time.Hour)
	clk.Advance(time.Minute)

	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(context.Context) ([]byte, error) {
		close(started)
		<-release
		return []byte("from-before-invalidation"), nil
	}
	ch, cancel := r.Subscribe("api:/devices", 4)
	defer cancel()

	if _, err := r.Read(ctx, "api:/devices", fetch, ReadOptions{}); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := e.Invalidate(ctx, "api:/devices"); err != nil {
		t.Fatal(err)
	}
	close(release)
	r.Wait()

	if _, ok := e.Get(ctx, "api:/devices"); ok {
		t.Fatalf("superseded refresh resurrected the entry")
	}
	select {
	case u := <-ch:
		if !u.Discarded || u.State != Absent {
			t.Fatalf("update=%+v", u)
		}
	default:
		t.Fatalf("no update delivered")
	}
	if r.State("api:/devices") != Absent {
		t.Fatalf("state=%v", r.State("api:/devices"))
	}
}

func TestConcurrentMissesShareOneFetch(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestReader(t)

	var calls atomic.Int32
	release := make(chan struct{})
	var started sync.WaitGroup
	const n = 8
	started.Add(n)

	var eg errgroup.Group
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			started.Done()
			res, err := r.Read(ctx, "k", func(context.Context) ([]byte, error) {
				calls.Add(1)
				<-release
				return []byte("v"), nil
			}, ReadOptions{})
			if err == nil && string(res.Value) != "v" {
				return errors.New("wrong value")
			}
			return err
		})
	}
	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Fatalf("fetch calls=%d", calls.Load())
	}
}

func TestForceRefreshServesCachedValue(t *testing.T) {
	ctx := context.Background()
	r, e, _ := newTestReader(t)
	e.Set(ctx, "k", []byte("cached"), time.Hour)

	var calls atomic.Int32
	res, err := r.Read(ctx, "k", countingFetch("forced", &calls), ReadOptions{ForceRefresh: true})
	if err != nil || string(res.Value) != "cached" || res.State != Refreshing || !res.Refreshing {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	r.Wait()
	if v, _ := e.Get(ctx, "k"); string(v) != "forced" || calls.Load() != 1 {
		t.Fatalf("forced refresh not applied: %q calls=%d", v, calls.Load())
	}
	if st := e.Stats(); st.Hits != 1 {
		t.Fatalf("forced read should peek without counting a hit; hits=%d", st.Hits)
	}
}

func TestCloseStopsReads(t *testing.T) {
	r, _, _ := newTestReader(t)
	ch, _ := r.Subscribe("k", 1)
	r.Close()
	r.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("subscription not closed")
	}
	var calls atomic.Int32
	if _, err := r.Read(context.Background(), "k", countingFetch("v", &calls), ReadOptions{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v", err)
	}
}

func TestCloseCancelsSharedRefresh(t *testing.T) {
	ctx := context.Background()
	r, e, clk := newTestReader(t)
	e.Set(ctx, "k", []byte("old"), time.Hour)
	clk.Advance(time.Minute)

	started := make(chan struct{})
	stopped := make(chan error, 1)
	fetch := func(ctx context.Context) ([]byte, error) {
		close(started)
		<-ctx.Done()
		stopped <- ctx.Err()
		return []byte("late"), nil
	}
	if _, err := r.Read(ctx, "k", fetch, ReadOptions{}); err != nil {
		t.Fatal(err)
	}
	<-started
	r.Close()

	select {
	case err := <-stopped:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("fetch ctx err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("shared fetch still running after Close")
	}
	deadline := time.Now().Add(2 * time.Second)
	for r.orch.Group().Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("shared fetch never settled")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if ent, ok := e.Peek(ctx, "k"); !ok || string(ent.Value) != "old" {
		t.Fatalf("value written after Close: ok=%v %q", ok, ent.Value)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		Absent:               "absent",
		FreshFromCache:       "fresh",
		StaleAwaitingRefresh: "stale",
		Refreshing:           "refreshing",
		RefreshFailed:        "refresh_failed",
		State(99):            "unknown",
	}
	for s, want := range cases {
		if s.String() != want {
			t.Errorf("%d.String()=%q want %q", int(s), s.String(), want)
		}
	}
}
