package prom

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/unkn0wn-root/swrcache"
	"github.com/unkn0wn-root/swrcache/request"
)

func TestHooksCount(t *testing.T) {
	m := New()
	m.Hit("a")
	m.Hit("b")
	m.Miss("c")
	m.Evicted(swrcache.TierPersistent, "k", "quota")
	m.PersistFailed("flush", "k", errors.New("x"))
	m.Invalidated("^api:", 3)
	m.Refresh("k", nil)
	m.Refresh("k", errors.New("down"))
	m.OnRetry(1, 0, &request.Error{Kind: request.KindServer, Status: 503})

	if got := testutil.ToFloat64(m.lookups.WithLabelValues("hit")); got != 2 {
		t.Fatalf("hits=%v", got)
	}
	if got := testutil.ToFloat64(m.evictions.WithLabelValues("persistent", "quota")); got != 1 {
		t.Fatalf("evictions=%v", got)
	}
	if got := testutil.ToFloat64(m.invalidated); got != 3 {
		t.Fatalf("invalidated=%v", got)
	}
	if got := testutil.ToFloat64(m.refreshes.WithLabelValues("error")); got != 1 {
		t.Fatalf("refresh errors=%v", got)
	}
	if got := testutil.ToFloat64(m.retries.WithLabelValues("server")); got != 1 {
		t.Fatalf("retries=%v", got)
	}
}

func TestWatchEngineAndHandler(t *testing.T) {
	ctx := context.Background()
	m := New()
	e, err := swrcache.New(swrcache.Options{Hooks: m, CleanupInterval: -1})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close(ctx)
	m.WatchEngine(e)

	e.Set(ctx, "k", []byte("v"), 0)
	e.Get(ctx, "k")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		"swrcache_memory_entries 1",
		"swrcache_memory_bytes 2",
		`swrcache_lookups_total{result="hit"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}
