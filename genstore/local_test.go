package genstore

import (
	"context"
	"testing"
	"time"

	"github.com/unkn0wn-root/swrcache/internal/clock"
)

func TestLocalSnapshotManyIncludesAllAndZeroForMissing(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(nil)
	t.Cleanup(func() { _ = s.Close(ctx) })

	keys := []string{"a", "b", "c"}
	// bump b twice -> gen=2
	if _, err := s.Bump(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Bump(ctx, "b"); err != nil {
		t.Fatal(err)
	}

	got, err := s.SnapshotMany(ctx, keys)
	if err != nil {
		t.Fatal(err)
	}

	if got["a"] != 0 || got["b"] != 2 || got["c"] != 0 {
		t.Fatalf("got=%v want a=0,b=2,c=0", got)
	}
}

func TestLocalBumpManyAdvancesEachKey(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(nil)

	_, _ = s.Bump(ctx, "x")
	got, err := s.BumpMany(ctx, []string{"x", "y"})
	if err != nil {
		t.Fatal(err)
	}
	if got["x"] != 2 || got["y"] != 1 {
		t.Fatalf("got=%v want x=2,y=1", got)
	}
}

func TestLocalCleanupPrunesOld(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Unix(1000, 0))
	s := NewLocalGenStore(clk.Now)

	if _, err := s.Bump(ctx, "old"); err != nil {
		t.Fatal(err)
	}
	clk.Advance(1200 * time.Millisecond)
	if _, err := s.Bump(ctx, "recent"); err != nil {
		t.Fatal(err)
	}
	s.Cleanup(time.Second)

	if g, _ := s.Snapshot(ctx, "old"); g != 0 {
		t.Fatalf("expected pruned -> 0, got %d", g)
	}
	if g, _ := s.Snapshot(ctx, "recent"); g != 1 {
		t.Fatalf("recent gen should survive cleanup, got %d", g)
	}
	if s.Len() != 1 {
		t.Fatalf("len=%d want 1", s.Len())
	}
}
