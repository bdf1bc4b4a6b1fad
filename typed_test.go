package swrcache

import (
	"context"
	"errors"
	"net/url"
	"testing"

	c "github.com/unkn0wn-root/swrcache/codec"
)

type device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func TestTypedRoundTrip(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, nil)
	devices, err := NewTyped[device](e, "devices", c.JSON[device]{})
	if err != nil {
		t.Fatal(err)
	}

	want := device{ID: "d1", Name: "edge-router"}
	if !devices.Set(ctx, "d1", want, 0) {
		t.Fatalf("Set failed")
	}
	got, ok := devices.Get(ctx, "d1")
	if !ok || got != want {
		t.Fatalf("Get: ok=%v got=%+v", ok, got)
	}
	if _, ok := e.Get(ctx, "devices:d1"); !ok {
		t.Fatalf("typed key not namespaced as devices:d1")
	}
	if err := devices.Invalidate(ctx, "d1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := devices.Get(ctx, "d1"); ok {
		t.Fatalf("hit after Invalidate")
	}
}

func TestTypedEncodeFailureKeepsExisting(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, nil)
	vals, _ := NewTyped[any](e, "v", c.JSON[any]{})

	vals.Set(ctx, "k", 1, 0)
	if vals.Set(ctx, "k", make(chan int), 0) {
		t.Fatalf("unserializable value reported as stored")
	}
	got, ok := vals.Get(ctx, "k")
	if !ok || got != float64(1) {
		t.Fatalf("existing entry disturbed: ok=%v got=%v", ok, got)
	}
}

func TestTypedSelfHealsUndecodable(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, nil)
	devices, _ := NewTyped[device](e, "devices", c.JSON[device]{})

	e.Set(ctx, "devices:bad", []byte("not json"), 0)
	if _, ok := devices.Get(ctx, "bad"); ok {
		t.Fatalf("undecodable entry returned")
	}
	if _, ok := e.Peek(ctx, "devices:bad"); ok {
		t.Fatalf("undecodable entry not deleted")
	}
}

func TestTypedGetOrSet(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, nil)
	devices, _ := NewTyped[device](e, "devices", c.JSON[device]{})

	calls := 0
	load := func(context.Context) (device, error) {
		calls++
		return device{ID: "d2", Name: "ap"}, nil
	}
	for i := 0; i < 3; i++ {
		got, err := devices.GetOrSet(ctx, "d2", load, 0)
		if err != nil || got.Name != "ap" {
			t.Fatalf("GetOrSet: %+v %v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("producer calls=%d", calls)
	}

	vals, _ := NewTyped[any](e, "v", c.JSON[any]{})
	_, err := vals.GetOrSet(ctx, "ch", func(context.Context) (any, error) { return make(chan int), nil }, 0)
	if !IsStorageKind(err, StorageSerialization) {
		t.Fatalf("expected serialization error, got %v", err)
	}
}

func TestNewTypedValidates(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	if _, err := NewTyped[device](nil, "ns", c.JSON[device]{}); !errors.Is(err, ErrNilEngine) {
		t.Fatalf("nil engine: %v", err)
	}
	if _, err := NewTyped[device](e, "ns", nil); !errors.Is(err, ErrNilCodec) {
		t.Fatalf("nil codec: %v", err)
	}
	if _, err := NewTyped[device](e, "", c.JSON[device]{}); !errors.Is(err, ErrNoNamespace) {
		t.Fatalf("empty namespace: %v", err)
	}
}

func TestKey(t *testing.T) {
	params := url.Values{"page": {"2"}, "filter": {"b", "a"}}
	if got := Key("api", "/devices", params); got != "api:/devices?filter=a&filter=b&page=2" {
		t.Fatalf("Key=%q", got)
	}
	if got := Key("api", "/devices", nil); got != "api:/devices" {
		t.Fatalf("Key without params=%q", got)
	}
}
