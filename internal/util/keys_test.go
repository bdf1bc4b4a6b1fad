package util

import (
	"net/url"
	"testing"
)

func TestCanonicalQueryOrderInsensitive(t *testing.T) {
	a := url.Values{"org": {"42"}, "status": {"open", "closed"}}
	b := url.Values{"status": {"closed", "open"}, "org": {"42"}}
	if CanonicalQuery(a) != CanonicalQuery(b) {
		t.Fatalf("%q != %q", CanonicalQuery(a), CanonicalQuery(b))
	}
	if got := CanonicalQuery(a); got != "org=42&status=closed&status=open" {
		t.Fatalf("got %q", got)
	}
}

func TestJoinKey(t *testing.T) {
	if got := JoinKey("api", "/devices", ""); got != "api:/devices" {
		t.Fatalf("got %q", got)
	}
	if got := JoinKey("api", "/devices", "org=42"); got != "api:/devices?org=42" {
		t.Fatalf("got %q", got)
	}
}
