package sloghooks

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func newBufLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func TestRedactsKeysByDefault(t *testing.T) {
	l, buf := newBufLogger()
	h := New(l, Options{})
	h.PersistFailed("flush", "api:/users?email=a@b.c", errors.New("quota"))

	out := buf.String()
	if strings.Contains(out, "email") {
		t.Fatalf("raw key logged: %s", out)
	}
	if !strings.Contains(out, "swrcache.persist_failed") || !strings.Contains(out, "err=quota") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestCustomRedactAndSampling(t *testing.T) {
	l, buf := newBufLogger()
	h := New(l, Options{HitMissEvery: 3, Redact: func(k string) string { return "K" }})
	for i := 0; i < 9; i++ {
		h.Hit("k")
	}
	if n := strings.Count(buf.String(), "swrcache.hit"); n != 3 {
		t.Fatalf("sampled lines=%d", n)
	}
	if !strings.Contains(buf.String(), "key=K") {
		t.Fatalf("custom redactor not used: %s", buf.String())
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	h := New(nil, Options{})
	h.Hit("k")
	h.Refresh("k", errors.New("x"))
	h.Invalidated("^api:", 2)
}
