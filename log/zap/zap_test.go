package zap

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/unkn0wn-root/swrcache"
)

func TestZapLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Debug("evicted", swrcache.Fields{"key": "a", "tier": "memory"})
	l.Warn("persistence degraded", swrcache.Fields{"err": errors.New("quota")})
	l.Info("loaded", nil)

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("entries=%d", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel || entries[0].Message != "evicted" {
		t.Fatalf("first=%+v", entries[0])
	}
	ctx := entries[0].ContextMap()
	if ctx["key"] != "a" || ctx["tier"] != "memory" {
		t.Fatalf("fields=%v", ctx)
	}
	if entries[0].Context[0].Key != "key" {
		t.Fatalf("fields not sorted: %v", entries[0].Context)
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].ContextMap()["err"] != "quota" {
		t.Fatalf("warn=%+v", entries[1])
	}
	if len(entries[2].Context) != 0 {
		t.Fatalf("nil fields produced context: %v", entries[2].Context)
	}
}
