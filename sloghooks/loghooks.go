// Package sloghooks reports swrcache events as slog lines, with sampling for
// the high-volume ones and keys redacted by default.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/swrcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	HitMissEvery uint64
	EvictEvery   uint64
	// Optional key redactor. Defaults to SHA-256 prefix. Cache keys carry
	// query strings, which may hold identifiers.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	hitMissCtr atomic.Uint64
	evictCtr   atomic.Uint64
}

var _ swrcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) Hit(key string) {
	if h.l == nil || !sample(h.opts.HitMissEvery, &h.hitMissCtr) {
		return
	}
	h.l.Debug("swrcache.hit", "key", h.redact(key))
}

func (h *Hooks) Miss(key string) {
	if h.l == nil || !sample(h.opts.HitMissEvery, &h.hitMissCtr) {
		return
	}
	h.l.Debug("swrcache.miss", "key", h.redact(key))
}

func (h *Hooks) Evicted(tier, key, reason string) {
	if h.l == nil || !sample(h.opts.EvictEvery, &h.evictCtr) {
		return
	}
	h.l.Debug("swrcache.evicted",
		"tier", tier,
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) PersistFailed(op, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("swrcache.persist_failed",
		"op", op,
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) ExternalChange(key string) {
	if h.l == nil {
		return
	}
	h.l.Debug("swrcache.external_change", "key", h.redact(key))
}

func (h *Hooks) Invalidated(pattern string, n int) {
	if h.l == nil {
		return
	}
	h.l.Info("swrcache.invalidated",
		"pattern", pattern,
		"removed", n)
}

func (h *Hooks) StaleWriteSkipped(key string) {
	if h.l == nil {
		return
	}
	h.l.Debug("swrcache.stale_write_skipped", "key", h.redact(key))
}

func (h *Hooks) Refresh(key string, err error) {
	if h.l == nil {
		return
	}
	if err != nil {
		h.l.Warn("swrcache.refresh_failed",
			"key", h.redact(key),
			"err", err)
		return
	}
	h.l.Debug("swrcache.refreshed", "key", h.redact(key))
}
