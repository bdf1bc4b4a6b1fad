package store

import (
	"sort"
	"sync"
	"time"

	"github.com/unkn0wn-root/swrcache/internal/clock"
)

// LimitKind selects what a Limit bounds.
type LimitKind int

const (
	// Count bounds the number of entries (memory tier).
	Count LimitKind = iota
	// Bytes bounds the summed SizeBytes (persistent tier).
	Bytes
)

// Limit is a store capacity. Max <= 0 disables the limit.
type Limit struct {
	Kind LimitKind
	Max  int64
}

func (l Limit) exceeded(n int, bytes int64) bool {
	if l.Max <= 0 {
		return false
	}
	if l.Kind == Bytes {
		return bytes > l.Max
	}
	return int64(n) > l.Max
}

type Config struct {
	Limit Limit
	Score ScoreFunc   // nil => ProductScore
	Clock clock.Clock // nil => clock.Real
}

// Store is a map of entries with TTL and eviction bookkeeping.
// Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	entries map[string]*Entry
	bytes   int64

	limit Limit
	score ScoreFunc
	clock clock.Clock
}

func New(cfg Config) *Store {
	s := &Store{
		entries: make(map[string]*Entry),
		limit:   cfg.Limit,
		score:   cfg.Score,
		clock:   cfg.Clock,
	}
	if s.score == nil {
		s.score = ProductScore
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	return s
}

// Set stores value under key, replacing any previous entry. Creation time,
// expiry and access stats are reset.
func (s *Store) Set(key string, value []byte, ttl time.Duration) Entry {
	now := s.clock.Now()
	v := make([]byte, len(value))
	copy(v, value)
	e := &Entry{
		Key:            key,
		Value:          v,
		CreatedAt:      now,
		TTL:            ttl,
		ExpiresAt:      expiresAt(now, ttl),
		AccessCount:    1,
		LastAccessedAt: now,
		SizeBytes:      SizeOf(key, v),
	}
	s.mu.Lock()
	s.putLocked(e)
	s.mu.Unlock()
	return *e
}

// Put inserts a preformed entry, keeping its timestamps and stats. Used when
// seeding from the durable tier.
func (s *Store) Put(e Entry) {
	e.SizeBytes = SizeOf(e.Key, e.Value)
	s.putPrepared(e)
}

// PutSized is Put with an externally measured size, e.g. the serialized
// document size tracked by the persisted index. Value is not retained.
func (s *Store) PutSized(e Entry, size int64) {
	e.Value = nil
	e.SizeBytes = size
	s.putPrepared(e)
}

func (s *Store) putPrepared(e Entry) {
	if e.AccessCount < 1 {
		e.AccessCount = 1
	}
	if e.LastAccessedAt.IsZero() {
		e.LastAccessedAt = e.CreatedAt
	}
	if e.ExpiresAt.IsZero() {
		e.ExpiresAt = expiresAt(e.CreatedAt, e.TTL)
	}
	s.mu.Lock()
	s.putLocked(&e)
	s.mu.Unlock()
}

func (s *Store) putLocked(e *Entry) {
	if old, ok := s.entries[e.Key]; ok {
		s.bytes -= old.SizeBytes
	}
	s.entries[e.Key] = e
	s.bytes += e.SizeBytes
}

// Get returns the live entry for key and records the access. Expired
// entries are reported absent but left for the sweeper.
func (s *Store) Get(key string) (Entry, bool) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.Expired(now) {
		return Entry{}, false
	}
	e.AccessCount++
	e.LastAccessedAt = now
	return *e, true
}

// Peek is Get without touching access stats.
func (s *Store) Peek(key string) (Entry, bool) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.Expired(now) {
		return Entry{}, false
	}
	return *e, true
}

func (s *Store) Has(key string) bool {
	_, ok := s.Peek(key)
	return ok
}

// Delete removes key and reports whether it was present (expired or not).
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(key)
}

func (s *Store) deleteLocked(key string) bool {
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	s.bytes -= e.SizeBytes
	delete(s.entries, key)
	return true
}

// DeleteFunc removes every key for which match returns true and returns the
// removed keys.
func (s *Store) DeleteFunc(match func(key string) bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for k := range s.entries {
		if match(k) {
			s.deleteLocked(k)
			removed = append(removed, k)
		}
	}
	sort.Strings(removed)
	return removed
}

// RemoveExpired drops all expired entries and returns their keys.
func (s *Store) RemoveExpired() []string {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for k, e := range s.entries {
		if e.Expired(now) {
			s.deleteLocked(k)
			removed = append(removed, k)
		}
	}
	sort.Strings(removed)
	return removed
}

// Evict removes entries in Rank order until the store fits its own limit.
// Keys in exempt are never chosen; if only exempt keys remain the store may
// stay over the limit.
func (s *Store) Evict(exempt ...string) []Entry {
	return s.EvictTo(s.limit, exempt...)
}

// EvictTo is Evict against an explicit limit.
func (s *Store) EvictTo(limit Limit, exempt ...string) []Entry {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !limit.exceeded(len(s.entries), s.bytes) {
		return nil
	}
	skip := make(map[string]struct{}, len(exempt))
	for _, k := range exempt {
		skip[k] = struct{}{}
	}
	candidates := make([]Entry, 0, len(s.entries))
	for k, e := range s.entries {
		if _, ok := skip[k]; ok {
			continue
		}
		candidates = append(candidates, *e)
	}
	Rank(candidates, now, s.score)

	var evicted []Entry
	for _, c := range candidates {
		if !limit.exceeded(len(s.entries), s.bytes) {
			break
		}
		s.deleteLocked(c.Key)
		evicted = append(evicted, c)
	}
	return evicted
}

// Snapshot returns copies of all entries, expired ones included.
func (s *Store) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	return out
}

// Keys returns all stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Bytes is the summed SizeBytes of all entries.
func (s *Store) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]*Entry)
	s.bytes = 0
	s.mu.Unlock()
}

func (s *Store) Limit() Limit { return s.limit }

// Score exposes the configured ScoreFunc so other tiers rank consistently.
func (s *Store) Score() ScoreFunc { return s.score }

// Now is the store's clock reading.
func (s *Store) Now() time.Time { return s.clock.Now() }
