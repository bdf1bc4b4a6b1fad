package genstore

import (
	"context"
	"sync"
	"time"
)

type localGenEntry struct {
	Gen       uint64
	UpdatedAt time.Time
}

// LocalGenStore keeps generations in-process (default). It runs no timers of
// its own; the cache engine's sweep calls Cleanup.
type LocalGenStore struct {
	mu   sync.RWMutex
	gens map[string]localGenEntry
	now  func() time.Time
}

var _ GenStore = (*LocalGenStore)(nil)

// NewLocalGenStore returns an empty store. now may be nil (time.Now).
func NewLocalGenStore(now func() time.Time) *LocalGenStore {
	if now == nil {
		now = time.Now
	}
	return &LocalGenStore{gens: make(map[string]localGenEntry), now: now}
}

func (s *LocalGenStore) Snapshot(_ context.Context, k string) (uint64, error) {
	s.mu.RLock()
	e, ok := s.gens[k]
	s.mu.RUnlock()
	if !ok {
		return 0, nil
	}
	return e.Gen, nil
}

// SnapshotMany acquires the read lock once and reads all requested keys.
func (s *LocalGenStore) SnapshotMany(_ context.Context, ks []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(ks))
	s.mu.RLock()
	for _, k := range ks {
		out[k] = s.gens[k].Gen // zero value (0) if missing
	}
	s.mu.RUnlock()
	return out, nil
}

func (s *LocalGenStore) Bump(_ context.Context, k string) (uint64, error) {
	now := s.now()
	s.mu.Lock()
	g := s.bumpLocked(k, now)
	s.mu.Unlock()
	return g, nil
}

func (s *LocalGenStore) BumpMany(_ context.Context, ks []string) (map[string]uint64, error) {
	now := s.now()
	out := make(map[string]uint64, len(ks))
	s.mu.Lock()
	for _, k := range ks {
		out[k] = s.bumpLocked(k, now)
	}
	s.mu.Unlock()
	return out, nil
}

func (s *LocalGenStore) bumpLocked(k string, now time.Time) uint64 {
	e := s.gens[k]
	e.Gen++
	e.UpdatedAt = now
	s.gens[k] = e
	return e.Gen
}

func (s *LocalGenStore) Cleanup(retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := s.now().Add(-retention)

	s.mu.Lock()
	for k, e := range s.gens {
		if !e.UpdatedAt.IsZero() && e.UpdatedAt.Before(cutoff) {
			delete(s.gens, k)
		}
	}
	s.mu.Unlock()
}

// Len is the number of tracked generations.
func (s *LocalGenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.gens)
}

func (s *LocalGenStore) Close(_ context.Context) error { return nil }
