package swrcache

import "time"

// Stats is a point-in-time view of both tiers.
type Stats struct {
	MemoryEntries    int
	MemoryBytes      int64
	PersistedEntries int
	PersistedBytes   int64
	Hits             int64
	Misses           int64
	HitRate          float64   // Hits / (Hits + Misses); 0 before any lookup
	Oldest           time.Time // CreatedAt of the oldest memory entry; zero when empty
	Newest           time.Time
}

func (e *Engine) Stats() Stats {
	s := Stats{
		MemoryEntries: e.mem.Len(),
		MemoryBytes:   e.mem.Bytes(),
		Hits:          e.hits.Load(),
		Misses:        e.misses.Load(),
	}
	if e.bridge != nil {
		s.PersistedEntries = e.bridge.Len()
		s.PersistedBytes = e.bridge.Bytes()
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	for _, ent := range e.mem.Snapshot() {
		if s.Oldest.IsZero() || ent.CreatedAt.Before(s.Oldest) {
			s.Oldest = ent.CreatedAt
		}
		if ent.CreatedAt.After(s.Newest) {
			s.Newest = ent.CreatedAt
		}
	}
	return s
}
