package store

import (
	"sort"
	"time"
)

// ScoreFunc ranks an entry for eviction; lower scores are evicted first.
type ScoreFunc func(e Entry, now time.Time) float64

// ProductScore is accessCount × (now − lastAccessedAt) in milliseconds.
func ProductScore(e Entry, now time.Time) float64 {
	return float64(e.AccessCount) * gapMillis(e, now)
}

// DecayScore is accessCount / (1 + now − lastAccessedAt), so both a stale
// burst of hits and a single recent hit lose protection as time passes.
func DecayScore(e Entry, now time.Time) float64 {
	return float64(e.AccessCount) / (1 + gapMillis(e, now))
}

func gapMillis(e Entry, now time.Time) float64 {
	gap := now.Sub(e.LastAccessedAt)
	if gap < 0 {
		gap = 0
	}
	return float64(gap) / float64(time.Millisecond)
}

// Rank orders entries in eviction order: expired entries first (earliest
// expiry first), then ascending score, then older last access, then key.
// The slice is sorted in place.
func Rank(entries []Entry, now time.Time, score ScoreFunc) {
	if score == nil {
		score = ProductScore
	}
	scores := make(map[string]float64, len(entries))
	for _, e := range entries {
		scores[e.Key] = score(e, now)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		ea, eb := a.Expired(now), b.Expired(now)
		if ea != eb {
			return ea
		}
		if ea && !a.ExpiresAt.Equal(b.ExpiresAt) {
			return a.ExpiresAt.Before(b.ExpiresAt)
		}
		if sa, sb := scores[a.Key], scores[b.Key]; sa != sb {
			return sa < sb
		}
		if !a.LastAccessedAt.Equal(b.LastAccessedAt) {
			return a.LastAccessedAt.Before(b.LastAccessedAt)
		}
		return a.Key < b.Key
	})
}
