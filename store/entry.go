// Package store holds cache entries and their bookkeeping: expiry, access
// statistics and capacity-driven eviction. It performs no I/O.
package store

import "time"

// Entry is one cached value plus the metadata used for expiry and eviction.
// Value must be treated as immutable once stored.
type Entry struct {
	Key            string
	Value          []byte
	CreatedAt      time.Time
	TTL            time.Duration
	ExpiresAt      time.Time // zero => never expires
	AccessCount    int64
	LastAccessedAt time.Time
	SizeBytes      int64
}

// Expired reports whether the entry is past its hard expiry at now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Age is the time since the entry was written.
func (e Entry) Age(now time.Time) time.Duration { return now.Sub(e.CreatedAt) }

// SizeOf is the accounted size of a key/value pair.
func SizeOf(key string, value []byte) int64 { return int64(len(key) + len(value)) }

func expiresAt(created time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return created.Add(ttl)
}
