package swrcache

import "time"

const (
	DefaultPrefix          = "swr:"
	DefaultMaxEntries      = 500
	DefaultMaxStorageBytes = 5 << 20
	DefaultTTL             = 5 * time.Minute
	DefaultCleanupInterval = time.Minute

	defaultGenRetention = 24 * time.Hour
	changeQueueSize     = 256
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// limitOrDefault maps 0 to def and negative values to "unlimited" (0).
func limitOrDefault(v, def int64) int64 {
	switch {
	case v == 0:
		return def
	case v < 0:
		return 0
	default:
		return v
	}
}
