package swr

// State is where a key is in the read/refresh cycle.
type State int

const (
	// Absent: nothing cached and no read in progress.
	Absent State = iota
	// FreshFromCache: served from cache within its staleness window.
	FreshFromCache
	// StaleAwaitingRefresh: served from cache past its staleness window; a
	// background refresh has been started.
	StaleAwaitingRefresh
	// Refreshing: a fetch for the key is running.
	Refreshing
	// RefreshFailed: a fetch failed with nothing cached to fall back on.
	RefreshFailed
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case FreshFromCache:
		return "fresh"
	case StaleAwaitingRefresh:
		return "stale"
	case Refreshing:
		return "refreshing"
	case RefreshFailed:
		return "refresh_failed"
	default:
		return "unknown"
	}
}
