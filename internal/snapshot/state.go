package snapshot

// State is the lifecycle state of a user's snapshot during a freshness check.
type State int

const (
	// StateStaleOrMissing means the snapshot is absent or older than the refresh interval.
	StateStaleOrMissing State = iota
	// StateFresh means the stored snapshot is within the refresh interval.
	StateFresh
	// StateRefreshing means catalog data is being fetched and persisted.
	StateRefreshing
	// StateFailed means the last refresh attempt did not complete.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStaleOrMissing:
		return "stale_or_missing"
	case StateFresh:
		return "fresh"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
