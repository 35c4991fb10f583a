package query

import "time"

// Status is the outcome of the most recent settled fetch of a key.
type Status string

const (
	// StatusPending means no fetch has settled yet.
	StatusPending Status = "pending"
	// StatusSuccess means the latest settled fetch succeeded.
	StatusSuccess Status = "success"
	// StatusError means the latest settled fetch failed. Data, if any, is from an earlier success.
	StatusError Status = "error"
)

// Snapshot is a consistent copy of one cache entry.
type Snapshot struct {
	Key    Key
	Status Status

	// Data is the payload of the latest applied success; valid when HasData is set.
	Data    any
	HasData bool

	// Err is the failure of the latest settled fetch when Status is StatusError.
	Err error

	// IsFetching is set while a fetch for the key is in flight.
	IsFetching bool

	// LastFetchedAt is when the latest fetch settled, successfully or not.
	LastFetchedAt time.Time

	// DataUpdatedAt is when Data was last replaced.
	DataUpdatedAt time.Time

	// Subscribers is the number of live subscriptions.
	Subscribers int

	// Version increases with every state change of the entry and is never reused
	// for a key, even across eviction. Listeners may be
	// invoked concurrently and should ignore versions older than one already seen.
	Version uint64
}

// Stale reports whether the snapshot holds data while its latest fetch failed.
func (s Snapshot) Stale() bool {
	return s.HasData && s.Status == StatusError
}

// DataOf returns the snapshot data as T.
func DataOf[T any](s Snapshot) (T, bool) {
	var zero T
	if !s.HasData {
		return zero, false
	}
	v, ok := s.Data.(T)
	if !ok {
		return zero, false
	}
	return v, true
}
