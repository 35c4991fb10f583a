package query

import (
	"context"
	"sync"
	"time"
)

// SubscribeOption customises a subscription.
type SubscribeOption func(*Subscription)

// WithStaleTime keeps data younger than d from being refetched on subscribe.
// Use Forever for data that is loaded once per cache lifetime.
func WithStaleTime(d time.Duration) SubscribeOption {
	return func(s *Subscription) {
		s.staleTime = d
	}
}

// WithListener receives the entry snapshot on subscribe and on every fetch start and settle.
func WithListener(l Listener) SubscribeOption {
	return func(s *Subscription) {
		s.listener = l
	}
}

// Subscription is one consumer's interest in a key.
type Subscription struct {
	cache     *Cache
	key       Key
	interval  time.Duration
	staleTime time.Duration
	listener  Listener
	once      sync.Once
}

// Key returns the subscribed key.
func (s *Subscription) Key() Key {
	return s.key
}

// Interval returns the polling interval requested by this subscription.
func (s *Subscription) Interval() time.Duration {
	return s.interval
}

// Snapshot returns the current state of the subscribed key.
func (s *Subscription) Snapshot() Snapshot {
	snap, _ := s.cache.Snapshot(s.key)
	return snap
}

// Refetch triggers a manual refetch, coalesced into any fetch in flight.
func (s *Subscription) Refetch() error {
	return s.cache.Refetch(s.key)
}

// Await waits for the fetch in flight, if any, and returns the resulting snapshot.
func (s *Subscription) Await(ctx context.Context) (Snapshot, error) {
	s.cache.mu.Lock()
	var done <-chan struct{}
	if e, ok := s.cache.entries[s.key]; ok && e.inflight {
		done = e.done
	}
	s.cache.mu.Unlock()

	return s.cache.wait(ctx, s.key, done)
}

// Unsubscribe ends the subscription. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cache.unsubscribe(s)
	})
}
