package query_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Akwatiro/beach-monitor-spain/internal/query"
)

func newTestCache(t *testing.T, cfg query.Config) *query.Cache {
	t.Helper()
	if cfg.Retry == nil {
		cfg.Retry = query.NoRetry()
	}
	cfg.Logger = zerolog.Nop()
	cache := query.New(cfg)
	t.Cleanup(cache.Close)
	return cache
}

func value(v any) query.Fetcher {
	return func(context.Context) (any, error) { return v, nil }
}

// recorder collects listener snapshots.
type recorder struct {
	mu    sync.Mutex
	snaps []query.Snapshot
}

func (r *recorder) listen(s query.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) ordered() []query.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]query.Snapshot(nil), r.snaps...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func TestCache_SubscribeLoadsData(t *testing.T) {
	cache := newTestCache(t, query.Config{})

	sub, err := cache.Subscribe(query.NewKey("provinces"), value("Andalucía"), 0)
	require.NoError(t, err)

	snap, err := sub.Await(context.Background())
	require.NoError(t, err)

	assert.Equal(t, query.StatusSuccess, snap.Status)
	assert.False(t, snap.IsFetching)
	assert.False(t, snap.LastFetchedAt.IsZero())
	assert.Equal(t, 1, snap.Subscribers)

	data, ok := query.DataOf[string](snap)
	require.True(t, ok)
	assert.Equal(t, "Andalucía", data)
}

func TestCache_DeduplicatesInFlightRequests(t *testing.T) {
	metrics := query.NewMetrics(prometheus.NewRegistry())
	cache := newTestCache(t, query.Config{Metrics: metrics})

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		calls.Add(1)
		select {
		case <-release:
			return "ok", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	key := query.NewKey("system-status")
	first, err := cache.Subscribe(key, fetch, 0)
	require.NoError(t, err)
	second, err := cache.Subscribe(key, fetch, 0)
	require.NoError(t, err)

	require.NoError(t, first.Refetch())
	require.NoError(t, cache.Refetch(key))

	snap, ok := cache.Snapshot(key)
	require.True(t, ok)
	assert.True(t, snap.IsFetching)
	assert.Equal(t, query.StatusPending, snap.Status)

	close(release)
	snap, err = second.Await(context.Background())
	require.NoError(t, err)

	assert.Equal(t, query.StatusSuccess, snap.Status)
	assert.Equal(t, int32(1), calls.Load(), "one request serves every subscriber and coalesced refetch")
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Coalesced.WithLabelValues("system-status")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Fetches.WithLabelValues("system-status", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.InFlight.WithLabelValues("system-status")))
}

func TestCache_KeepsDataWhenRefreshFails(t *testing.T) {
	cache := newTestCache(t, query.Config{})

	var fail atomic.Bool
	fetch := func(context.Context) (any, error) {
		if fail.Load() {
			return nil, errors.New("backend unreachable")
		}
		return 21.5, nil
	}

	key := query.NewKey("beach-weather", 1)
	sub, err := cache.Subscribe(key, fetch, 0)
	require.NoError(t, err)
	_, err = sub.Await(context.Background())
	require.NoError(t, err)

	fail.Store(true)
	snap, err := cache.RefetchAndWait(context.Background(), key)
	require.NoError(t, err)

	assert.Equal(t, query.StatusError, snap.Status)
	assert.EqualError(t, snap.Err, "backend unreachable")
	assert.True(t, snap.HasData)
	assert.True(t, snap.Stale())
	assert.Equal(t, 21.5, snap.Data)
	assert.True(t, snap.LastFetchedAt.After(snap.DataUpdatedAt) || snap.LastFetchedAt.Equal(snap.DataUpdatedAt))

	fail.Store(false)
	snap, err = cache.RefetchAndWait(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, query.StatusSuccess, snap.Status)
	assert.NoError(t, snap.Err)
	assert.False(t, snap.Stale())
}

func TestCache_FirstLoadFailure(t *testing.T) {
	cache := newTestCache(t, query.Config{})

	sub, err := cache.Subscribe(query.NewKey("weather-alerts"), func(context.Context) (any, error) {
		return nil, errors.New("connection refused")
	}, 0)
	require.NoError(t, err)

	snap, err := sub.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, query.StatusError, snap.Status)
	assert.False(t, snap.HasData)
	assert.False(t, snap.Stale())
}

func TestCache_PollIntervalMeasuredFromCompletion(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := newTestCache(t, query.Config{Clock: clock})
	start := clock.Now()

	var (
		calls  atomic.Int32
		mu     sync.Mutex
		starts []time.Time
	)
	fetch := func(ctx context.Context) (any, error) {
		n := calls.Add(1)
		mu.Lock()
		starts = append(starts, clock.Now())
		mu.Unlock()

		select {
		case <-clock.After(2 * time.Second):
			return int(n), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	key := query.NewKey("beach-weather", 7)
	_, err := cache.Subscribe(key, fetch, 5*time.Minute)
	require.NoError(t, err)

	clock.BlockUntil(1) // response pending for 2s
	clock.Advance(2 * time.Second)
	clock.BlockUntil(1) // poll timer armed on completion

	snap, ok := cache.Snapshot(key)
	require.True(t, ok)
	assert.Equal(t, query.StatusSuccess, snap.Status)
	assert.True(t, start.Add(2*time.Second).Equal(snap.LastFetchedAt))

	// Five minutes after the first fetch started, but not after it completed.
	clock.Advance(5*time.Minute - time.Second)
	assert.Equal(t, int32(1), calls.Load())

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, start.Add(5*time.Minute+2*time.Second).Equal(starts[1]), "second fetch at %s", starts[1])
}

func TestCache_ManualRefetchRearmsInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := newTestCache(t, query.Config{Clock: clock})

	var calls atomic.Int32
	fetch := func(context.Context) (any, error) {
		return int(calls.Add(1)), nil
	}

	key := query.NewKey("system-status")
	sub, err := cache.Subscribe(key, fetch, 30*time.Second)
	require.NoError(t, err)
	_, err = sub.Await(context.Background())
	require.NoError(t, err)
	clock.BlockUntil(1)

	clock.Advance(20 * time.Second)
	_, err = cache.RefetchAndWait(context.Background(), key)
	require.NoError(t, err)
	clock.BlockUntil(1)
	require.Equal(t, int32(2), calls.Load())

	// The old deadline (30s after the first completion) no longer applies.
	clock.Advance(15 * time.Second)
	assert.Equal(t, int32(2), calls.Load())

	clock.Advance(15 * time.Second)
	require.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, time.Millisecond)
}

func TestCache_RetriesWithExponentialBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := newTestCache(t, query.Config{Clock: clock, Retry: &query.RetryConfig{
		MaxRetries:      3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
	}})

	var calls atomic.Int32
	fetch := func(context.Context) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("bad gateway")
		}
		return "recovered", nil
	}

	key := query.NewKey("weather-alerts")
	_, err := cache.Subscribe(key, fetch, 0)
	require.NoError(t, err)

	clock.BlockUntil(1) // waiting 1s before the first retry
	clock.Advance(999 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	clock.Advance(time.Millisecond)

	clock.BlockUntil(1) // waiting 2s before the second retry
	assert.Equal(t, int32(2), calls.Load())
	clock.Advance(2 * time.Second)

	require.Eventually(t, func() bool {
		snap, _ := cache.Snapshot(key)
		return snap.Status == query.StatusSuccess
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCache_PermanentErrorsAreNotRetried(t *testing.T) {
	errNotFound := errors.New("not found")
	cache := newTestCache(t, query.Config{Retry: &query.RetryConfig{
		MaxRetries:      3,
		InitialInterval: time.Hour,
		Retryable:       func(err error) bool { return !errors.Is(err, errNotFound) },
	}})

	var calls atomic.Int32
	sub, err := cache.Subscribe(query.NewKey("beach", 404), func(context.Context) (any, error) {
		calls.Add(1)
		return nil, errNotFound
	}, 0)
	require.NoError(t, err)

	snap, err := sub.Await(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, snap.Err, errNotFound)
	assert.Equal(t, int32(1), calls.Load())

	sub2, err := cache.Subscribe(query.NewKey("beach", 405), func(context.Context) (any, error) {
		calls.Add(1)
		return nil, query.Permanent(errors.New("gone"))
	}, 0)
	require.NoError(t, err)
	snap, err = sub2.Await(context.Background())
	require.NoError(t, err)
	assert.EqualError(t, snap.Err, "gone")
	assert.Equal(t, int32(2), calls.Load())
}

func TestCache_RequestTimeout(t *testing.T) {
	cache := newTestCache(t, query.Config{RequestTimeout: 20 * time.Millisecond})

	sub, err := cache.Subscribe(query.NewKey("beach-weather", 3), func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := sub.Await(ctx)
	require.NoError(t, err)

	assert.Equal(t, query.StatusError, snap.Status)
	assert.ErrorIs(t, snap.Err, context.DeadlineExceeded)
}

func TestCache_UnsubscribeDiscardsInFlightResult(t *testing.T) {
	metrics := query.NewMetrics(prometheus.NewRegistry())
	cache := query.New(query.Config{Retry: query.NoRetry(), Logger: zerolog.Nop(), Metrics: metrics})

	rec := &recorder{}
	cache.OnChange(rec.listen)

	release := make(chan struct{})
	key := query.NewKey("beach-weather", 9)
	sub, err := cache.Subscribe(key, func(context.Context) (any, error) {
		<-release // ignores cancellation on purpose
		return "stale", nil
	}, 0)
	require.NoError(t, err)

	sub.Unsubscribe()
	sub.Unsubscribe()
	close(release)

	require.Eventually(t, func() bool {
		_, ok := cache.Snapshot(key)
		return !ok
	}, time.Second, 5*time.Millisecond, "entry without data is dropped once its fetch returns")
	assert.Empty(t, cache.Keys())

	fresh, err := cache.Subscribe(key, value("fresh"), 0)
	require.NoError(t, err)
	snap, err := fresh.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", snap.Data)

	cache.Close()

	for _, s := range rec.ordered() {
		assert.NotEqual(t, "stale", s.Data)
	}
	snap, ok := cache.Snapshot(key)
	require.True(t, ok)
	assert.Equal(t, "fresh", snap.Data)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Discarded.WithLabelValues("beach-weather")))
}

func TestCache_ResubscribeJoinsAbandonedFetch(t *testing.T) {
	cache := newTestCache(t, query.Config{})

	var (
		calls    atomic.Int32
		inflight atomic.Int32
		peak     atomic.Int32
	)
	release := make(chan struct{})
	fetch := func(ctx context.Context) (any, error) {
		calls.Add(1)
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		select {
		case <-release:
			return "beaches", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	key := query.NewKey("beaches", 29)

	sub, err := cache.Subscribe(key, fetch, 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	sub.Unsubscribe()

	again, err := cache.Subscribe(key, fetch, 0)
	require.NoError(t, err)
	assert.True(t, again.Snapshot().IsFetching)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := again.Await(ctx)
	require.NoError(t, err)

	assert.Equal(t, "beaches", snap.Data)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), peak.Load())
}

func TestCache_AbandonedFetchIsNotRetried(t *testing.T) {
	cache := newTestCache(t, query.Config{Retry: &query.RetryConfig{
		MaxRetries:      3,
		InitialInterval: time.Hour,
	}})

	var calls atomic.Int32
	release := make(chan struct{})
	key := query.NewKey("beach-weather", 12)
	sub, err := cache.Subscribe(key, func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return nil, errors.New("upstream unavailable")
	}, 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	sub.Unsubscribe()
	close(release)

	require.Eventually(t, func() bool {
		_, ok := cache.Snapshot(key)
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_StaleTime(t *testing.T) {
	cache := newTestCache(t, query.Config{})

	var calls atomic.Int32
	fetch := func(context.Context) (any, error) {
		return int(calls.Add(1)), nil
	}
	key := query.NewKey("provinces")

	sub, err := cache.Subscribe(key, fetch, 0, query.WithStaleTime(query.Forever))
	require.NoError(t, err)
	_, err = sub.Await(context.Background())
	require.NoError(t, err)
	sub.Unsubscribe()

	again, err := cache.Subscribe(key, fetch, 0, query.WithStaleTime(query.Forever))
	require.NoError(t, err)
	snap := again.Snapshot()
	assert.False(t, snap.IsFetching)
	assert.Equal(t, 1, snap.Data)
	assert.Equal(t, int32(1), calls.Load(), "loaded once per cache lifetime")

	eager, err := cache.Subscribe(key, fetch, 0)
	require.NoError(t, err)
	snap, err = eager.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Data, "zero stale time refetches on subscribe")
}

func TestCache_ListenersSeeFetchLifecycle(t *testing.T) {
	cache := newTestCache(t, query.Config{})

	global := &recorder{}
	unregister := cache.OnChange(global.listen)
	local := &recorder{}

	key := query.NewKey("weather-alerts")
	sub, err := cache.Subscribe(key, value("alerts"), 0, query.WithListener(local.listen))
	require.NoError(t, err)
	_, err = sub.Await(context.Background())
	require.NoError(t, err)

	for _, rec := range []*recorder{global, local} {
		require.Eventually(t, func() bool { return len(rec.ordered()) == 2 }, time.Second, time.Millisecond)
		snaps := rec.ordered()
		assert.True(t, snaps[0].IsFetching)
		assert.Equal(t, query.StatusPending, snaps[0].Status)
		assert.False(t, snaps[1].IsFetching)
		assert.Equal(t, query.StatusSuccess, snaps[1].Status)
		assert.Equal(t, key, snaps[1].Key)
	}

	unregister()
	_, err = cache.RefetchAndWait(context.Background(), key)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(local.ordered()) == 4 }, time.Second, time.Millisecond)
	assert.Len(t, global.ordered(), 2)
}

func TestCache_EffectiveIntervalIsShortest(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := newTestCache(t, query.Config{Clock: clock})

	var calls atomic.Int32
	fetch := func(context.Context) (any, error) { return int(calls.Add(1)), nil }
	key := query.NewKey("beach-weather", 5)

	slow, err := cache.Subscribe(key, fetch, 10*time.Minute)
	require.NoError(t, err)
	_, err = slow.Await(context.Background())
	require.NoError(t, err)
	clock.BlockUntil(1)

	fast, err := cache.Subscribe(key, fetch, time.Minute, query.WithStaleTime(query.Forever))
	require.NoError(t, err)
	clock.BlockUntil(1)

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)

	_, err = fast.Await(context.Background())
	require.NoError(t, err)
	fast.Unsubscribe()
	clock.BlockUntil(1)

	clock.Advance(time.Minute)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCache_Errors(t *testing.T) {
	cache := query.New(query.Config{Logger: zerolog.Nop()})

	_, err := cache.Subscribe(query.NewKey("provinces"), nil, 0)
	assert.ErrorIs(t, err, query.ErrNoFetcher)

	assert.ErrorIs(t, cache.Refetch(query.NewKey("missing")), query.ErrUnknownKey)

	cache.Close()
	cache.Close()

	_, err = cache.Subscribe(query.NewKey("provinces"), value(1), 0)
	assert.ErrorIs(t, err, query.ErrClosed)
	assert.ErrorIs(t, cache.Refetch(query.NewKey("provinces")), query.ErrClosed)
}

func TestCache_RefetchAll(t *testing.T) {
	cache := newTestCache(t, query.Config{})

	var calls atomic.Int32
	fetch := func(context.Context) (any, error) { return int(calls.Add(1)), nil }

	for _, key := range []query.Key{query.NewKey("provinces"), query.NewKey("system-status")} {
		sub, err := cache.Subscribe(key, fetch, 0)
		require.NoError(t, err)
		_, err = sub.Await(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, 2, cache.RefetchAll())
	require.Eventually(t, func() bool { return calls.Load() == 4 }, time.Second, time.Millisecond)
}

func TestKey(t *testing.T) {
	key := query.NewKey("beach-weather", 12)
	assert.Equal(t, query.Key("beach-weather:12"), key)
	assert.Equal(t, "beach-weather", key.Kind())
	assert.Equal(t, []string{"12"}, key.Params())

	plain := query.NewKey("provinces")
	assert.Equal(t, "provinces", plain.Kind())
	assert.Nil(t, plain.Params())
}

func TestDataOf(t *testing.T) {
	_, ok := query.DataOf[int](query.Snapshot{})
	assert.False(t, ok)

	_, ok = query.DataOf[int](query.Snapshot{HasData: true, Data: "x"})
	assert.False(t, ok)

	v, ok := query.DataOf[int](query.Snapshot{HasData: true, Data: 4})
	assert.True(t, ok)
	assert.Equal(t, 4, v)
}
