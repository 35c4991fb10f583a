// Package query keeps the latest backend data per key and keeps it fresh:
// it deduplicates concurrent requests, polls subscribed keys on an interval
// measured from the completion of the previous fetch, retries failures with
// exponential backoff, and keeps the last good data visible when a refresh fails.
package query

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Cache errors.
var (
	ErrClosed     = errors.New("query cache closed")
	ErrUnknownKey = errors.New("no live subscription for key")
	ErrNoFetcher  = errors.New("fetcher is required")

	errAbandoned = errors.New("fetch abandoned")
)

// Forever as a stale time means data, once loaded, is never refetched on subscribe.
const Forever time.Duration = math.MaxInt64

// Fetcher loads the data for one key. It must honour ctx cancellation.
type Fetcher func(ctx context.Context) (any, error)

// Typed adapts a typed loader to a Fetcher.
func Typed[T any](fn func(ctx context.Context) (T, error)) Fetcher {
	return func(ctx context.Context) (any, error) {
		return fn(ctx)
	}
}

// Listener receives entry snapshots when a fetch starts and when it settles.
type Listener func(Snapshot)

// Config holds configuration for the cache.
type Config struct {
	// Clock drives polling and retry timers (default: real clock).
	Clock clockwork.Clock

	// Logger for cache operations.
	Logger zerolog.Logger

	// RequestTimeout bounds each fetch attempt (default: 10 seconds).
	RequestTimeout time.Duration

	// Retry controls retries of failed fetches. Nil uses DefaultRetryConfig.
	Retry *RetryConfig

	// Metrics records cache activity (optional).
	Metrics *Metrics
}

// Cache is an in-memory, per-key store of backend data with polling.
type Cache struct {
	clock   clockwork.Clock
	logger  zerolog.Logger
	timeout time.Duration
	retry   RetryConfig
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	closed         bool
	entries        map[Key]*entry
	listeners      map[uint64]Listener
	nextListenerID uint64
	// versions are drawn from one counter so a key that is dropped and
	// recreated never repeats a version listeners have already seen
	version uint64
}

type entry struct {
	key     Key
	fetcher Fetcher

	status        Status
	data          any
	hasData       bool
	err           error
	lastFetchedAt time.Time
	dataUpdatedAt time.Time
	version       uint64

	// issued numbers fetches; dataSeq and settledSeq are the newest fetches
	// whose data and outcome were applied. Fetches up to discardUpTo were
	// abandoned when the last subscriber left. An abandoned fetch keeps the
	// entry in flight until it returns.
	issued      uint64
	dataSeq     uint64
	settledSeq  uint64
	discardUpTo uint64

	inflight    bool
	done        chan struct{}
	cancelFetch context.CancelFunc
	startedAt   time.Time

	pollStop  chan struct{}
	pollTimer clockwork.Timer
	subs      map[*Subscription]struct{}
}

func (c *Cache) bumpLocked(e *entry) {
	c.version++
	e.version = c.version
}

// New creates a cache. Call Close to stop polling and in-flight fetches.
func New(cfg Config) *Cache {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	retry := DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Cache{
		clock:     clock,
		logger:    cfg.Logger,
		timeout:   timeout,
		retry:     retry,
		metrics:   cfg.Metrics,
		ctx:       ctx,
		cancel:    cancel,
		entries:   make(map[Key]*entry),
		listeners: make(map[uint64]Listener),
	}
}

// Subscribe registers interest in key. The fetch starts immediately unless one
// is already in flight or the entry holds data younger than the stale time.
// While subscribed, a positive interval refetches the key that long after each
// completed fetch; zero disables polling.
func (c *Cache) Subscribe(key Key, fetch Fetcher, interval time.Duration, opts ...SubscribeOption) (*Subscription, error) {
	if fetch == nil {
		return nil, ErrNoFetcher
	}

	sub := &Subscription{cache: c, key: key, interval: interval}
	for _, opt := range opts {
		opt(sub)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}

	e, ok := c.entries[key]
	if !ok {
		e = &entry{key: key, status: StatusPending, subs: make(map[*Subscription]struct{})}
		c.entries[key] = e
	}
	e.fetcher = fetch
	e.subs[sub] = struct{}{}

	var notify []notification
	switch {
	case e.inflight:
		// joins the running fetch, adopting it again if it was abandoned
		if e.discardUpTo >= e.issued {
			e.discardUpTo = e.issued - 1
		}
	case e.freshFor(sub.staleTime, c.clock.Now()):
		c.armPollLocked(e, e.remainingInterval(c.clock.Now()))
	default:
		notify = c.startFetchLocked(e)
	}
	snap := e.snapshot()
	c.mu.Unlock()

	c.metrics.subscribed(key.Kind(), 1)
	c.logger.Debug().Str("key", string(key)).Dur("interval", interval).Msg("subscribed")

	if sub.listener != nil && len(notify) == 0 {
		sub.listener(snap)
	}
	dispatch(notify)

	return sub, nil
}

// Snapshot returns the current state of key, including entries kept after
// their last subscriber left.
func (c *Cache) Snapshot(key Key) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

// Keys returns the keys with at least one live subscription.
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]Key, 0, len(c.entries))
	for k, e := range c.entries {
		if len(e.subs) > 0 {
			keys = append(keys, k)
		}
	}
	return keys
}

// OnChange registers a listener for every entry. The returned func removes it.
func (c *Cache) OnChange(l Listener) (unregister func()) {
	c.mu.Lock()
	id := c.nextListenerID
	c.nextListenerID++
	c.listeners[id] = l
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Refetch starts a fetch of a subscribed key now. A request made while a
// fetch is in flight is coalesced into it.
func (c *Cache) Refetch(key Key) error {
	_, err := c.refetch(key)
	return err
}

// RefetchAndWait refetches key and waits for the fetch to settle.
func (c *Cache) RefetchAndWait(ctx context.Context, key Key) (Snapshot, error) {
	done, err := c.refetch(key)
	if err != nil {
		return Snapshot{}, err
	}
	return c.wait(ctx, key, done)
}

// RefetchAll refetches every subscribed key and returns how many were triggered.
func (c *Cache) RefetchAll() int {
	n := 0
	for _, key := range c.Keys() {
		if err := c.Refetch(key); err == nil {
			n++
		}
	}
	return n
}

// Close stops polling, cancels in-flight fetches and waits for them to return.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, e := range c.entries {
		e.stopPoll()
		if e.cancelFetch != nil {
			e.cancelFetch()
		}
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Cache) refetch(key Key) (<-chan struct{}, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := c.entries[key]
	if !ok || len(e.subs) == 0 {
		c.mu.Unlock()
		return nil, ErrUnknownKey
	}
	if e.inflight {
		done := e.done
		c.mu.Unlock()
		c.metrics.coalesced(key.Kind())
		return done, nil
	}
	notify := c.startFetchLocked(e)
	done := e.done
	c.mu.Unlock()

	dispatch(notify)
	return done, nil
}

// wait blocks until done is closed, then returns the entry snapshot.
func (c *Cache) wait(ctx context.Context, key Key, done <-chan struct{}) (Snapshot, error) {
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		}
	}
	snap, ok := c.Snapshot(key)
	if !ok {
		return Snapshot{}, ErrUnknownKey
	}
	return snap, nil
}

// startFetchLocked issues the next fetch for e. c.mu must be held.
func (c *Cache) startFetchLocked(e *entry) []notification {
	e.stopPoll()
	e.issued++
	seq := e.issued

	ctx, cancel := context.WithCancel(c.ctx)
	e.inflight = true
	e.done = make(chan struct{})
	e.cancelFetch = cancel
	e.startedAt = c.clock.Now()
	c.bumpLocked(e)

	c.metrics.fetchStarted(e.key.Kind())
	c.logger.Debug().Str("key", string(e.key)).Uint64("seq", seq).Msg("fetch started")

	c.wg.Add(1)
	go c.run(ctx, cancel, e, seq, e.fetcher)

	return c.notificationsLocked(e)
}

func (c *Cache) run(ctx context.Context, cancel context.CancelFunc, e *entry, seq uint64, fetch Fetcher) {
	defer c.wg.Done()
	defer cancel()

	data, err := c.fetchWithRetry(ctx, e.key, fetch, func() bool { return c.abandoned(e, seq) })
	c.complete(e, seq, data, err)
}

// abandoned reports whether fetch seq of e will be discarded.
func (c *Cache) abandoned(e *entry, seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return seq <= e.discardUpTo
}

// fetchWithRetry runs fetch with a per-attempt timeout, retrying per c.retry.
// Attempts stop once abandoned reports true; a running attempt is never aborted.
func (c *Cache) fetchWithRetry(ctx context.Context, key Key, fetch Fetcher, abandoned func() bool) (any, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(c.retry.policy(c.clock), c.retry.MaxRetries), ctx)

	var data any
	operation := func() error {
		if abandoned() {
			return backoff.Permanent(errAbandoned)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		v, err := fetch(attemptCtx)
		if err != nil {
			if ctx.Err() != nil || abandoned() {
				return backoff.Permanent(err)
			}
			if c.retry.Retryable != nil && !c.retry.Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		data = v
		return nil
	}

	notify := func(err error, next time.Duration) {
		c.metrics.retried(key.Kind())
		c.logger.Debug().Err(err).Str("key", string(key)).Dur("retry_in", next).Msg("fetch attempt failed, retrying")
	}

	if err := backoff.RetryNotifyWithTimer(operation, policy, notify, &clockTimer{clock: c.clock}); err != nil {
		return nil, err
	}
	return data, nil
}

// complete applies the outcome of fetch seq to e. Outcomes of fetches older
// than one already applied are ignored, and so are all outcomes for keys
// nobody is subscribed to anymore.
func (c *Cache) complete(e *entry, seq uint64, data any, err error) {
	c.mu.Lock()

	now := c.clock.Now()
	latest := seq == e.issued && e.inflight
	took := now.Sub(e.startedAt)
	if latest {
		e.inflight = false
		e.cancelFetch = nil
		close(e.done)
	}

	if c.closed || c.entries[e.key] != e || len(e.subs) == 0 || seq <= e.discardUpTo {
		if latest && !c.closed && c.entries[e.key] == e && len(e.subs) == 0 && !e.hasData {
			delete(c.entries, e.key)
		}
		c.mu.Unlock()
		if latest {
			c.metrics.fetchDiscarded(e.key.Kind())
		}
		c.logger.Debug().Str("key", string(e.key)).Uint64("seq", seq).Msg("fetch result discarded")
		return
	}

	if err == nil {
		if seq > e.dataSeq {
			e.data = data
			e.hasData = true
			e.dataSeq = seq
			e.dataUpdatedAt = now
		}
		if seq >= e.settledSeq {
			e.status = StatusSuccess
			e.err = nil
			e.settledSeq = seq
			e.lastFetchedAt = now
		}
	} else if seq > e.settledSeq {
		e.status = StatusError
		e.err = err
		e.settledSeq = seq
		e.lastFetchedAt = now
	}
	c.bumpLocked(e)

	if latest {
		c.armPollLocked(e, e.interval())
	}
	hasData := e.hasData
	notify := c.notificationsLocked(e)
	c.mu.Unlock()

	if latest {
		c.metrics.fetchSettled(e.key.Kind(), err, took)
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("key", string(e.key)).Uint64("seq", seq).Bool("has_data", hasData).Msg("fetch failed")
	} else {
		c.logger.Debug().Str("key", string(e.key)).Uint64("seq", seq).Dur("duration", took).Msg("fetch succeeded")
	}

	dispatch(notify)
}

// armPollLocked schedules the next fetch of e after d. c.mu must be held.
func (c *Cache) armPollLocked(e *entry, d time.Duration) {
	e.stopPoll()
	if c.closed || e.interval() <= 0 {
		return
	}
	if d < 0 {
		d = 0
	}

	stop := make(chan struct{})
	timer := c.clock.NewTimer(d)
	e.pollStop = stop
	e.pollTimer = timer

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer timer.Stop()

		select {
		case <-timer.Chan():
			c.poll(e, stop)
		case <-stop:
		case <-c.ctx.Done():
		}
	}()
}

func (c *Cache) poll(e *entry, stop chan struct{}) {
	c.mu.Lock()
	if c.closed || e.pollStop != stop || c.entries[e.key] != e || len(e.subs) == 0 || e.inflight {
		c.mu.Unlock()
		return
	}
	e.pollStop = nil
	e.pollTimer = nil
	notify := c.startFetchLocked(e)
	c.mu.Unlock()

	dispatch(notify)
}

// unsubscribe removes sub. When the last subscriber leaves, polling stops and
// the result of any in-flight fetch is discarded. The fetch itself runs to
// completion, so a new subscriber joins it instead of starting another.
func (c *Cache) unsubscribe(sub *Subscription) {
	c.mu.Lock()
	e, ok := c.entries[sub.key]
	if !ok {
		c.mu.Unlock()
		return
	}
	if _, ok := e.subs[sub]; !ok {
		c.mu.Unlock()
		return
	}
	delete(e.subs, sub)

	if len(e.subs) == 0 {
		e.stopPoll()
		if e.inflight {
			e.discardUpTo = e.issued
		} else if !e.hasData {
			delete(c.entries, e.key)
		}
		c.bumpLocked(e)
	} else if e.pollStop != nil {
		// the departing subscriber may have had the shortest interval
		c.armPollLocked(e, e.remainingInterval(c.clock.Now()))
	}
	c.mu.Unlock()

	c.metrics.subscribed(sub.key.Kind(), -1)
	c.logger.Debug().Str("key", string(sub.key)).Msg("unsubscribed")
}

type notification struct {
	listener Listener
	snapshot Snapshot
}

// notificationsLocked pairs the current snapshot of e with every interested
// listener. c.mu must be held; dispatch after unlocking.
func (c *Cache) notificationsLocked(e *entry) []notification {
	snap := e.snapshot()
	out := make([]notification, 0, len(e.subs)+len(c.listeners))
	for sub := range e.subs {
		if sub.listener != nil {
			out = append(out, notification{listener: sub.listener, snapshot: snap})
		}
	}
	for _, l := range c.listeners {
		out = append(out, notification{listener: l, snapshot: snap})
	}
	return out
}

func dispatch(notify []notification) {
	for _, n := range notify {
		n.listener(n.snapshot)
	}
}

func (e *entry) snapshot() Snapshot {
	return Snapshot{
		Key:           e.key,
		Status:        e.status,
		Data:          e.data,
		HasData:       e.hasData,
		Err:           e.err,
		IsFetching:    e.inflight,
		LastFetchedAt: e.lastFetchedAt,
		DataUpdatedAt: e.dataUpdatedAt,
		Subscribers:   len(e.subs),
		Version:       e.version,
	}
}

// interval is the smallest positive polling interval among live subscriptions.
func (e *entry) interval() time.Duration {
	var shortest time.Duration
	for sub := range e.subs {
		if sub.interval > 0 && (shortest == 0 || sub.interval < shortest) {
			shortest = sub.interval
		}
	}
	return shortest
}

// remainingInterval is the time left until the next poll measured from the last completion.
func (e *entry) remainingInterval(now time.Time) time.Duration {
	return e.interval() - now.Sub(e.lastFetchedAt)
}

func (e *entry) freshFor(staleTime time.Duration, now time.Time) bool {
	if !e.hasData || e.status == StatusError {
		return false
	}
	if staleTime == Forever {
		return true
	}
	return now.Sub(e.dataUpdatedAt) < staleTime
}

func (e *entry) stopPoll() {
	if e.pollTimer != nil {
		e.pollTimer.Stop()
		e.pollTimer = nil
	}
	if e.pollStop != nil {
		close(e.pollStop)
		e.pollStop = nil
	}
}
