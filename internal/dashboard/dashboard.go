package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/Akwatiro/beach-monitor-spain/internal/beach"
	"github.com/Akwatiro/beach-monitor-spain/internal/query"
	"github.com/Akwatiro/beach-monitor-spain/internal/resolver"
)

// Backend is the beach API as used by the dashboard.
type Backend interface {
	GetProvinces(ctx context.Context) (*beach.ProvinceList, error)
	GetBeachesByProvince(ctx context.Context, provinceID int) (*beach.BeachList, error)
	GetBeachWeather(ctx context.Context, beachID int) (*beach.WeatherReading, error)
	GetProvinceWeather(ctx context.Context, provinceID int) (*beach.ProvinceWeather, error)
	GetSystemStatus(ctx context.Context) (*beach.SystemStatus, error)
	GetWeatherAlerts(ctx context.Context) (*beach.AlertList, error)
}

// BeachFinder resolves a beach by id alone.
type BeachFinder interface {
	FindBeach(ctx context.Context, beachID int) (*beach.Beach, error)
}

// DefaultLeaseTTL is how long a remotely viewed key stays subscribed without being viewed again.
const DefaultLeaseTTL = 10 * time.Minute

// DefaultMaxLeasesPerKind bounds the live leases of one key kind.
const DefaultMaxLeasesPerKind = 200

// ErrTooManyLeases is returned when a new key cannot be leased because its
// kind already holds the maximum number of leases.
var ErrTooManyLeases = errors.New("too many leased keys")

// Config holds configuration for the dashboard.
type Config struct {
	Cache   *query.Cache
	Backend Backend
	Finder  BeachFinder

	// Clock expires leases (default: real clock).
	Clock clockwork.Clock

	// LeaseTTL is the idle time after which a leased key is unsubscribed.
	LeaseTTL time.Duration

	// MaxLeasesPerKind caps live leases per key kind (default: DefaultMaxLeasesPerKind).
	MaxLeasesPerKind int

	Logger zerolog.Logger
}

type lease struct {
	sub     *query.Subscription
	expires time.Time
}

// Dashboard subscribes dashboard keys to the cache with their policy.
type Dashboard struct {
	cache     *query.Cache
	backend   Backend
	finder    BeachFinder
	clock     clockwork.Clock
	leaseTTL  time.Duration
	maxLeases int
	logger    zerolog.Logger

	mu      sync.Mutex
	closed  bool
	leases  map[query.Key]*lease
	perKind map[string]int
	pinned  []*query.Subscription
}

// New creates a dashboard.
func New(cfg Config) *Dashboard {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ttl := cfg.LeaseTTL
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	maxLeases := cfg.MaxLeasesPerKind
	if maxLeases <= 0 {
		maxLeases = DefaultMaxLeasesPerKind
	}

	return &Dashboard{
		cache:     cfg.Cache,
		backend:   cfg.Backend,
		finder:    cfg.Finder,
		clock:     clock,
		leaseTTL:  ttl,
		maxLeases: maxLeases,
		logger:    cfg.Logger,
		leases:    make(map[query.Key]*lease),
		perKind:   make(map[string]int),
	}
}

// Cache returns the underlying query cache.
func (d *Dashboard) Cache() *query.Cache {
	return d.cache
}

// Fetcher returns the loader of a dashboard key.
func (d *Dashboard) Fetcher(key query.Key) (query.Fetcher, error) {
	kind, id, err := parseKey(key)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindProvinces:
		return query.Typed(d.backend.GetProvinces), nil
	case KindBeaches:
		return query.Typed(func(ctx context.Context) (*beach.BeachList, error) {
			return d.backend.GetBeachesByProvince(ctx, id)
		}), nil
	case KindBeach:
		return query.Typed(func(ctx context.Context) (*beach.Beach, error) {
			b, err := d.finder.FindBeach(ctx, id)
			if errors.Is(err, resolver.ErrNotFound) {
				return nil, query.Permanent(err)
			}
			return b, err
		}), nil
	case KindBeachWeather:
		return query.Typed(func(ctx context.Context) (*beach.WeatherReading, error) {
			return d.backend.GetBeachWeather(ctx, id)
		}), nil
	case KindProvinceWeather:
		return query.Typed(func(ctx context.Context) (*beach.ProvinceWeather, error) {
			return d.backend.GetProvinceWeather(ctx, id)
		}), nil
	case KindSystemStatus:
		return query.Typed(d.backend.GetSystemStatus), nil
	case KindAlerts:
		return query.Typed(d.backend.GetWeatherAlerts), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidKey, string(key))
}

// Subscribe subscribes key with its policy. The caller owns the subscription.
func (d *Dashboard) Subscribe(key query.Key, opts ...query.SubscribeOption) (*query.Subscription, error) {
	fetch, err := d.Fetcher(key)
	if err != nil {
		return nil, err
	}
	policy, _ := PolicyFor(key.Kind())

	opts = append([]query.SubscribeOption{query.WithStaleTime(policy.StaleTime)}, opts...)
	return d.cache.Subscribe(key, fetch, policy.Interval, opts...)
}

// Pin subscribes keys for the lifetime of the dashboard.
func (d *Dashboard) Pin(keys ...query.Key) error {
	for _, key := range keys {
		sub, err := d.Subscribe(key)
		if err != nil {
			return fmt.Errorf("pinning %s: %w", key, err)
		}
		d.mu.Lock()
		d.pinned = append(d.pinned, sub)
		d.mu.Unlock()
	}
	return nil
}

// Touch subscribes key if needed and extends its lease. A new key fails with
// ErrTooManyLeases while its kind is at capacity.
func (d *Dashboard) Touch(key query.Key) (*query.Subscription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, query.ErrClosed
	}

	expires := d.clock.Now().Add(d.leaseTTL)
	if l, ok := d.leases[key]; ok {
		l.expires = expires
		return l.sub, nil
	}
	kind := key.Kind()
	if d.perKind[kind] >= d.maxLeases {
		d.logger.Warn().Str("key", string(key)).Int("leases", d.perKind[kind]).Msg("lease limit reached")
		return nil, fmt.Errorf("%w: %s", ErrTooManyLeases, kind)
	}

	sub, err := d.Subscribe(key)
	if err != nil {
		return nil, err
	}
	d.leases[key] = &lease{sub: sub, expires: expires}
	d.perKind[kind]++
	d.logger.Debug().Str("key", string(key)).Time("expires", expires).Msg("lease acquired")
	return sub, nil
}

// Visit leases key like Touch. Visiting a key that is already leased
// refetches it once its last fetch is older than both its stale time and its
// poll interval, so unpolled keys are reloaded on every visit. Keys loaded
// once per session are never refetched.
func (d *Dashboard) Visit(key query.Key) (*query.Subscription, error) {
	d.mu.Lock()
	_, leased := d.leases[key]
	d.mu.Unlock()

	sub, err := d.Touch(key)
	if err != nil || !leased {
		return sub, err
	}

	policy, _ := PolicyFor(key.Kind())
	if policy.StaleTime == query.Forever {
		return sub, nil
	}
	snap := sub.Snapshot()
	if snap.IsFetching {
		return sub, nil
	}
	threshold := max(policy.StaleTime, policy.Interval)
	if !snap.LastFetchedAt.IsZero() && d.clock.Since(snap.LastFetchedAt) < threshold {
		return sub, nil
	}
	if err := sub.Refetch(); err != nil {
		d.logger.Debug().Err(err).Str("key", string(key)).Msg("revisit refetch skipped")
	} else {
		d.logger.Debug().Str("key", string(key)).Msg("refetching stale key on revisit")
	}
	return sub, nil
}

// View visits key and returns its view. While the first load is still in
// flight it waits up to wait for it to settle.
func (d *Dashboard) View(ctx context.Context, key query.Key, wait time.Duration) (View, error) {
	sub, err := d.Visit(key)
	if err != nil {
		return View{}, err
	}

	snap := sub.Snapshot()
	if !snap.HasData && snap.IsFetching && wait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		if s, err := sub.Await(waitCtx); err == nil {
			snap = s
		} else {
			snap = sub.Snapshot()
		}
	}
	return ViewOf(snap), nil
}

// Refetch leases key and triggers a manual refetch.
func (d *Dashboard) Refetch(key query.Key) error {
	sub, err := d.Touch(key)
	if err != nil {
		return err
	}
	return sub.Refetch()
}

// Sweep unsubscribes leases that expired and returns how many were released.
func (d *Dashboard) Sweep() int {
	now := d.clock.Now()

	d.mu.Lock()
	var expired []*query.Subscription
	for key, l := range d.leases {
		if !now.Before(l.expires) {
			expired = append(expired, l.sub)
			delete(d.leases, key)
			d.perKind[key.Kind()]--
		}
	}
	d.mu.Unlock()

	for _, sub := range expired {
		sub.Unsubscribe()
		d.logger.Debug().Str("key", string(sub.Key())).Msg("lease expired")
	}
	return len(expired)
}

// Leased returns the number of live leases.
func (d *Dashboard) Leased() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.leases)
}

// Run sweeps expired leases until ctx is done.
func (d *Dashboard) Run(ctx context.Context) {
	ticker := d.clock.NewTicker(d.leaseTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := d.Sweep(); n > 0 {
				d.logger.Info().Int("released", n).Msg("released idle subscriptions")
			}
		}
	}
}

// Close releases every lease and pinned subscription.
func (d *Dashboard) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	subs := d.pinned
	d.pinned = nil
	for key, l := range d.leases {
		subs = append(subs, l.sub)
		delete(d.leases, key)
	}
	clear(d.perKind)
	d.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
}
