package main

import (
	"github.com/rs/zerolog"

	"github.com/Akwatiro/beach-monitor-spain/internal/beachapi"
	"github.com/Akwatiro/beach-monitor-spain/internal/config"
	"github.com/Akwatiro/beach-monitor-spain/internal/dashboard"
	"github.com/Akwatiro/beach-monitor-spain/internal/provider/resilience"
	"github.com/Akwatiro/beach-monitor-spain/internal/query"
	"github.com/Akwatiro/beach-monitor-spain/internal/resolver"
)

// components is the data-fetching stack every command runs on.
type components struct {
	registry *resilience.Registry
	client   *beachapi.Client
	resolver *resolver.Resolver
	cache    *query.Cache
	dash     *dashboard.Dashboard
}

// newComponents builds the backend client, resolver, cache and dashboard.
// metrics may be nil.
func newComponents(cfg *config.Config, log zerolog.Logger, metrics *query.Metrics) *components {
	registry := resilience.NewRegistry(nil)

	httpConfig := resilience.DefaultClientConfig(beachapi.UpstreamName)
	httpConfig.Timeout = cfg.RequestTimeout
	httpConfig.Registry = registry
	httpConfig.CircuitBreaker.OnStateChange = resilience.LogStateChanges(log)

	client := beachapi.NewClient(beachapi.ClientConfig{
		BaseURL:    cfg.BeachAPIURL,
		HTTPClient: resilience.NewClient(httpConfig),
		Registry:   registry,
		Logger:     log.With().Str("component", "beachapi").Logger(),
	})

	res := resolver.New(resolver.Config{
		Lister:      client,
		ProvinceIDs: cfg.ProvinceIDs(),
		Concurrency: cfg.ResolverConcurrency,
		Logger:      log.With().Str("component", "resolver").Logger(),
	})

	cache := query.New(query.Config{
		Logger:         log.With().Str("component", "query").Logger(),
		RequestTimeout: cfg.RequestTimeout,
		Retry:          cfg.Retry(),
		Metrics:        metrics,
	})

	dash := dashboard.New(dashboard.Config{
		Cache:            cache,
		Backend:          client,
		Finder:           res,
		LeaseTTL:         cfg.ViewLeaseTTL,
		MaxLeasesPerKind: cfg.ViewMaxLeasesPerKind,
		Logger:           log.With().Str("component", "dashboard").Logger(),
	})

	return &components{
		registry: registry,
		client:   client,
		resolver: res,
		cache:    cache,
		dash:     dash,
	}
}

// Close releases every subscription and stops the cache.
func (c *components) Close() {
	c.dash.Close()
	c.cache.Close()
}
