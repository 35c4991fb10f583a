// Package api provides the HTTP API of the beach monitor dashboard.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Akwatiro/beach-monitor-spain/internal/api/handler"
	"github.com/Akwatiro/beach-monitor-spain/internal/api/middleware"
	"github.com/Akwatiro/beach-monitor-spain/internal/dashboard"
	"github.com/Akwatiro/beach-monitor-spain/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	RequireTLS  bool

	Dashboard *dashboard.Dashboard
	Registry  *resilience.Registry

	// Stream serves the change stream; the route is omitted when nil.
	Stream *handler.StreamHub

	// Gatherer backs GET /metrics; the route is omitted when nil.
	Gatherer prometheus.Gatherer

	// ViewWait bounds how long a view request waits for a first load.
	ViewWait time.Duration
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "beach-monitor"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Dashboard.Cache(), cfg.Registry)
	dashHandler := handler.NewDashboardHandler(cfg.Dashboard, cfg.ViewWait, cfg.Logger)

	refetchRateLimit := middleware.RateLimitByIP(middleware.RefetchRateLimit)   // 30 req/min
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit) // 300 req/min

	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Use(middleware.ContentTypeJSON)
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		r.Route("/dashboard", func(r chi.Router) {
			if cfg.Stream != nil {
				r.With(standardRateLimit).Get("/stream", cfg.Stream.ServeHTTP)
			}

			r.Group(func(r chi.Router) {
				r.Use(middleware.ContentTypeJSON)
				r.With(refetchRateLimit).Post("/refetch", dashHandler.Refetch)

				r.Group(func(r chi.Router) {
					r.Use(standardRateLimit)
					r.Get("/provinces", dashHandler.Provinces)
					r.Get("/provinces/{provinceId}/beaches", dashHandler.ProvinceBeaches)
					r.Get("/provinces/{provinceId}/weather", dashHandler.ProvinceWeather)
					r.Get("/beaches/{beachId}", dashHandler.Beach)
					r.Get("/beaches/{beachId}/weather", dashHandler.BeachWeather)
					r.Get("/system-status", dashHandler.SystemStatus)
					r.Get("/alerts", dashHandler.Alerts)
				})
			})
		})
	})

	return r
}
