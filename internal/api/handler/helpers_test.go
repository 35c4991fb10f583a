package handler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Akwatiro/beach-monitor-spain/internal/api/handler"
	"github.com/Akwatiro/beach-monitor-spain/internal/beach"
	"github.com/Akwatiro/beach-monitor-spain/internal/dashboard"
	"github.com/Akwatiro/beach-monitor-spain/internal/query"
	"github.com/Akwatiro/beach-monitor-spain/internal/resolver"
)

type stubBackend struct {
	mu     sync.Mutex
	status beach.OverallStatus
}

func (s *stubBackend) GetProvinces(_ context.Context) (*beach.ProvinceList, error) {
	return &beach.ProvinceList{Provinces: []beach.Province{{ID: 1, Name: "Málaga", BeachesCount: 1}}}, nil
}

func (s *stubBackend) GetBeachesByProvince(_ context.Context, provinceID int) (*beach.BeachList, error) {
	if provinceID != 1 {
		return &beach.BeachList{ProvinceID: provinceID}, nil
	}
	return &beach.BeachList{ProvinceID: 1, Beaches: []beach.Beach{{ID: 3, Name: "El Palo"}}}, nil
}

func (s *stubBackend) GetBeachWeather(_ context.Context, beachID int) (*beach.WeatherReading, error) {
	return &beach.WeatherReading{BeachID: beachID, UVIndex: 9}, nil
}

func (s *stubBackend) GetProvinceWeather(_ context.Context, provinceID int) (*beach.ProvinceWeather, error) {
	return &beach.ProvinceWeather{ProvinceID: provinceID, ProvinceName: "Málaga"}, nil
}

func (s *stubBackend) GetSystemStatus(_ context.Context) (*beach.SystemStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := s.status
	if status == "" {
		status = beach.OverallHealthy
	}
	return &beach.SystemStatus{System: beach.SystemHealth{OverallStatus: status}}, nil
}

func (s *stubBackend) GetWeatherAlerts(_ context.Context) (*beach.AlertList, error) {
	return &beach.AlertList{}, nil
}

type testEnv struct {
	backend *stubBackend
	cache   *query.Cache
	dash    *dashboard.Dashboard
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	backend := &stubBackend{}
	clock := clockwork.NewFakeClock()
	cache := query.New(query.Config{Clock: clock, Retry: query.NoRetry(), Logger: zerolog.Nop()})
	t.Cleanup(cache.Close)

	dash := dashboard.New(dashboard.Config{
		Cache:   cache,
		Backend: backend,
		Finder:  resolver.New(resolver.Config{Lister: backend}),
		Clock:   clock,
	})
	t.Cleanup(dash.Close)

	return &testEnv{backend: backend, cache: cache, dash: dash}
}

// load subscribes key and waits for its first fetch to settle.
func (e *testEnv) load(t *testing.T, key query.Key) {
	t.Helper()
	sub, err := e.dash.Touch(key)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = sub.Await(ctx)
	require.NoError(t, err)
}

func (e *testEnv) dashboardRouter() chi.Router {
	h := handler.NewDashboardHandler(e.dash, time.Second, zerolog.Nop())
	r := chi.NewRouter()
	r.Get("/provinces", h.Provinces)
	r.Get("/provinces/{provinceId}/beaches", h.ProvinceBeaches)
	r.Get("/provinces/{provinceId}/weather", h.ProvinceWeather)
	r.Get("/beaches/{beachId}", h.Beach)
	r.Get("/beaches/{beachId}/weather", h.BeachWeather)
	r.Get("/system-status", h.SystemStatus)
	r.Get("/alerts", h.Alerts)
	r.Post("/refetch", h.Refetch)
	return r
}
