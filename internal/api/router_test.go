package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Akwatiro/beach-monitor-spain/internal/api"
	"github.com/Akwatiro/beach-monitor-spain/internal/api/handler"
	"github.com/Akwatiro/beach-monitor-spain/internal/api/middleware"
	"github.com/Akwatiro/beach-monitor-spain/internal/api/models"
	"github.com/Akwatiro/beach-monitor-spain/internal/beach"
	"github.com/Akwatiro/beach-monitor-spain/internal/dashboard"
	"github.com/Akwatiro/beach-monitor-spain/internal/provider/resilience"
	"github.com/Akwatiro/beach-monitor-spain/internal/query"
	"github.com/Akwatiro/beach-monitor-spain/internal/resolver"
)

type memoryBackend struct{}

func (memoryBackend) GetProvinces(_ context.Context) (*beach.ProvinceList, error) {
	return &beach.ProvinceList{Provinces: []beach.Province{{ID: 2, Name: "Cádiz", BeachesCount: 1}}}, nil
}

func (memoryBackend) GetBeachesByProvince(_ context.Context, provinceID int) (*beach.BeachList, error) {
	if provinceID != 2 {
		return &beach.BeachList{ProvinceID: provinceID}, nil
	}
	return &beach.BeachList{ProvinceID: 2, Beaches: []beach.Beach{{ID: 7, Name: "La Caleta"}}}, nil
}

func (memoryBackend) GetBeachWeather(_ context.Context, beachID int) (*beach.WeatherReading, error) {
	return &beach.WeatherReading{BeachID: beachID, UVIndex: 1}, nil
}

func (memoryBackend) GetProvinceWeather(_ context.Context, provinceID int) (*beach.ProvinceWeather, error) {
	return &beach.ProvinceWeather{ProvinceID: provinceID, ProvinceName: "Cádiz"}, nil
}

func (memoryBackend) GetSystemStatus(_ context.Context) (*beach.SystemStatus, error) {
	return &beach.SystemStatus{System: beach.SystemHealth{OverallStatus: beach.OverallHealthy}}, nil
}

func (memoryBackend) GetWeatherAlerts(_ context.Context) (*beach.AlertList, error) {
	return &beach.AlertList{}, nil
}

type testServer struct {
	router http.Handler
	dash   *dashboard.Dashboard
	hub    *handler.StreamHub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	reg := prometheus.NewRegistry()
	cache := query.New(query.Config{
		Clock:   clockwork.NewFakeClock(),
		Retry:   query.NoRetry(),
		Logger:  zerolog.Nop(),
		Metrics: query.NewMetrics(reg),
	})
	t.Cleanup(cache.Close)

	backend := memoryBackend{}
	dash := dashboard.New(dashboard.Config{
		Cache:   cache,
		Backend: backend,
		Finder:  resolver.New(resolver.Config{Lister: backend}),
	})
	t.Cleanup(dash.Close)

	hub := handler.NewStreamHub(cache, dash, zerolog.Nop())
	t.Cleanup(hub.Close)

	router := api.NewRouter(api.RouterConfig{
		Version:   "test",
		BuildTime: "2026-01-01T00:00:00Z",
		Logger:    zerolog.New(io.Discard),
		Metrics:   middleware.NewMetrics(reg),
		Dashboard: dash,
		Registry:  resilience.NewRegistry(nil),
		Stream:    hub,
		Gatherer:  reg,
		ViewWait:  time.Second,
	})
	return &testServer{router: router, dash: dash, hub: hub}
}

func (s *testServer) do(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, http.NoBody)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestRouter_HealthCheck(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(http.MethodGet, "/v1/ops/health")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
}

func TestRouter_ReadinessFollowsProvinces(t *testing.T) {
	srv := newTestServer(t)

	assert.Equal(t, http.StatusServiceUnavailable, srv.do(http.MethodGet, "/v1/ops/ready").Code)

	require.Equal(t, http.StatusOK, srv.do(http.MethodGet, "/v1/dashboard/provinces").Code)

	assert.Equal(t, http.StatusOK, srv.do(http.MethodGet, "/v1/ops/ready").Code)
}

func TestRouter_SystemStatus(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do(http.MethodGet, "/v1/ops/status")
	require.Equal(t, http.StatusOK, w.Code)

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Len(t, status.Subsystems, 2)
}

func TestRouter_DashboardViews(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{
		"/v1/dashboard/provinces",
		"/v1/dashboard/provinces/2/beaches",
		"/v1/dashboard/provinces/2/weather",
		"/v1/dashboard/beaches/7",
		"/v1/dashboard/beaches/7/weather",
		"/v1/dashboard/system-status",
		"/v1/dashboard/alerts",
	} {
		t.Run(path, func(t *testing.T) {
			w := srv.do(http.MethodGet, path)
			assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
	assert.Equal(t, 7, srv.dash.Leased())
}

func TestRouter_RefetchRateLimited(t *testing.T) {
	srv := newTestServer(t)

	for i := 0; i < 30; i++ {
		w := srv.do(http.MethodPost, "/v1/dashboard/refetch?key=provinces")
		require.Equal(t, http.StatusAccepted, w.Code, "request %d", i+1)
	}

	w := srv.do(http.MethodPost, "/v1/dashboard/refetch?key=provinces")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestRouter_Metrics(t *testing.T) {
	srv := newTestServer(t)
	require.Equal(t, http.StatusOK, srv.do(http.MethodGet, "/v1/dashboard/provinces").Code)

	w := srv.do(http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "beach_query_fetches_total")
	assert.Contains(t, w.Body.String(), `beach_http_requests_total{method="GET",route="/v1/dashboard/provinces",status="200"} 1`)
}

func TestRouter_Stream(t *testing.T) {
	srv := newTestServer(t)
	require.Equal(t, http.StatusOK, srv.do(http.MethodGet, "/v1/dashboard/provinces").Code)

	ts := httptest.NewServer(srv.router)
	t.Cleanup(ts.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/dashboard/stream", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env models.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, models.EnvelopeInitial, env.Type)
	assert.Equal(t, "provinces", env.Key)
}

func TestRouter_RequestID_Generated(t *testing.T) {
	srv := newTestServer(t)

	requestID := srv.do(http.MethodGet, "/v1/ops/health").Header().Get("X-Request-Id")
	assert.Contains(t, requestID, "req_")
}

func TestRouter_RequestID_Preserved(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	req.Header.Set("X-Request-Id", "custom_request_id")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, "custom_request_id", w.Header().Get("X-Request-Id"))
}

func TestRouter_NotFound(t *testing.T) {
	srv := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, srv.do(http.MethodGet, "/v1/nonexistent").Code)
}
