// Package handler provides HTTP handlers for the beach monitor dashboard API.
package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Akwatiro/beach-monitor-spain/internal/api/models"
	"github.com/Akwatiro/beach-monitor-spain/internal/api/response"
	"github.com/Akwatiro/beach-monitor-spain/internal/beach"
	"github.com/Akwatiro/beach-monitor-spain/internal/dashboard"
	"github.com/Akwatiro/beach-monitor-spain/internal/provider/resilience"
	"github.com/Akwatiro/beach-monitor-spain/internal/query"
)

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	cache     *query.Cache
	registry  *resilience.Registry
	clock     clockwork.Clock
}

// NewOpsHandler creates a new OpsHandler. cache and registry may be nil, in
// which case the corresponding checks are skipped.
func NewOpsHandler(version, buildTime string, cache *query.Cache, registry *resilience.Registry) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		cache:     cache,
		registry:  registry,
		clock:     clockwork.NewRealClock(),
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.clock.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready. The service is ready once the
// province catalogue has loaded.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.clock.Now()),
	}

	if h.cache != nil {
		snap, ok := h.cache.Snapshot(dashboard.ProvincesKey())
		if !ok || !snap.HasData {
			health.Status = models.HealthStatusFail
			health.Details = map[string]interface{}{"provinces": "not loaded"}
			response.JSON(w, r, http.StatusServiceUnavailable, health)
			return
		}
	}
	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - upstream and subsystem status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(h.clock.Now()),
		Subsystems: []models.SubsystemStatus{},
		Providers:  []models.ProviderStatus{},
	}

	if h.cache != nil {
		status.Subsystems = append(status.Subsystems, h.cacheStatus(), h.backendStatus())
	}
	if h.registry != nil {
		for _, upstream := range h.registry.GetAllHealth() {
			status.Providers = append(status.Providers, providerStatus(upstream))
		}
	}

	for _, s := range status.Subsystems {
		status.Status = worst(status.Status, s.Status)
	}
	for _, p := range status.Providers {
		status.Status = worst(status.Status, p.Status)
	}

	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) cacheStatus() models.SubsystemStatus {
	detail := pluralKeys(len(h.cache.Keys()))
	return models.SubsystemStatus{
		Name:   "query-cache",
		Status: models.HealthStatusOK,
		Detail: &detail,
	}
}

// backendStatus reports the backend's own view of its data sources, as last
// polled through the system-status key.
func (h *OpsHandler) backendStatus() models.SubsystemStatus {
	s := models.SubsystemStatus{Name: "beach-backend", Status: models.HealthStatusOK}

	snap, ok := h.cache.Snapshot(dashboard.SystemStatusKey())
	if !ok || !snap.HasData {
		detail := "status not loaded"
		s.Status = models.HealthStatusDegraded
		s.Detail = &detail
		return s
	}

	sys, _ := query.DataOf[*beach.SystemStatus](snap)
	if sys == nil {
		return s
	}
	detail := string(sys.System.OverallStatus)
	s.Detail = &detail
	switch sys.System.OverallStatus {
	case beach.OverallHealthy:
	case beach.OverallCritical:
		s.Status = models.HealthStatusFail
	default:
		s.Status = models.HealthStatusDegraded
	}
	if snap.Stale() && s.Status == models.HealthStatusOK {
		s.Status = models.HealthStatusDegraded
	}
	return s
}

func providerStatus(u *resilience.UpstreamHealth) models.ProviderStatus {
	p := models.ProviderStatus{
		Provider:            u.Name,
		CircuitState:        u.CircuitState.String(),
		ConsecutiveFailures: int(u.Counts.ConsecutiveFailures),
		LastSuccessAt:       timestampOf(u.LastSuccessAt),
		LastFailureAt:       timestampOf(u.LastFailureAt),
	}
	switch {
	case u.IsHealthy():
		p.Status = models.HealthStatusOK
	case u.IsDegraded():
		p.Status = models.HealthStatusDegraded
	default:
		p.Status = models.HealthStatusFail
	}
	if u.LastError != "" {
		msg := u.LastError
		p.Message = &msg
	}
	return p
}

func timestampOf(t *time.Time) *models.Timestamp {
	if t == nil {
		return nil
	}
	return models.TimestampPtr(*t)
}

var severity = map[models.HealthStatus]int{
	models.HealthStatusOK:       0,
	models.HealthStatusDegraded: 1,
	models.HealthStatusFail:     2,
}

func worst(a, b models.HealthStatus) models.HealthStatus {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

func pluralKeys(n int) string {
	if n == 1 {
		return "1 active key"
	}
	return strconv.Itoa(n) + " active keys"
}
