package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Akwatiro/beach-monitor-spain/internal/api/models"
	"github.com/Akwatiro/beach-monitor-spain/internal/api/response"
	"github.com/Akwatiro/beach-monitor-spain/internal/dashboard"
	"github.com/Akwatiro/beach-monitor-spain/internal/query"
)

// DefaultViewWait bounds how long a request waits for the first load of a key.
const DefaultViewWait = 2 * time.Second

// DashboardHandler serves the dashboard views.
type DashboardHandler struct {
	dash   *dashboard.Dashboard
	wait   time.Duration
	logger zerolog.Logger
}

// NewDashboardHandler creates a new DashboardHandler. A non-positive wait uses DefaultViewWait.
func NewDashboardHandler(dash *dashboard.Dashboard, wait time.Duration, logger zerolog.Logger) *DashboardHandler {
	if wait <= 0 {
		wait = DefaultViewWait
	}
	return &DashboardHandler{dash: dash, wait: wait, logger: logger}
}

// Provinces handles GET /v1/dashboard/provinces.
func (h *DashboardHandler) Provinces(w http.ResponseWriter, r *http.Request) {
	h.serveView(w, r, dashboard.ProvincesKey())
}

// ProvinceBeaches handles GET /v1/dashboard/provinces/{provinceId}/beaches.
func (h *DashboardHandler) ProvinceBeaches(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "provinceId")
	if !ok {
		return
	}
	h.serveView(w, r, dashboard.BeachesKey(id))
}

// ProvinceWeather handles GET /v1/dashboard/provinces/{provinceId}/weather.
func (h *DashboardHandler) ProvinceWeather(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "provinceId")
	if !ok {
		return
	}
	h.serveView(w, r, dashboard.ProvinceWeatherKey(id))
}

// Beach handles GET /v1/dashboard/beaches/{beachId}.
func (h *DashboardHandler) Beach(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "beachId")
	if !ok {
		return
	}
	h.serveView(w, r, dashboard.BeachKey(id))
}

// BeachWeather handles GET /v1/dashboard/beaches/{beachId}/weather.
func (h *DashboardHandler) BeachWeather(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "beachId")
	if !ok {
		return
	}
	h.serveView(w, r, dashboard.BeachWeatherKey(id))
}

// SystemStatus handles GET /v1/dashboard/system-status.
func (h *DashboardHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	h.serveView(w, r, dashboard.SystemStatusKey())
}

// Alerts handles GET /v1/dashboard/alerts.
func (h *DashboardHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	h.serveView(w, r, dashboard.AlertsKey())
}

// Refetch handles POST /v1/dashboard/refetch?key=... It triggers a manual
// refetch and returns without waiting for the result.
func (h *DashboardHandler) Refetch(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("key")
	if raw == "" {
		response.InvalidParam(w, r, "key", "is required")
		return
	}
	key, err := dashboard.ParseKey(raw)
	if err != nil {
		response.InvalidParam(w, r, "key", err.Error())
		return
	}

	if err := h.dash.Refetch(key); err != nil {
		h.writeError(w, r, key, err)
		return
	}

	h.logger.Info().Str("key", key.String()).Msg("manual refetch requested")
	response.Accepted(w, r, models.RefetchAccepted{Key: key.String(), Status: "accepted"})
}

func (h *DashboardHandler) serveView(w http.ResponseWriter, r *http.Request, key query.Key) {
	view, err := h.dash.View(r.Context(), key, h.wait)
	if err != nil {
		h.writeError(w, r, key, err)
		return
	}

	// an unknown beach is a 404 rather than an error view
	if view.State == dashboard.StateError {
		if snap, ok := h.dash.Cache().Snapshot(key); ok && response.StatusOf(snap.Err) == http.StatusNotFound {
			response.Error(w, r, snap.Err)
			return
		}
	}

	response.JSON(w, r, http.StatusOK, view)
}

func (h *DashboardHandler) writeError(w http.ResponseWriter, r *http.Request, key query.Key, err error) {
	if status := response.Error(w, r, err); status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("key", key.String()).Int("status", status).Msg("dashboard request failed")
	}
}

// pathID parses a positive integer path parameter, writing a 400 when it is malformed.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || id <= 0 {
		response.InvalidParam(w, r, name, "must be a positive integer")
		return 0, false
	}
	return id, true
}
