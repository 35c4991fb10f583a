// Package response writes dashboard API responses and maps domain errors to problems.
package response

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Akwatiro/beach-monitor-spain/internal/api/middleware"
	"github.com/Akwatiro/beach-monitor-spain/internal/api/models"
	"github.com/Akwatiro/beach-monitor-spain/internal/beachapi"
	"github.com/Akwatiro/beach-monitor-spain/internal/dashboard"
	"github.com/Akwatiro/beach-monitor-spain/internal/query"
	"github.com/Akwatiro/beach-monitor-spain/internal/resolver"
)

// JSON writes data with the given status code and the request id header.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	if requestID := middleware.GetRequestID(r.Context()); requestID != "" {
		w.Header().Set("X-Request-Id", requestID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// Accepted writes a 202 for work that continues after the response.
func Accepted(w http.ResponseWriter, r *http.Request, data any) {
	JSON(w, r, http.StatusAccepted, data)
}

// Problem writes a problem for status, attributed to the request.
func Problem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	p := models.NewProblem(status, middleware.GetRequestID(r.Context()), detail)
	p.Instance = r.URL.Path
	p.Write(w)
}

// InvalidParam writes a 400 for a single malformed path or query parameter.
func InvalidParam(w http.ResponseWriter, r *http.Request, field, message string) {
	p := models.NewBadRequest(middleware.GetRequestID(r.Context()), field+" "+message,
		[]models.FieldError{{Field: field, Message: message, Code: "INVALID"}})
	p.Instance = r.URL.Path
	p.Write(w)
}

// NotFound writes a 404.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Problem(w, r, http.StatusNotFound, detail)
}

// InternalError writes a 500.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	Problem(w, r, http.StatusInternalServerError, detail)
}

// ServiceUnavailable writes a 503.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	Problem(w, r, http.StatusServiceUnavailable, detail)
}

// StatusOf returns the HTTP status reporting err.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, dashboard.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, resolver.ErrNotFound), beachapi.IsNotFound(err), errors.Is(err, query.ErrUnknownKey):
		return http.StatusNotFound
	case errors.Is(err, dashboard.ErrTooManyLeases):
		return http.StatusTooManyRequests
	case errors.Is(err, query.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, beachapi.ErrNetwork), errors.Is(err, beachapi.ErrParse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error writes the problem for err and returns its status. Details of
// internal errors are not exposed.
func Error(w http.ResponseWriter, r *http.Request, err error) int {
	status := StatusOf(err)
	switch status {
	case http.StatusBadRequest:
		InvalidParam(w, r, "key", err.Error())
	case http.StatusServiceUnavailable:
		Problem(w, r, status, "dashboard is shutting down")
	case http.StatusInternalServerError:
		Problem(w, r, status, "")
	default:
		Problem(w, r, status, err.Error())
	}
	return status
}
