package models

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 error body, served as application/problem+json.
type Problem struct {
	Type     string       `json:"type"`
	Title    string       `json:"title"`
	Status   int          `json:"status"`
	Detail   string       `json:"detail,omitempty"`
	Instance string       `json:"instance,omitempty"`
	TraceID  string       `json:"traceId"`
	Errors   []FieldError `json:"errors,omitempty"`
}

// FieldError is a validation error on a path or query parameter.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Problem types served by the dashboard API.
const (
	ProblemTypeValidation      = "https://beachmonitor.es/problems/validation-error"
	ProblemTypeNotFound        = "https://beachmonitor.es/problems/not-found"
	ProblemTypeTooManyRequests = "https://beachmonitor.es/problems/too-many-requests"
	ProblemTypeInternal        = "https://beachmonitor.es/problems/internal-error"
	ProblemTypeUnavailable     = "https://beachmonitor.es/problems/service-unavailable"
	ProblemTypeBackend         = "https://beachmonitor.es/problems/backend-error"
	ProblemTypeBackendTimeout  = "https://beachmonitor.es/problems/backend-timeout"
	ProblemTypeTLSRequired     = "https://beachmonitor.es/problems/tls-required"
)

// problemKinds maps each status the API reports to its problem type and title.
var problemKinds = map[int]struct{ typ, title string }{
	http.StatusBadRequest:          {ProblemTypeValidation, "Validation error"},
	http.StatusForbidden:           {ProblemTypeTLSRequired, "TLS required"},
	http.StatusNotFound:            {ProblemTypeNotFound, "Not found"},
	http.StatusTooManyRequests:     {ProblemTypeTooManyRequests, "Too many requests"},
	http.StatusInternalServerError: {ProblemTypeInternal, "Internal server error"},
	http.StatusBadGateway:          {ProblemTypeBackend, "Beach backend error"},
	http.StatusServiceUnavailable:  {ProblemTypeUnavailable, "Service unavailable"},
	http.StatusGatewayTimeout:      {ProblemTypeBackendTimeout, "Beach backend timeout"},
}

// NewProblem creates the problem for status. Statuses without a registered
// kind are reported as internal errors with the status preserved.
func NewProblem(status int, traceID, detail string) *Problem {
	kind, ok := problemKinds[status]
	if !ok {
		kind = problemKinds[http.StatusInternalServerError]
	}
	return &Problem{
		Type:    kind.typ,
		Title:   kind.title,
		Status:  status,
		Detail:  detail,
		TraceID: traceID,
	}
}

// Write writes the Problem as JSON to the ResponseWriter.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		w.Header().Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// NewBadRequest creates a 400 problem listing the offending parameters.
func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	p := NewProblem(http.StatusBadRequest, traceID, detail)
	p.Errors = errors
	return p
}

// NewNotFound creates a 404 problem.
func NewNotFound(traceID, detail string) *Problem {
	return NewProblem(http.StatusNotFound, traceID, detail)
}

// NewTooManyRequests creates a 429 problem.
func NewTooManyRequests(traceID, detail string) *Problem {
	return NewProblem(http.StatusTooManyRequests, traceID, detail)
}

// NewInternalError creates a 500 problem.
func NewInternalError(traceID, detail string) *Problem {
	return NewProblem(http.StatusInternalServerError, traceID, detail)
}

// NewServiceUnavailable creates a 503 problem.
func NewServiceUnavailable(traceID, detail string) *Problem {
	return NewProblem(http.StatusServiceUnavailable, traceID, detail)
}
