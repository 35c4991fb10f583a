// Package beachapi is the typed client for the beach monitoring backend.
// Every call is a single GET; retries and caching belong to the caller.
package beachapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Akwatiro/beach-monitor-spain/internal/beach"
	"github.com/Akwatiro/beach-monitor-spain/internal/provider/resilience"
)

const (
	// UpstreamName identifies the backend in the health registry.
	UpstreamName = "beach-backend"

	// DefaultBaseURL is used when no base URL is configured.
	DefaultBaseURL = "http://localhost:8000/api"

	// MaxBatchSize is the backend limit for batch weather requests.
	MaxBatchSize = 10

	maxBodyBytes = 4 << 20
	tracerName   = "github.com/Akwatiro/beach-monitor-spain/internal/beachapi"
)

// ClientConfig holds configuration for the backend client.
type ClientConfig struct {
	// BaseURL is the API root including the /api prefix (optional).
	BaseURL string

	// HTTPClient is the resilient HTTP client to use (optional).
	HTTPClient *resilience.Client

	// Registry receives success/failure outcomes (optional).
	Registry *resilience.Registry

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is a beach backend API client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *resilience.Client
	registry   *resilience.Registry
	logger     zerolog.Logger
	tracer     trace.Tracer
}

// NewClient creates a new backend client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		rc := resilience.DefaultClientConfig(UpstreamName)
		rc.Registry = cfg.Registry
		httpClient = resilience.NewClient(rc)
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		registry:   cfg.Registry,
		logger:     cfg.Logger,
		tracer:     otel.Tracer(tracerName),
	}
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetProvinces lists the coastal provinces.
func (c *Client) GetProvinces(ctx context.Context) (*beach.ProvinceList, error) {
	var out beach.ProvinceList
	if err := c.getJSON(ctx, "GetProvinces", "/provinces", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBeachesByProvince lists the beaches of one province. An unknown
// province yields an empty list, as the backend does not distinguish them.
func (c *Client) GetBeachesByProvince(ctx context.Context, provinceID int) (*beach.BeachList, error) {
	if err := beach.ValidateID(provinceID); err != nil {
		return nil, fmt.Errorf("province %d: %w", provinceID, err)
	}

	var out beach.BeachList
	if err := c.getJSON(ctx, "GetBeachesByProvince", "/beaches/"+strconv.Itoa(provinceID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBeachWeather fetches current conditions for one beach.
func (c *Client) GetBeachWeather(ctx context.Context, beachID int) (*beach.WeatherReading, error) {
	const op = "GetBeachWeather"
	if err := beach.ValidateID(beachID); err != nil {
		return nil, fmt.Errorf("beach %d: %w", beachID, err)
	}

	var out beach.WeatherReading
	if err := c.getJSON(ctx, op, "/beach/"+strconv.Itoa(beachID)+"/weather", nil, &out); err != nil {
		return nil, err
	}
	if out.BeachID != beachID {
		return nil, &ParseError{Op: op, Err: fmt.Errorf("reading is for beach %d, requested %d", out.BeachID, beachID)}
	}
	return &out, nil
}

// GetProvinceWeather fetches the regional weather summary of a province.
// The backend answers 404 for unknown provinces.
func (c *Client) GetProvinceWeather(ctx context.Context, provinceID int) (*beach.ProvinceWeather, error) {
	const op = "GetProvinceWeather"
	if err := beach.ValidateID(provinceID); err != nil {
		return nil, fmt.Errorf("province %d: %w", provinceID, err)
	}

	var out beach.ProvinceWeather
	if err := c.getJSON(ctx, op, "/province/"+strconv.Itoa(provinceID)+"/weather", nil, &out); err != nil {
		return nil, err
	}
	if out.ProvinceID != provinceID {
		return nil, &ParseError{Op: op, Err: fmt.Errorf("summary is for province %d, requested %d", out.ProvinceID, provinceID)}
	}
	return &out, nil
}

// GetBatchWeather fetches readings for up to MaxBatchSize beaches in one call.
func (c *Client) GetBatchWeather(ctx context.Context, beachIDs []int) (*beach.BatchWeather, error) {
	switch {
	case len(beachIDs) == 0:
		return nil, ErrBatchEmpty
	case len(beachIDs) > MaxBatchSize:
		return nil, ErrBatchTooLarge
	}

	ids := make([]string, len(beachIDs))
	for i, id := range beachIDs {
		if err := beach.ValidateID(id); err != nil {
			return nil, fmt.Errorf("beach %d: %w", id, err)
		}
		ids[i] = strconv.Itoa(id)
	}

	query := url.Values{}
	query.Set("beach_ids", strings.Join(ids, ","))

	var out beach.BatchWeather
	if err := c.getJSON(ctx, "GetBatchWeather", "/beaches/batch/weather", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSystemStatus fetches backend and data source health.
func (c *Client) GetSystemStatus(ctx context.Context) (*beach.SystemStatus, error) {
	var out beach.SystemStatus
	if err := c.getJSON(ctx, "GetSystemStatus", "/system/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetWeatherAlerts fetches the current weather alerts.
func (c *Client) GetWeatherAlerts(ctx context.Context) (*beach.AlertList, error) {
	var out beach.AlertList
	if err := c.getJSON(ctx, "GetWeatherAlerts", "/weather/alerts", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// getJSON performs a GET, decodes the body into out and validates it.
func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out any) (err error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	ctx, span := c.tracer.Start(ctx, "beachapi."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", http.MethodGet),
			attribute.String("url.full", endpoint),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.recordFailure(err)
		} else {
			c.recordSuccess()
		}
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("executing request: %w", err)}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	body := io.LimitReader(resp.Body, maxBodyBytes)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &NetworkError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Detail:     readDetail(body),
			Err:        fmt.Errorf("unexpected status code: %d", resp.StatusCode),
		}
	}

	if err := json.NewDecoder(body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return &NetworkError{Op: op, Err: fmt.Errorf("reading response: %w", ctx.Err())}
		}
		return &ParseError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if err := beach.Validate(out); err != nil {
		return &ParseError{Op: op, Err: fmt.Errorf("validating response: %w", err)}
	}

	c.logger.Debug().Str("op", op).Int("status", resp.StatusCode).Msg("backend call succeeded")
	return nil
}

func (c *Client) recordSuccess() {
	if c.registry != nil {
		c.registry.RecordSuccess(c.httpClient.Name())
	}
}

// recordFailure counts failures that say something about backend health;
// 4xx answers and caller cancellations do not.
func (c *Client) recordFailure(err error) {
	if c.registry == nil || errors.Is(err, context.Canceled) {
		return
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) && netErr.StatusCode >= 400 && netErr.StatusCode < 500 {
		return
	}
	c.registry.RecordFailure(c.httpClient.Name(), err)
}

// readDetail extracts FastAPI's {"detail": "..."} error body, if present.
func readDetail(r io.Reader) string {
	var body struct {
		Detail any `json:"detail"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 64<<10)).Decode(&body); err != nil {
		return ""
	}
	if s, ok := body.Detail.(string); ok {
		return s
	}
	return ""
}
