package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/sync/errgroup"

	"github.com/Akwatiro/beach-monitor-spain/internal/query"
)

// Refresher is the part of the query cache a refresh drives.
type Refresher interface {
	Keys() []query.Key
	RefetchAndWait(ctx context.Context, key query.Key) (query.Snapshot, error)
}

// RefreshJob refetches cache keys with bounded concurrency.
type RefreshJob struct {
	config RefreshConfig
	cache  Refresher
	clock  clockwork.Clock
	logger zerolog.Logger

	metrics     *RefreshMetrics
	keysRefresh metric.Int64Counter
	runDuration metric.Float64Histogram
}

// RefreshMetrics tracks refresh job statistics.
type RefreshMetrics struct {
	mu sync.RWMutex

	TotalRefreshes    int64
	SuccessfulRefresh int64
	FailedRefreshes   int64
	SkippedRefreshes  int64

	LastRefreshAt       time.Time
	LastRefreshDuration time.Duration
	TotalDuration       time.Duration
}

// RefreshJobConfig holds configuration for creating a RefreshJob.
type RefreshJobConfig struct {
	Config RefreshConfig
	Cache  Refresher
	Clock  clockwork.Clock
	Logger zerolog.Logger

	// Meter records per-run instruments. Nil disables them.
	Meter metric.Meter
}

// NewRefreshJob creates a new refresh job.
func NewRefreshJob(cfg RefreshJobConfig) *RefreshJob {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	meter := cfg.Meter
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("worker")
	}
	j := &RefreshJob{
		config:  cfg.Config.withDefaults(),
		cache:   cfg.Cache,
		clock:   clock,
		logger:  cfg.Logger,
		metrics: &RefreshMetrics{},
	}

	var err error
	j.keysRefresh, err = meter.Int64Counter("beach.refresh.keys",
		metric.WithDescription("Keys handled by bulk refreshes, by outcome"))
	if err != nil {
		cfg.Logger.Warn().Err(err).Msg("creating refresh counter")
		j.keysRefresh = noop.Int64Counter{}
	}
	j.runDuration, err = meter.Float64Histogram("beach.refresh.duration",
		metric.WithDescription("Duration of bulk refresh runs"), metric.WithUnit("s"))
	if err != nil {
		cfg.Logger.Warn().Err(err).Msg("creating refresh histogram")
		j.runDuration = noop.Float64Histogram{}
	}
	return j
}

// RefreshResult contains the result of a refresh run.
type RefreshResult struct {
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	TotalKeys  int
	Successful int
	Failed     int
	// Skipped counts keys that lost their last subscriber before being refreshed.
	Skipped int
	Errors  []RefreshError
}

// RefreshError represents a key whose refresh failed.
type RefreshError struct {
	Key   string
	Error string
}

type keyResult struct {
	key     query.Key
	err     error
	skipped bool
}

// Run refetches every active key selected by the configured kinds.
func (j *RefreshJob) Run(ctx context.Context) *RefreshResult {
	return j.RunKinds(ctx, j.config.Kinds)
}

// RunKinds refetches every active key of the given kinds, or every active key
// when kinds is empty.
func (j *RefreshJob) RunKinds(ctx context.Context, kinds []string) *RefreshResult {
	selector := RefreshConfig{Kinds: kinds}
	var keys []query.Key
	for _, key := range j.cache.Keys() {
		if selector.Includes(key.Kind()) {
			keys = append(keys, key)
		}
	}
	return j.RefreshKeys(ctx, keys)
}

// RefreshKeys refetches keys and waits for each to settle or time out.
func (j *RefreshJob) RefreshKeys(ctx context.Context, keys []query.Key) *RefreshResult {
	startTime := j.clock.Now()
	result := &RefreshResult{
		StartTime: startTime,
		TotalKeys: len(keys),
	}

	j.logger.Info().
		Int("total_keys", result.TotalKeys).
		Int("concurrency", j.config.Concurrency).
		Msg("starting cache refresh job")

	results := make([]keyResult, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Concurrency)
	for i, key := range keys {
		g.Go(func() error {
			results[i] = j.refreshKey(gctx, key)
			return nil
		})
	}
	_ = g.Wait()

	for _, kr := range results {
		switch {
		case kr.skipped:
			result.Skipped++
		case kr.err != nil:
			result.Failed++
			result.Errors = append(result.Errors, RefreshError{Key: kr.key.String(), Error: kr.err.Error()})
		default:
			result.Successful++
		}
	}

	result.EndTime = j.clock.Now()
	result.Duration = result.EndTime.Sub(startTime)

	j.updateMetrics(result)
	j.record(ctx, result)

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Msg("cache refresh job completed")

	return result
}

func (j *RefreshJob) refreshKey(ctx context.Context, key query.Key) keyResult {
	res := keyResult{key: key}
	if err := ctx.Err(); err != nil {
		res.err = err
		return res
	}

	keyCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	snap, err := j.cache.RefetchAndWait(keyCtx, key)
	switch {
	case errors.Is(err, query.ErrUnknownKey):
		res.skipped = true
	case err != nil:
		res.err = err
	case snap.Status == query.StatusError:
		res.err = snap.Err
	}
	if res.err != nil {
		j.logger.Warn().Err(res.err).Str("key", key.String()).Msg("key refresh failed")
	}
	return res
}

func (j *RefreshJob) updateMetrics(result *RefreshResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalRefreshes++
	j.metrics.SuccessfulRefresh += int64(result.Successful)
	j.metrics.FailedRefreshes += int64(result.Failed)
	j.metrics.SkippedRefreshes += int64(result.Skipped)
	j.metrics.LastRefreshAt = result.EndTime
	j.metrics.LastRefreshDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

func (j *RefreshJob) record(ctx context.Context, result *RefreshResult) {
	for outcome, n := range map[string]int{
		"success": result.Successful,
		"failure": result.Failed,
		"skipped": result.Skipped,
	} {
		if n > 0 {
			j.keysRefresh.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
		}
	}
	j.runDuration.Record(ctx, result.Duration.Seconds())
}

// GetMetrics returns a copy of the current metrics.
func (j *RefreshJob) GetMetrics() RefreshMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return RefreshMetrics{
		TotalRefreshes:      j.metrics.TotalRefreshes,
		SuccessfulRefresh:   j.metrics.SuccessfulRefresh,
		FailedRefreshes:     j.metrics.FailedRefreshes,
		SkippedRefreshes:    j.metrics.SkippedRefreshes,
		LastRefreshAt:       j.metrics.LastRefreshAt,
		LastRefreshDuration: j.metrics.LastRefreshDuration,
		TotalDuration:       j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *RefreshJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_refreshes":       m.TotalRefreshes,
		"successful_refreshes":  m.SuccessfulRefresh,
		"failed_refreshes":      m.FailedRefreshes,
		"skipped_refreshes":     m.SkippedRefreshes,
		"last_refresh_at":       m.LastRefreshAt,
		"last_refresh_duration": m.LastRefreshDuration.String(),
		"total_duration":        m.TotalDuration.String(),
	}
}
