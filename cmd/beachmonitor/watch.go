package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Akwatiro/beach-monitor-spain/internal/beach"
	"github.com/Akwatiro/beach-monitor-spain/internal/dashboard"
	"github.com/Akwatiro/beach-monitor-spain/internal/query"
)

func newWatchCmd(opts *options) *cobra.Command {
	var beachIDs []int

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Log every dashboard view change until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c := newComponents(opts.cfg, opts.logger, nil)
			defer c.Close()

			return watch(ctx, c.dash, watchKeys(beachIDs), opts.logger)
		},
	}

	cmd.Flags().IntSliceVar(&beachIDs, "beach", nil, "Beach id whose details and weather to watch (repeatable).")
	return cmd
}

// watchKeys returns the global keys plus the details and weather of each beach.
func watchKeys(beachIDs []int) []query.Key {
	keys := []query.Key{dashboard.ProvincesKey(), dashboard.SystemStatusKey(), dashboard.AlertsKey()}
	for _, id := range beachIDs {
		keys = append(keys, dashboard.BeachKey(id), dashboard.BeachWeatherKey(id))
	}
	return keys
}

// viewWatcher logs view transitions. Listener calls may overlap, so snapshots
// older than the last one seen for a key are ignored.
type viewWatcher struct {
	log zerolog.Logger

	mu       sync.Mutex
	versions map[query.Key]uint64
	views    map[query.Key]dashboard.View
}

func newViewWatcher(log zerolog.Logger) *viewWatcher {
	return &viewWatcher{
		log:      log,
		versions: make(map[query.Key]uint64),
		views:    make(map[query.Key]dashboard.View),
	}
}

func (w *viewWatcher) observe(snap query.Snapshot) {
	v := dashboard.ViewOf(snap)

	w.mu.Lock()
	if snap.Version <= w.versions[snap.Key] {
		w.mu.Unlock()
		return
	}
	w.versions[snap.Key] = snap.Version
	prev, seen := w.views[snap.Key]
	w.views[snap.Key] = v
	w.mu.Unlock()

	if seen && !changed(prev, v) {
		return
	}
	w.logView(v, snap.Data)
}

func changed(prev, next dashboard.View) bool {
	if prev.State != next.State || prev.Stale != next.Stale || prev.Refreshing != next.Refreshing {
		return true
	}
	if (prev.UpdatedAt == nil) != (next.UpdatedAt == nil) {
		return true
	}
	return prev.UpdatedAt != nil && !prev.UpdatedAt.Equal(*next.UpdatedAt)
}

func (w *viewWatcher) logView(v dashboard.View, data any) {
	event := w.log.Info()
	if v.State == dashboard.StateError || v.Stale {
		event = w.log.Warn()
	}
	event = event.
		Str("key", v.Key).
		Str("state", string(v.State)).
		Bool("stale", v.Stale).
		Bool("refreshing", v.Refreshing)
	if v.Error != "" {
		event = event.Str("error", v.Error)
	}
	if v.UpdatedAt != nil {
		event = event.Time("updated_at", *v.UpdatedAt)
	}
	if s := summarize(data); s != "" {
		event = event.Str("summary", s)
	}
	event.Msg("view changed")
}

// summarize renders a one-line description of dashboard data.
func summarize(data any) string {
	switch d := data.(type) {
	case *beach.ProvinceList:
		return strconv.Itoa(len(d.Provinces)) + " provinces"
	case *beach.BeachList:
		return strconv.Itoa(len(d.Beaches)) + " beaches"
	case *beach.Beach:
		return fmt.Sprintf("%s (%s)", d.Name, d.Province)
	case *beach.WeatherReading:
		uv := dashboard.UVHint(d.UVIndex)
		return fmt.Sprintf("%.1f°C air, %.1f°C water, UV %.0f %s, %s",
			d.Temperature.Air, d.Temperature.Water, d.UVIndex, uv.Label, d.Conditions)
	case *beach.ProvinceWeather:
		return fmt.Sprintf("%s: %.1f°C air, %s", d.ProvinceName, d.Temperature.Air, d.Conditions)
	case *beach.SystemStatus:
		return fmt.Sprintf("%s, %d/%d sources active",
			d.System.OverallStatus, d.System.ActiveSources, d.System.TotalSources)
	case *beach.AlertList:
		return strconv.Itoa(len(d.Alerts)) + " alerts"
	default:
		return ""
	}
}

// watch subscribes keys and logs their view changes until ctx is done.
func watch(ctx context.Context, dash *dashboard.Dashboard, keys []query.Key, log zerolog.Logger) error {
	w := newViewWatcher(log)

	subs := make([]*query.Subscription, 0, len(keys))
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	for _, key := range keys {
		sub, err := dash.Subscribe(key, query.WithListener(w.observe))
		if err != nil {
			return fmt.Errorf("watching %s: %w", key, err)
		}
		subs = append(subs, sub)
	}

	log.Info().Int("keys", len(keys)).Msg("watching dashboard")
	<-ctx.Done()
	return nil
}
