package beach

import (
	"sort"
	"time"
)

// AlertLevel is the meteorological warning colour.
type AlertLevel string

const (
	AlertYellow AlertLevel = "yellow"
	AlertOrange AlertLevel = "orange"
	AlertRed    AlertLevel = "red"
)

// Rank orders levels by severity; unknown levels rank lowest.
func (l AlertLevel) Rank() int {
	switch l {
	case AlertYellow:
		return 1
	case AlertOrange:
		return 2
	case AlertRed:
		return 3
	default:
		return 0
	}
}

// WeatherAlert is a warning issued for one or more provinces.
type WeatherAlert struct {
	ID          int        `json:"id"`
	Type        string     `json:"type" validate:"required"`
	Level       AlertLevel `json:"level" validate:"required"`
	Title       string     `json:"title" validate:"required"`
	Description string     `json:"description"`
	Provinces   []string   `json:"provinces"`
	StartTime   Timestamp  `json:"start_time"`
	EndTime     Timestamp  `json:"end_time"`
	Source      string     `json:"source"`
}

// Active reports whether now falls within the alert validity window.
// Open-ended bounds are treated as unbounded.
func (a *WeatherAlert) Active(now time.Time) bool {
	if !a.StartTime.IsZero() && now.Before(a.StartTime.Time) {
		return false
	}
	if !a.EndTime.IsZero() && !now.Before(a.EndTime.Time) {
		return false
	}
	return true
}

// AffectsProvince reports whether the alert names the province.
func (a *WeatherAlert) AffectsProvince(name string) bool {
	for _, p := range a.Provinces {
		if p == name {
			return true
		}
	}
	return false
}

// AlertList is the body of GET /weather/alerts.
type AlertList struct {
	Alerts []WeatherAlert `json:"alerts" validate:"dive"`
	Total  int            `json:"total" validate:"gte=0"`
}

// BySeverity returns the alerts ordered most severe first, then by start time.
func (l *AlertList) BySeverity() []WeatherAlert {
	out := make([]WeatherAlert, len(l.Alerts))
	copy(out, l.Alerts)
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Level.Rank(), out[j].Level.Rank()
		if ri != rj {
			return ri > rj
		}
		return out[i].StartTime.Before(out[j].StartTime.Time)
	})
	return out
}

// ActiveAt returns the alerts whose window contains now, most severe first.
func (l *AlertList) ActiveAt(now time.Time) []WeatherAlert {
	sorted := l.BySeverity()
	out := sorted[:0]
	for _, a := range sorted {
		if a.Active(now) {
			out = append(out, a)
		}
	}
	return out
}
