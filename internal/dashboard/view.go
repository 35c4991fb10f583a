package dashboard

import (
	"strconv"
	"time"

	"github.com/Akwatiro/beach-monitor-spain/internal/beach"
	"github.com/Akwatiro/beach-monitor-spain/internal/query"
)

// State is what a view shows for a key.
type State string

const (
	// StateLoading is shown before the first fetch settles.
	StateLoading State = "loading"
	// StateError replaces content when the first load failed.
	StateError State = "error"
	// StateEmpty is a successful load of an empty collection.
	StateEmpty State = "empty"
	// StatePopulated shows data, possibly stale.
	StatePopulated State = "populated"
)

// View is the renderable state of one key.
type View struct {
	Key        string          `json:"key"`
	State      State           `json:"state"`
	Data       any             `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	Stale      bool            `json:"stale"`
	Refreshing bool            `json:"refreshing"`
	UpdatedAt  *time.Time      `json:"updated_at,omitempty"`
	CheckedAt  *time.Time      `json:"checked_at,omitempty"`
	Hints      map[string]Hint `json:"hints,omitempty"`
}

// ViewOf derives the view of a snapshot. A failed refresh keeps showing the
// previous data marked stale; the error replaces content only when there is
// nothing to show.
func ViewOf(snap query.Snapshot) View {
	v := View{
		Key:        snap.Key.String(),
		Refreshing: snap.IsFetching,
		UpdatedAt:  timePtr(snap.DataUpdatedAt),
		CheckedAt:  timePtr(snap.LastFetchedAt),
	}
	if snap.Err != nil {
		v.Error = snap.Err.Error()
	}

	switch {
	case snap.HasData:
		v.Data = snap.Data
		v.Stale = snap.Stale()
		v.Hints = hintsFor(snap.Data)
		if isEmpty(snap.Data) {
			v.State = StateEmpty
		} else {
			v.State = StatePopulated
		}
	case snap.Status == query.StatusError:
		v.State = StateError
	default:
		v.State = StateLoading
	}
	return v
}

func isEmpty(data any) bool {
	switch d := data.(type) {
	case nil:
		return true
	case *beach.ProvinceList:
		return d == nil || len(d.Provinces) == 0
	case *beach.BeachList:
		return d == nil || len(d.Beaches) == 0
	case *beach.AlertList:
		return d == nil || len(d.Alerts) == 0
	case *beach.BatchWeather:
		return d == nil || len(d.Beaches) == 0
	default:
		return false
	}
}

func hintsFor(data any) map[string]Hint {
	switch d := data.(type) {
	case *beach.SystemStatus:
		hints := map[string]Hint{"overall": OverallHint(d.System.OverallStatus)}
		for name, src := range d.Sources {
			hints["source:"+name] = SourceHint(src.Status)
		}
		return hints
	case *beach.AlertList:
		if len(d.Alerts) == 0 {
			return nil
		}
		hints := make(map[string]Hint, len(d.Alerts))
		for _, a := range d.Alerts {
			hints["alert:"+strconv.Itoa(a.ID)] = AlertHint(a.Level)
		}
		return hints
	case *beach.WeatherReading:
		return map[string]Hint{"uv": UVHint(d.UVIndex)}
	case *beach.ProvinceWeather:
		return map[string]Hint{"uv": UVHint(d.UVIndex)}
	default:
		return nil
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
