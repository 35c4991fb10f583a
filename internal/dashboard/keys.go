// Package dashboard binds the query cache to the beach backend: it names the
// canonical query keys, applies their polling policy, derives view states from
// cache snapshots and keeps remotely viewed keys subscribed while in use.
package dashboard

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Akwatiro/beach-monitor-spain/internal/query"
)

// ErrInvalidKey is returned for keys that do not name a dashboard query.
var ErrInvalidKey = errors.New("invalid query key")

// Query kinds.
const (
	KindProvinces       = "provinces"
	KindBeaches         = "beaches"
	KindBeach           = "beach"
	KindBeachWeather    = "beach-weather"
	KindProvinceWeather = "province-weather"
	KindSystemStatus    = "system-status"
	KindAlerts          = "weather-alerts"
)

// Polling intervals.
const (
	SystemStatusInterval = 30 * time.Second
	AlertsInterval       = 10 * time.Minute
	WeatherInterval      = 5 * time.Minute
)

// Policy is how often a kind is polled and how long its data counts as fresh
// for a new subscriber.
type Policy struct {
	Interval  time.Duration
	StaleTime time.Duration
}

var policies = map[string]Policy{
	KindProvinces:       {StaleTime: query.Forever},
	KindBeaches:         {},
	KindBeach:           {StaleTime: query.Forever},
	KindBeachWeather:    {Interval: WeatherInterval},
	KindProvinceWeather: {Interval: WeatherInterval},
	KindSystemStatus:    {Interval: SystemStatusInterval},
	KindAlerts:          {Interval: AlertsInterval},
}

// PolicyFor returns the policy of a kind.
func PolicyFor(kind string) (Policy, bool) {
	p, ok := policies[kind]
	return p, ok
}

// ProvincesKey names the province list.
func ProvincesKey() query.Key { return query.NewKey(KindProvinces) }

// BeachesKey names the beach list of a province.
func BeachesKey(provinceID int) query.Key { return query.NewKey(KindBeaches, provinceID) }

// BeachKey names a single beach resolved across provinces.
func BeachKey(beachID int) query.Key { return query.NewKey(KindBeach, beachID) }

// BeachWeatherKey names the current reading of a beach.
func BeachWeatherKey(beachID int) query.Key { return query.NewKey(KindBeachWeather, beachID) }

// ProvinceWeatherKey names the weather summary of a province.
func ProvinceWeatherKey(provinceID int) query.Key {
	return query.NewKey(KindProvinceWeather, provinceID)
}

// SystemStatusKey names the backend source status.
func SystemStatusKey() query.Key { return query.NewKey(KindSystemStatus) }

// AlertsKey names the active weather alerts.
func AlertsKey() query.Key { return query.NewKey(KindAlerts) }

// ParseKey validates s as a dashboard key.
func ParseKey(s string) (query.Key, error) {
	key := query.Key(s)
	if _, _, err := parseKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// parseKey splits key into its kind and numeric id (zero for kinds without one).
func parseKey(key query.Key) (string, int, error) {
	kind := key.Kind()
	params := key.Params()

	switch kind {
	case KindProvinces, KindSystemStatus, KindAlerts:
		if len(params) != 0 {
			return "", 0, fmt.Errorf("%w: %q takes no parameters", ErrInvalidKey, string(key))
		}
		return kind, 0, nil
	case KindBeaches, KindBeach, KindBeachWeather, KindProvinceWeather:
		if len(params) != 1 {
			return "", 0, fmt.Errorf("%w: %q needs one id", ErrInvalidKey, string(key))
		}
		id, err := strconv.Atoi(params[0])
		if err != nil || id <= 0 {
			return "", 0, fmt.Errorf("%w: %q has a bad id", ErrInvalidKey, string(key))
		}
		return kind, id, nil
	default:
		return "", 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidKey, kind)
	}
}
