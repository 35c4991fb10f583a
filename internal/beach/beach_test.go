package beach_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Akwatiro/beach-monitor-spain/internal/beach"
)

func TestTimestamp_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Time
	}{
		{"rfc3339 utc", `"2025-07-29T14:00:00Z"`, time.Date(2025, 7, 29, 14, 0, 0, 0, time.UTC)},
		{"rfc3339 offset", `"2025-07-29T16:00:00+02:00"`, time.Date(2025, 7, 29, 14, 0, 0, 0, time.UTC)},
		{"naive iso", `"2025-07-29T10:00:00"`, time.Date(2025, 7, 29, 10, 0, 0, 0, time.UTC)},
		{"naive iso micros", `"2025-07-29T10:00:00.123456"`, time.Date(2025, 7, 29, 10, 0, 0, 123456000, time.UTC)},
		{"null", `null`, time.Time{}},
		{"empty", `""`, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts beach.Timestamp
			require.NoError(t, json.Unmarshal([]byte(tt.input), &ts))
			assert.True(t, tt.expected.Equal(ts.Time), "got %s", ts.Time)
		})
	}
}

func TestTimestamp_UnmarshalJSON_Invalid(t *testing.T) {
	var ts beach.Timestamp
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
	assert.Error(t, json.Unmarshal([]byte(`12345`), &ts))
}

func TestTimestamp_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(beach.Timestamp{Time: time.Date(2025, 7, 29, 10, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, `"2025-07-29T10:00:00Z"`, string(data))

	data, err = json.Marshal(beach.Timestamp{})
	require.NoError(t, err)
	assert.Equal(t, `null`, string(data))
}

func TestBeachList_Find(t *testing.T) {
	list := &beach.BeachList{Beaches: []beach.Beach{
		{ID: 1, Name: "Playa de La Malagueta"},
		{ID: 2, Name: "Playa de Bolonia"},
	}}

	b, ok := list.Find(2)
	require.True(t, ok)
	assert.Equal(t, "Playa de Bolonia", b.Name)

	_, ok = list.Find(99)
	assert.False(t, ok)

	var empty *beach.BeachList
	_, ok = empty.Find(1)
	assert.False(t, ok)
}

func TestUVLevelFor(t *testing.T) {
	tests := []struct {
		index    float64
		expected beach.UVLevel
	}{
		{0, beach.UVLow},
		{2, beach.UVLow},
		{3, beach.UVModerate},
		{5, beach.UVModerate},
		{6, beach.UVHigh},
		{7, beach.UVHigh},
		{8, beach.UVVeryHigh},
		{10, beach.UVVeryHigh},
		{11, beach.UVExtreme},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, beach.UVLevelFor(tt.index), "uv index %v", tt.index)
	}
}

func TestBatchWeather_ByBeach(t *testing.T) {
	var batch beach.BatchWeather
	body := `{"beaches":[
		{"beach_id":1,"timestamp":"2025-07-29T10:00:00","temperature":{"air":28,"water":22,"feels_like":31},"uv_index":8,"source":"AEMET"},
		{"beach_id":2,"error":"Error obteniendo datos: timeout"}
	],"total":2}`
	require.NoError(t, json.Unmarshal([]byte(body), &batch))

	require.Len(t, batch.Beaches, 2)
	assert.False(t, batch.Beaches[0].Failed())
	assert.True(t, batch.Beaches[1].Failed())

	byBeach := batch.ByBeach()
	require.Len(t, byBeach, 1)
	assert.Equal(t, 28.0, byBeach[1].Temperature.Air)
}

func TestAlertList_BySeverity(t *testing.T) {
	list := beach.AlertList{Alerts: []beach.WeatherAlert{
		{ID: 1, Level: beach.AlertYellow},
		{ID: 2, Level: beach.AlertRed},
		{ID: 3, Level: beach.AlertOrange},
	}}

	sorted := list.BySeverity()
	require.Len(t, sorted, 3)
	assert.Equal(t, []int{2, 3, 1}, []int{sorted[0].ID, sorted[1].ID, sorted[2].ID})
	assert.Equal(t, 1, list.Alerts[0].ID, "original order preserved")
}

func TestWeatherAlert_Active(t *testing.T) {
	start := time.Date(2025, 7, 29, 12, 0, 0, 0, time.UTC)
	end := start.Add(6 * time.Hour)
	alert := beach.WeatherAlert{
		StartTime: beach.Timestamp{Time: start},
		EndTime:   beach.Timestamp{Time: end},
	}

	assert.False(t, alert.Active(start.Add(-time.Minute)))
	assert.True(t, alert.Active(start))
	assert.True(t, alert.Active(end.Add(-time.Second)))
	assert.False(t, alert.Active(end))

	openEnded := beach.WeatherAlert{StartTime: beach.Timestamp{Time: start}}
	assert.True(t, openEnded.Active(end.Add(48*time.Hour)))
}

func TestAlertList_ActiveAt(t *testing.T) {
	now := time.Date(2025, 7, 29, 15, 0, 0, 0, time.UTC)
	list := beach.AlertList{Alerts: []beach.WeatherAlert{
		{ID: 1, Level: beach.AlertYellow, StartTime: beach.Timestamp{Time: now.Add(-time.Hour)}},
		{ID: 2, Level: beach.AlertRed, StartTime: beach.Timestamp{Time: now.Add(time.Hour)}},
		{ID: 3, Level: beach.AlertOrange, EndTime: beach.Timestamp{Time: now.Add(time.Hour)}},
	}}

	active := list.ActiveAt(now)
	require.Len(t, active, 2)
	assert.Equal(t, 3, active[0].ID)
	assert.Equal(t, 1, active[1].ID)
}

func TestValidate(t *testing.T) {
	valid := beach.ProvinceList{Provinces: []beach.Province{{ID: 1, Name: "Andalucía"}}}
	assert.NoError(t, beach.Validate(&valid))

	invalid := beach.ProvinceList{Provinces: []beach.Province{{ID: 0, Name: "Andalucía"}}}
	assert.Error(t, beach.Validate(&invalid))

	badCoords := beach.BeachList{Beaches: []beach.Beach{{ID: 1, Name: "x", Coordinates: beach.Coordinates{Lat: 120}}}}
	assert.Error(t, beach.Validate(&badCoords))

	status := beach.SystemStatus{
		System: beach.SystemHealth{OverallStatus: beach.OverallHealthy, ActiveSources: 3, TotalSources: 2},
	}
	assert.Error(t, beach.Validate(&status), "active sources cannot exceed total")
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, beach.ValidateID(1))
	assert.ErrorIs(t, beach.ValidateID(0), beach.ErrInvalidID)
	assert.ErrorIs(t, beach.ValidateID(-3), beach.ErrInvalidID)
}
