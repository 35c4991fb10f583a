package beach

// Temperature readings in degrees Celsius.
type Temperature struct {
	Air       float64 `json:"air"`
	Water     float64 `json:"water"`
	FeelsLike float64 `json:"feels_like"`
}

// Wind speed and gusts are in km/h; direction is a cardinal point (e.g. "SW").
type Wind struct {
	Speed     float64 `json:"speed" validate:"gte=0"`
	Direction string  `json:"direction"`
	Gusts     float64 `json:"gusts" validate:"gte=0"`
}

// Waves describes sea state: height in metres, period in seconds.
type Waves struct {
	Height    float64 `json:"height" validate:"gte=0"`
	Period    float64 `json:"period" validate:"gte=0"`
	Direction string  `json:"direction"`
}

// WeatherReading is the current conditions at one beach.
type WeatherReading struct {
	BeachID     int          `json:"beach_id" validate:"gt=0"`
	Timestamp   Timestamp    `json:"timestamp"`
	Temperature Temperature  `json:"temperature"`
	Wind        Wind         `json:"wind"`
	Waves       Waves        `json:"waves"`
	Visibility  float64      `json:"visibility" validate:"gte=0"`
	Humidity    float64      `json:"humidity" validate:"gte=0,lte=100"`
	UVIndex     float64      `json:"uv_index" validate:"gte=0"`
	Conditions  string       `json:"conditions"`
	Pressure    float64      `json:"pressure,omitempty" validate:"gte=0"`
	Source      string       `json:"source"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

// ProvinceWeather is the regional summary returned for a province.
type ProvinceWeather struct {
	ProvinceID   int         `json:"province_id" validate:"gt=0"`
	ProvinceName string      `json:"province_name" validate:"required"`
	Timestamp    Timestamp   `json:"timestamp"`
	Temperature  Temperature `json:"temperature"`
	Wind         Wind        `json:"wind"`
	Waves        Waves       `json:"waves"`
	Visibility   float64     `json:"visibility" validate:"gte=0"`
	Humidity     float64     `json:"humidity" validate:"gte=0,lte=100"`
	UVIndex      float64     `json:"uv_index" validate:"gte=0"`
	Conditions   string      `json:"conditions"`
	Pressure     float64     `json:"pressure,omitempty" validate:"gte=0"`
	Source       string      `json:"source"`
}

// BatchWeatherItem is one entry of a batch weather response. Entries the
// backend failed to resolve carry Error and no readings.
type BatchWeatherItem struct {
	WeatherReading
	Error string `json:"error,omitempty"`
}

// Failed reports whether the backend could not produce a reading for this beach.
func (i BatchWeatherItem) Failed() bool {
	return i.Error != ""
}

// BatchWeather is the body of GET /beaches/batch/weather.
type BatchWeather struct {
	Beaches []BatchWeatherItem `json:"beaches" validate:"dive"`
	Total   int                `json:"total" validate:"gte=0"`
}

// ByBeach indexes successful items by beach id.
func (b *BatchWeather) ByBeach() map[int]WeatherReading {
	out := make(map[int]WeatherReading, len(b.Beaches))
	for _, item := range b.Beaches {
		if item.Failed() {
			continue
		}
		out[item.BeachID] = item.WeatherReading
	}
	return out
}

// UVLevel is a qualitative UV exposure band.
type UVLevel string

const (
	UVLow      UVLevel = "Bajo"
	UVModerate UVLevel = "Moderado"
	UVHigh     UVLevel = "Alto"
	UVVeryHigh UVLevel = "Muy Alto"
	UVExtreme  UVLevel = "Extremo"
)

// UVLevelFor maps a UV index onto its exposure band.
func UVLevelFor(index float64) UVLevel {
	switch {
	case index <= 2:
		return UVLow
	case index <= 5:
		return UVModerate
	case index <= 7:
		return UVHigh
	case index <= 10:
		return UVVeryHigh
	default:
		return UVExtreme
	}
}
