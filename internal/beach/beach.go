// Package beach holds the data model served by the beach monitoring backend:
// coastal provinces, their beaches, weather readings, data source status and
// active weather alerts.
package beach

import "errors"

// Domain errors.
var (
	ErrInvalidID = errors.New("invalid identifier")
)

// Province is a Spanish coastal region grouping beaches.
type Province struct {
	ID           int    `json:"id" validate:"gt=0"`
	Name         string `json:"name" validate:"required"`
	BeachesCount int    `json:"beaches_count,omitempty" validate:"gte=0"`
}

// ProvinceList is the body of GET /provinces.
type ProvinceList struct {
	Provinces []Province `json:"provinces" validate:"dive"`
}

// Coordinates is a WGS84 position.
type Coordinates struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// Beach is a single beach as described by the backend.
type Beach struct {
	ID           int         `json:"id" validate:"gt=0"`
	Name         string      `json:"name" validate:"required"`
	Province     string      `json:"province"`
	Municipality string      `json:"municipality"`
	Coordinates  Coordinates `json:"coordinates"`
	Description  string      `json:"description,omitempty"`
	Services     []string    `json:"services,omitempty"`
	BlueFlag     bool        `json:"blue_flag"`
	LengthKm     float64     `json:"length_km,omitempty" validate:"gte=0"`
	WidthM       float64     `json:"width_m,omitempty" validate:"gte=0"`
	SandType     string      `json:"sand_type,omitempty"`
	AEMETStation string      `json:"aemet_station,omitempty"`
}

// BeachList is the body of GET /beaches/{provinceId}.
type BeachList struct {
	Beaches    []Beach `json:"beaches" validate:"dive"`
	ProvinceID int     `json:"province_id,omitempty"`
}

// Find returns the beach with the given id, if present.
func (l *BeachList) Find(id int) (*Beach, bool) {
	if l == nil {
		return nil, false
	}
	for i := range l.Beaches {
		if l.Beaches[i].ID == id {
			return &l.Beaches[i], true
		}
	}
	return nil, false
}

// ValidateID rejects non-positive identifiers before they reach the network.
func ValidateID(id int) error {
	if id <= 0 {
		return ErrInvalidID
	}
	return nil
}
