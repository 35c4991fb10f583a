package beach

// OverallStatus summarises backend health.
type OverallStatus string

const (
	OverallHealthy  OverallStatus = "healthy"
	OverallDegraded OverallStatus = "degraded"
	OverallCritical OverallStatus = "critical"
)

// SourceState is the state of a single upstream data source.
type SourceState string

const (
	SourceActive    SourceState = "active"
	SourceWarning   SourceState = "warning"
	SourceError     SourceState = "error"
	SourceSimulated SourceState = "simulated"
)

// DataQuality tells whether readings come from official sources.
type DataQuality string

const (
	DataOfficial  DataQuality = "official"
	DataSimulated DataQuality = "simulated"
)

// SystemHealth is the aggregate section of the system status.
type SystemHealth struct {
	OverallStatus OverallStatus `json:"overall_status" validate:"required"`
	ActiveSources int           `json:"active_sources" validate:"gte=0"`
	TotalSources  int           `json:"total_sources" validate:"gte=0,gtefield=ActiveSources"`
	PrimarySource string        `json:"primary_source"`
	DataQuality   DataQuality   `json:"data_quality"`
	LastUpdate    Timestamp     `json:"last_update"`
}

// SourceStatus describes one upstream data source.
type SourceStatus struct {
	Status      SourceState `json:"status" validate:"required"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Configured  bool        `json:"configured"`
	LastCheck   Timestamp   `json:"last_check"`
	DataTypes   []string    `json:"data_types,omitempty"`
}

// SystemStatus is the body of GET /system/status.
type SystemStatus struct {
	System  SystemHealth            `json:"system"`
	Sources map[string]SourceStatus `json:"sources" validate:"dive"`
}

// Healthy reports whether the backend considers itself fully operational.
func (s *SystemStatus) Healthy() bool {
	return s.System.OverallStatus == OverallHealthy
}
