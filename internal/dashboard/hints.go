package dashboard

import "github.com/Akwatiro/beach-monitor-spain/internal/beach"

// Hint tells a renderer how to present a value.
type Hint struct {
	Color string `json:"color"`
	Icon  string `json:"icon,omitempty"`
	Label string `json:"label,omitempty"`
}

// Colors.
const (
	ColorSuccess = "success"
	ColorWarning = "warning"
	ColorError   = "error"
	ColorInfo    = "info"
	ColorDefault = "default"
)

var sourceHints = map[beach.SourceState]Hint{
	beach.SourceActive:    {Color: ColorSuccess, Icon: "check-circle", Label: "Activo"},
	beach.SourceWarning:   {Color: ColorWarning, Icon: "warning", Label: "No configurado"},
	beach.SourceError:     {Color: ColorError, Icon: "error", Label: "Error"},
	beach.SourceSimulated: {Color: ColorInfo, Icon: "cloud", Label: "Simulado"},
}

// UnknownSourceHint is used for source states missing from the table.
var UnknownSourceHint = Hint{Color: ColorDefault, Icon: "info", Label: "Desconocido"}

var overallColors = map[beach.OverallStatus]string{
	beach.OverallHealthy:  ColorSuccess,
	beach.OverallDegraded: ColorWarning,
	beach.OverallCritical: ColorError,
}

var alertHints = map[beach.AlertLevel]Hint{
	beach.AlertYellow: {Color: ColorWarning, Icon: "info"},
	beach.AlertOrange: {Color: ColorWarning, Icon: "warning"},
	beach.AlertRed:    {Color: ColorError, Icon: "error"},
}

// SourceHint maps a data source state to its presentation.
func SourceHint(state beach.SourceState) Hint {
	if h, ok := sourceHints[state]; ok {
		return h
	}
	return UnknownSourceHint
}

// OverallHint maps the aggregate backend status to its presentation; unknown
// values render as info.
func OverallHint(status beach.OverallStatus) Hint {
	if c, ok := overallColors[status]; ok {
		return Hint{Color: c, Label: string(status)}
	}
	return Hint{Color: ColorInfo, Label: string(status)}
}

// AlertHint maps an alert level to its presentation; unknown levels render as info.
func AlertHint(level beach.AlertLevel) Hint {
	if h, ok := alertHints[level]; ok {
		return h
	}
	return Hint{Color: ColorInfo, Icon: "info"}
}

// UVHint maps a UV index to its exposure band.
func UVHint(index float64) Hint {
	level := beach.UVLevelFor(index)
	switch level {
	case beach.UVLow:
		return Hint{Color: ColorSuccess, Label: string(level)}
	case beach.UVModerate, beach.UVHigh:
		return Hint{Color: ColorWarning, Label: string(level)}
	default:
		return Hint{Color: ColorError, Label: string(level)}
	}
}
