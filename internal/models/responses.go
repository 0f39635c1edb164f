package models

// PointsResponse is GET /points/{lat},{lon}. ObservationStations and Forecast are
// optional upstream; a point outside coverage has neither.
type PointsResponse struct {
	ID         string           `json:"id,omitempty"`
	Type       string           `json:"type"`
	Geometry   *Geometry        `json:"geometry"`
	Properties PointsProperties `json:"properties"`
}

// PointsProperties lists the fields the orchestrator relies on plus the raw
// property bag used when inspecting a clicked point.
type PointsProperties struct {
	GridID              string         `json:"gridId"`
	GridX               int            `json:"gridX"`
	GridY               int            `json:"gridY"`
	Forecast            string         `json:"forecast"`
	ForecastHourly      string         `json:"forecastHourly"`
	ObservationStations string         `json:"observationStations"`
	RelativeLocation    map[string]any `json:"relativeLocation,omitempty"`
	TimeZone            string         `json:"timeZone,omitempty"`
}

// StationsResponse is GET {observationStations}.
type StationsResponse = FeatureCollection

// ObservationResponse is GET /stations/{id}/observations/latest.
type ObservationResponse = Feature

// ForecastResponse is GET {forecast}.
type ForecastResponse = Feature

// Map returns the point metadata as a property bag for merging into a feature.
func (p PointsProperties) Map() map[string]any {
	out := map[string]any{
		"gridId":              p.GridID,
		"gridX":               p.GridX,
		"gridY":               p.GridY,
		"forecast":            p.Forecast,
		"forecastHourly":      p.ForecastHourly,
		"observationStations": p.ObservationStations,
	}
	if p.TimeZone != "" {
		out["timeZone"] = p.TimeZone
	}
	if p.RelativeLocation != nil {
		out["relativeLocation"] = p.RelativeLocation
	}
	return out
}
