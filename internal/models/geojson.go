package models

import (
	"encoding/json"
	"maps"
)

// Geometry is a GeoJSON geometry. Coordinates are kept raw because stations are
// points while forecast grids are polygons.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates,omitempty"`
}

// NewPoint builds a Point geometry at c.
func NewPoint(c Coordinate) *Geometry {
	raw, _ := json.Marshal([]float64{c.Lon, c.Lat})
	return &Geometry{Type: "Point", Coordinates: raw}
}

// Point returns the coordinate of a Point geometry. ok is false for any other
// geometry type or malformed coordinates.
func (g *Geometry) Point() (Coordinate, bool) {
	if g == nil || g.Type != "Point" || len(g.Coordinates) == 0 {
		return Coordinate{}, false
	}
	var lonLat []float64
	if err := json.Unmarshal(g.Coordinates, &lonLat); err != nil || len(lonLat) < 2 {
		return Coordinate{}, false
	}
	return Coordinate{Lat: lonLat[1], Lon: lonLat[0]}, true
}

// Feature is a GeoJSON feature with free-form properties as returned upstream.
// After merging, Properties holds only flat string values.
type Feature struct {
	ID         string         `json:"id,omitempty"`
	Type       string         `json:"type"`
	Geometry   *Geometry      `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// StringProperty returns the named top-level property when it is a non-empty string.
func (f Feature) StringProperty(name string) string {
	if f.Properties == nil {
		return ""
	}
	s, _ := f.Properties[name].(string)
	return s
}

// StationIdentifier returns the station's identifier, or "" when absent.
func (f Feature) StationIdentifier() string {
	return f.StringProperty("stationIdentifier")
}

// Clone returns a copy whose Properties map can be replaced without touching f.
// Nested property values are shared; they are only read.
func (f Feature) Clone() Feature {
	out := f
	if f.Geometry != nil {
		g := *f.Geometry
		out.Geometry = &g
	}
	out.Properties = maps.Clone(f.Properties)
	return out
}

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// NewFeatureCollection returns an empty collection with the GeoJSON type set.
func NewFeatureCollection(features []Feature) FeatureCollection {
	if features == nil {
		features = []Feature{}
	}
	return FeatureCollection{Type: "FeatureCollection", Features: features}
}

// Clone deep-copies the feature slice so the orchestrator can own its merge target.
func (fc FeatureCollection) Clone() FeatureCollection {
	features := make([]Feature, len(fc.Features))
	for i, f := range fc.Features {
		features[i] = f.Clone()
	}
	return NewFeatureCollection(features)
}
