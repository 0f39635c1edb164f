package models

import (
	"encoding/json"
	"testing"
)

// TestCoordinateKey verifies the 4-decimal key is stable under representation noise
// and that negative zero collapses to zero.
func TestCoordinateKey(t *testing.T) {
	tests := []struct {
		name string
		c    Coordinate
		want string
	}{
		{"portland", Coordinate{Lat: 45.5231, Lon: -122.6765}, "45.5231,-122.6765"},
		{"noise below 4th decimal", Coordinate{Lat: 45.52310000001, Lon: -122.67649999}, "45.5231,-122.6765"},
		{"negative zero", Coordinate{Lat: -0.00001, Lon: 0.00001}, "0.0000,0.0000"},
		{"integers padded", Coordinate{Lat: 40, Lon: -100}, "40.0000,-100.0000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.Key(); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestGeometryPoint verifies Point geometries round-trip and other shapes are rejected.
func TestGeometryPoint(t *testing.T) {
	c := Coordinate{Lat: 45.5, Lon: -122.6}
	got, ok := NewPoint(c).Point()
	if !ok || got != c {
		t.Errorf("NewPoint(c).Point() = %v, %v; want %v, true", got, ok, c)
	}

	poly := &Geometry{Type: "Polygon", Coordinates: json.RawMessage(`[[[0,0],[1,1],[1,0],[0,0]]]`)}
	if _, ok := poly.Point(); ok {
		t.Error("Polygon.Point() ok = true, want false")
	}
	var nilGeom *Geometry
	if _, ok := nilGeom.Point(); ok {
		t.Error("nil.Point() ok = true, want false")
	}
}

// TestFeatureCollectionClone verifies replacing properties on a clone leaves the source untouched.
func TestFeatureCollectionClone(t *testing.T) {
	src := NewFeatureCollection([]Feature{{
		Type:       "Feature",
		Geometry:   NewPoint(Coordinate{Lat: 1, Lon: 2}),
		Properties: map[string]any{"stationIdentifier": "KPDX"},
	}})
	dst := src.Clone()
	dst.Features[0].Properties["stationIdentifier"] = "KSEA"
	dst.Features[0].Properties["extra"] = "x"

	if got := src.Features[0].StationIdentifier(); got != "KPDX" {
		t.Errorf("source station = %q, want KPDX", got)
	}
	if _, ok := src.Features[0].Properties["extra"]; ok {
		t.Error("clone mutation leaked into source")
	}
	if NewFeatureCollection(nil).Features == nil {
		t.Error("NewFeatureCollection(nil).Features = nil, want empty slice")
	}
}
