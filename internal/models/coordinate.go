package models

import (
	"fmt"
	"math"
)

// Coordinate is a latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Round4 rounds v to 4 decimal places. Negative zero collapses to zero so that
// keys for -0.00001 and 0.00001 collide.
func Round4(v float64) float64 {
	r := math.Round(v*1e4) / 1e4
	if r == 0 {
		return 0
	}
	return r
}

// Normalize returns the coordinate rounded to 4 decimal places.
func (c Coordinate) Normalize() Coordinate {
	return Coordinate{Lat: Round4(c.Lat), Lon: Round4(c.Lon)}
}

// Key is the deterministic cache key for the coordinate ("lat,lon" with 4 decimals).
// Representation noise below the 4th decimal does not change the key.
func (c Coordinate) Key() string {
	n := c.Normalize()
	return fmt.Sprintf("%.4f,%.4f", n.Lat, n.Lon)
}
