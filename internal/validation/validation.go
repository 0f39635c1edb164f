// Package validation checks inbound map coordinates before they reach the orchestrator.
package validation

import (
	"errors"
	"math"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/weather-map-service/internal/models"
)

var (
	ErrCoordinateMissing = errors.New("lat and lon are required")
	ErrLatitudeRange     = errors.New("lat must be between -90 and 90")
	ErrLongitudeRange    = errors.New("lon must be between -180 and 180")
	ErrEventInvalid      = errors.New("event must be stationary or click")
)

var validate = validator.New()

// CoordinateRequest is the body of view and click requests. Pointers
// distinguish a missing coordinate from an explicit zero.
type CoordinateRequest struct {
	Lat   *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon   *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
	Event string   `json:"event,omitempty" validate:"omitempty,oneof=stationary click"`
}

// Coordinate validates r and returns the normalized coordinate.
func (r CoordinateRequest) Coordinate() (models.Coordinate, error) {
	if err := validate.Struct(r); err != nil {
		return models.Coordinate{}, mapError(err)
	}
	if math.IsNaN(*r.Lat) || math.IsInf(*r.Lat, 0) {
		return models.Coordinate{}, ErrLatitudeRange
	}
	if math.IsNaN(*r.Lon) || math.IsInf(*r.Lon, 0) {
		return models.Coordinate{}, ErrLongitudeRange
	}
	return models.Coordinate{Lat: *r.Lat, Lon: *r.Lon}.Normalize(), nil
}

// mapError turns the first validator failure into one of the sentinels above.
func mapError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	if fe.Tag() == "required" {
		return ErrCoordinateMissing
	}
	switch fe.Field() {
	case "Lat":
		return ErrLatitudeRange
	case "Lon":
		return ErrLongitudeRange
	case "Event":
		return ErrEventInvalid
	}
	return err
}
