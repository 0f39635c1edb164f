package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/kjstillabower/weather-map-service/internal/models"
)

// Endpoint labels, shared by metrics, logs and failure markers.
const (
	EndpointPoints       = "points"
	EndpointStations     = "stations"
	EndpointObservations = "observations"
	EndpointForecasts    = "forecasts"
)

// WeatherAPI is the set of upstream lookups the map refresh depends on.
// Every method returns an error when the resource is absent for any reason.
type WeatherAPI interface {
	Points(ctx context.Context, c models.Coordinate) (*models.PointsResponse, error)
	Stations(ctx context.Context, stationsURL string) (*models.StationsResponse, error)
	LatestObservation(ctx context.Context, stationID string) (*models.ObservationResponse, error)
	Forecast(ctx context.Context, forecastURL string) (*models.ForecastResponse, error)
}

// NWSClient implements WeatherAPI against api.weather.gov.
type NWSClient struct {
	baseURL string
	fetcher *Fetcher
}

// NewNWSClient returns a client rooted at baseURL.
func NewNWSClient(baseURL string, fetcher *Fetcher) (*NWSClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	return &NWSClient{baseURL: strings.TrimRight(baseURL, "/"), fetcher: fetcher}, nil
}

// PointsURL is the grid-point metadata URL for c, using the 4-decimal key.
func (c *NWSClient) PointsURL(coord models.Coordinate) string {
	return c.baseURL + "/points/" + coord.Key()
}

// Points resolves a coordinate to its grid-point metadata.
func (c *NWSClient) Points(ctx context.Context, coord models.Coordinate) (*models.PointsResponse, error) {
	var out models.PointsResponse
	if err := c.fetcher.GetJSON(ctx, EndpointPoints, coord.Key(), c.PointsURL(coord), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stations fetches the observation stations list a points response links to.
func (c *NWSClient) Stations(ctx context.Context, stationsURL string) (*models.StationsResponse, error) {
	var out models.StationsResponse
	if err := c.fetcher.GetJSON(ctx, EndpointStations, stationsURL, stationsURL, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LatestObservation fetches the most recent observation for a station.
func (c *NWSClient) LatestObservation(ctx context.Context, stationID string) (*models.ObservationResponse, error) {
	if stationID == "" {
		return nil, fmt.Errorf("%w: empty station identifier", ErrRejected)
	}
	u := c.baseURL + "/stations/" + url.PathEscape(stationID) + "/observations/latest"
	var out models.ObservationResponse
	if err := c.fetcher.GetJSON(ctx, EndpointObservations, stationID, u, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Forecast fetches a forecast document by URL.
func (c *NWSClient) Forecast(ctx context.Context, forecastURL string) (*models.ForecastResponse, error) {
	if forecastURL == "" {
		return nil, fmt.Errorf("%w: empty forecast URL", ErrRejected)
	}
	var out models.ForecastResponse
	if err := c.fetcher.GetJSON(ctx, EndpointForecasts, forecastURL, forecastURL, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
