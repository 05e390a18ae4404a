package maps

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"googlemaps.github.io/maps"

	"fixit/internal/types"
)

var ErrNoRoute = errors.New("no route found")

type directionsClient interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// RouteService estimates technician travel time with the Google Maps Directions API.
type RouteService struct {
	client  directionsClient
	timeout time.Duration
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client, timeout: 3 * time.Second}, nil
}

// GetTravelEstimate returns the driving duration and a readable distance
// between two points.
func (s *RouteService) GetTravelEstimate(ctx context.Context, from, to types.Point) (time.Duration, string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	r := &maps.DirectionsRequest{
		Origin:        latLng(from),
		Destination:   latLng(to),
		Mode:          maps.TravelModeDriving,
		DepartureTime: "now",
		Language:      "ko",
		Region:        "KR",
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return 0, "", fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return 0, "", ErrNoRoute
	}

	leg := routes[0].Legs[0]
	d := leg.Duration
	if leg.DurationInTraffic > 0 {
		d = leg.DurationInTraffic
	}
	return d, leg.Distance.HumanReadable, nil
}

// ArrivalMinutes is the driving time rounded up to whole minutes.
func (s *RouteService) ArrivalMinutes(ctx context.Context, from, to types.Point) (int, error) {
	d, _, err := s.GetTravelEstimate(ctx, from, to)
	if err != nil {
		return 0, err
	}
	return int(math.Ceil(d.Minutes())), nil
}

func latLng(p types.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}
