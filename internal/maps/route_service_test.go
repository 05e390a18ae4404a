package maps

import (
	"context"
	"errors"
	"testing"
	"time"

	"googlemaps.github.io/maps"

	"fixit/internal/types"
)

type fakeDirections struct {
	routes []maps.Route
	err    error
	got    *maps.DirectionsRequest
}

func (f *fakeDirections) Directions(_ context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error) {
	f.got = r
	return f.routes, nil, f.err
}

func routeOf(d, inTraffic time.Duration) []maps.Route {
	return []maps.Route{{Legs: []*maps.Leg{{
		Duration:          d,
		DurationInTraffic: inTraffic,
		Distance:          maps.Distance{HumanReadable: "2.1 km", Meters: 2100},
	}}}}
}

func TestArrivalMinutes(t *testing.T) {
	tests := []struct {
		name   string
		routes []maps.Route
		want   int
	}{
		{"rounds up", routeOf(6*time.Minute+10*time.Second, 0), 7},
		{"prefers traffic estimate", routeOf(6*time.Minute, 11*time.Minute), 11},
		{"exact minutes", routeOf(8*time.Minute, 0), 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeDirections{routes: tt.routes}
			s := &RouteService{client: fake}
			got, err := s.ArrivalMinutes(context.Background(), types.Point{Lat: 37.5, Lng: 127.03}, types.Point{Lat: 37.51, Lng: 127.04})
			if err != nil {
				t.Fatalf("arrival: %v", err)
			}
			if got != tt.want {
				t.Fatalf("minutes = %d, want %d", got, tt.want)
			}
			if fake.got.Origin != "37.500000,127.030000" || fake.got.Mode != maps.TravelModeDriving {
				t.Fatalf("request = %+v", fake.got)
			}
		})
	}
}

func TestArrivalMinutes_Errors(t *testing.T) {
	s := &RouteService{client: &fakeDirections{}}
	if _, err := s.ArrivalMinutes(context.Background(), types.Point{}, types.Point{}); !errors.Is(err, ErrNoRoute) {
		t.Fatalf("got %v, want ErrNoRoute", err)
	}

	s = &RouteService{client: &fakeDirections{err: errors.New("quota")}}
	if _, err := s.ArrivalMinutes(context.Background(), types.Point{}, types.Point{}); err == nil {
		t.Fatal("expected api error")
	}
}
