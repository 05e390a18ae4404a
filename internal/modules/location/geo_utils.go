// Package location geo_utils contains pure geographic computation helpers.
package location

import (
	"math"

	"fixit/internal/types"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance in kilometres between two
// points specified in decimal degrees.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// Distance is DistanceKm for two points.
func Distance(a, b types.Point) float64 {
	return DistanceKm(a.Lat, a.Lng, b.Lat, b.Lng)
}

// ETAMinutes estimates arrival time: travel at speedKmh rounded up to the
// minute, plus a fixed preparation time.
func ETAMinutes(distanceKm, speedKmh float64, prepMinutes int) int {
	return int(math.Ceil(distanceKm*60/speedKmh)) + prepMinutes
}

// OffsetNorth returns the point distanceKm due north of p. Useful for
// placing fixtures at an exact great-circle distance.
func OffsetNorth(p types.Point, distanceKm float64) types.Point {
	return types.Point{Lat: p.Lat + distanceKm/earthRadiusKm*180.0/math.Pi, Lng: p.Lng}
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// SortByDistance is a stable insertion sort, closest first, for the short
// candidate lists proximity queries produce.
func SortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
