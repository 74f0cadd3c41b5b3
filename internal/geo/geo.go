// Package geo holds the coordinate type used for provider coverage and
// emergency matching.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusKm is the mean earth radius used by DistanceKm.
const EarthRadiusKm = 6371.0088

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat" db:"lat"`
	Lng float64 `json:"lng" db:"lng"`
}

// Validate rejects coordinates outside the valid ranges.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %v out of range", p.Lat)
	}
	if math.IsNaN(p.Lng) || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("longitude %v out of range", p.Lng)
	}
	return nil
}

// IsZero reports whether p is the zero coordinate, which the API treats as
// "not provided".
func (p Point) IsZero() bool {
	return p.Lat == 0 && p.Lng == 0
}

// DistanceKm returns the great-circle distance between a and b.
func DistanceKm(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// TravelMinutes estimates travel time at speedKmh, rounded up.
func TravelMinutes(distanceKm, speedKmh float64) int {
	if distanceKm <= 0 || speedKmh <= 0 {
		return 0
	}
	return int(math.Ceil(distanceKm / speedKmh * 60))
}
