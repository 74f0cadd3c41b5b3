package geo

import (
	"math"
	"testing"
)

func TestDistanceKm(t *testing.T) {
	bogota := Point{Lat: 4.7110, Lng: -74.0721}
	medellin := Point{Lat: 6.2442, Lng: -75.5812}

	got := DistanceKm(bogota, medellin)
	if math.Abs(got-240) > 5 {
		t.Fatalf("distance = %.1f km, want about 240", got)
	}
	if DistanceKm(bogota, bogota) != 0 {
		t.Fatalf("distance to self should be zero")
	}
	if math.Abs(DistanceKm(bogota, medellin)-DistanceKm(medellin, bogota)) > 1e-9 {
		t.Fatalf("distance should be symmetric")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		p     Point
		valid bool
	}{
		{Point{Lat: 0, Lng: 0}, true},
		{Point{Lat: 90, Lng: 180}, true},
		{Point{Lat: 90.1, Lng: 0}, false},
		{Point{Lat: 0, Lng: -180.5}, false},
		{Point{Lat: math.NaN(), Lng: 0}, false},
	}
	for _, tc := range tests {
		if err := tc.p.Validate(); (err == nil) != tc.valid {
			t.Errorf("Validate(%+v) = %v, want valid=%v", tc.p, err, tc.valid)
		}
	}
}

func TestTravelMinutes(t *testing.T) {
	if got := TravelMinutes(10, 40); got != 15 {
		t.Fatalf("TravelMinutes(10, 40) = %d, want 15", got)
	}
	if got := TravelMinutes(0.1, 40); got != 1 {
		t.Fatalf("short trips round up to a minute, got %d", got)
	}
	if got := TravelMinutes(0, 40); got != 0 {
		t.Fatalf("zero distance should be zero minutes, got %d", got)
	}
}
