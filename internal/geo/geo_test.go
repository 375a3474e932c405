package geo

import (
	"math"
	"testing"
)

func TestHaversineKnownDistances(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lng1, lat2, lng2 float64
		want                   float64 // meters
		tolerance              float64
	}{
		{"same point", 40.0, -74.0, 40.0, -74.0, 0, 0.001},
		{"one degree latitude", 0, 0, 1, 0, 111195, 100},
		{"equator tenth millidegree", 0, 0, 0.001, 0, 111.195, 0.5},
		{"paris to london", 48.8566, 2.3522, 51.5074, -0.1278, 343_500, 1500},
	}
	for _, tt := range tests {
		got := Haversine(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
		if math.Abs(got-tt.want) > tt.tolerance {
			t.Errorf("%s: Haversine = %.2f, want %.2f ± %.2f", tt.name, got, tt.want, tt.tolerance)
		}
	}
}

func TestFixedRoundTrip(t *testing.T) {
	for _, deg := range []float64{0, 40.712776, -74.005974, 89.999999, -180} {
		got := FromFixed(ToFixed(deg))
		if math.Abs(got-deg) > 1e-6 {
			t.Errorf("round trip %v -> %v", deg, got)
		}
	}
}

func TestToFixedRounds(t *testing.T) {
	if ToFixed(0.0000014) != 1 {
		t.Errorf("expected rounding to nearest integer, got %d", ToFixed(0.0000014))
	}
	if ToFixed(-0.0000016) != -2 {
		t.Errorf("expected rounding to nearest integer, got %d", ToFixed(-0.0000016))
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(45, 120); err != nil {
		t.Errorf("valid coordinate rejected: %v", err)
	}
	for _, c := range [][2]float64{{91, 0}, {-91, 0}, {0, 181}, {0, -181}, {math.NaN(), 0}} {
		if err := Validate(c[0], c[1]); err == nil {
			t.Errorf("expected rejection for (%v, %v)", c[0], c[1])
		}
	}
}
