// Package geo provides the coordinate primitives shared by the zone
// tracker, kill verifier, and heartbeat enforcer.
package geo

import (
	"errors"
	"math"
)

// The contract stores coordinates as integers: degrees x 1e6.
const FixedScale = 1e6

// Mean earth radius in meters.
const earthRadiusM = 6371000.0

var ErrBadCoordinate = errors.New("coordinate out of range")

// ToFixed converts degrees to the contract's fixed-point integer form.
func ToFixed(deg float64) int64 {
	return int64(math.Round(deg * FixedScale))
}

// FromFixed converts a contract integer back to degrees.
func FromFixed(v int64) float64 {
	return float64(v) / FixedScale
}

// Validate rejects coordinates outside the WGS84 domain.
func Validate(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return ErrBadCoordinate
	}
	return nil
}

// Haversine returns the great-circle distance in meters between two points.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// HaversineFixed is Haversine over contract integers.
func HaversineFixed(lat1, lng1, lat2, lng2 int64) float64 {
	return Haversine(FromFixed(lat1), FromFixed(lng1), FromFixed(lat2), FromFixed(lng2))
}
