// Package geo provides the distance, grid and slippy-tile primitives shared
// by the estimators, the cache admission layer and the tile encoder.
package geo

import "math"

const (
	earthRadiusM = 6371000.0

	// MetersPerDegree is the approximate ground length of one degree of
	// latitude, used for the simple degree<->meter conversion. Longitude
	// shrinks with cos(lat) but the grid deliberately uses the same
	// spacing on both axes.
	MetersPerDegree = 111320.0
)

// HaversineM returns the great-circle distance in meters between two
// WGS84 coordinates.
func HaversineM(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// MetersToDegrees converts a ground distance to the degree approximation
// used for grid spacing.
func MetersToDegrees(m float64) float64 {
	return m / MetersPerDegree
}

// DegreesToMeters is the inverse of MetersToDegrees.
func DegreesToMeters(deg float64) float64 {
	return deg * MetersPerDegree
}
