// Package geo provides haversine distance and a cell-grid spatial
// index with ring queries, used to narrow candidate drivers near a
// pickup before scoring.
package geo

import "math"

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64
	Lng float64
}

const earthRadiusM = 6371000.0

// HaversineM returns the great-circle distance between two points in meters.
func HaversineM(a, b Point) float64 {
	var p1 = a.Lat * math.Pi / 180
	var p2 = b.Lat * math.Pi / 180
	var dPhi = (b.Lat - a.Lat) * math.Pi / 180
	var dLambda = (b.Lng - a.Lng) * math.Pi / 180

	var h = math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(p1)*math.Cos(p2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}
