package geo

import (
	"math"

	"fleet-tracker/internal/fleet"
)

const earthRadiusKm = 6371.0

func toRad(d float64) float64 { return d * math.Pi / 180 }

// HaversineKm is the great-circle distance between a and b in kilometres.
func HaversineKm(a, b fleet.Coordinate) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}

// Bearing is the initial heading from a to b in degrees, normalized to [0, 360).
func Bearing(a, b fleet.Coordinate) float64 {
	y := math.Sin(toRad(b.Lon-a.Lon)) * math.Cos(toRad(b.Lat))
	x := math.Cos(toRad(a.Lat))*math.Sin(toRad(b.Lat)) - math.Sin(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Cos(toRad(b.Lon-a.Lon))
	brng := math.Atan2(y, x) * 180.0 / math.Pi
	if brng < 0 {
		brng += 360
	}
	if brng >= 360 {
		brng -= 360
	}
	return brng
}

// Lerp interpolates linearly between a and b. t is clamped to [0, 1].
func Lerp(a, b fleet.Coordinate, t float64) fleet.Coordinate {
	if t <= 0 {
		return a
	}
	if t >= 1 {
		return b
	}
	return fleet.Coordinate{
		Lat: a.Lat + (b.Lat-a.Lat)*t,
		Lon: a.Lon + (b.Lon-a.Lon)*t,
	}
}

// CumDistances returns the cumulative haversine distance in km at each point.
func CumDistances(pts []fleet.Coordinate) []float64 {
	n := len(pts)
	if n == 0 {
		return nil
	}
	cum := make([]float64, n)
	sum := 0.0
	for i := 1; i < n; i++ {
		sum += HaversineKm(pts[i-1], pts[i])
		cum[i] = sum
	}
	return cum
}

// Interpolate walks a polyline whose points carry a non-decreasing profile
// (distance, time, index) and returns the position at value x together with
// the bearing of the bracketing segment.
func Interpolate(pts []fleet.Coordinate, profile []float64, x float64) (fleet.Coordinate, float64) {
	n := len(pts)
	if n == 0 || len(profile) != n {
		return fleet.Coordinate{}, 0
	}
	if n == 1 {
		return pts[0], 0
	}
	total := profile[n-1]
	if total <= profile[0] {
		return pts[0], Bearing(pts[0], pts[n-1])
	}
	if x <= profile[0] {
		return pts[0], Bearing(pts[0], pts[1])
	}
	if x >= total {
		return pts[n-1], Bearing(pts[n-2], pts[n-1])
	}
	i := 1
	for i < n && profile[i] < x {
		i++
	}
	if i >= n {
		i = n - 1
	}
	x0, x1 := profile[i-1], profile[i]
	p0, p1 := pts[i-1], pts[i]
	if x1 == x0 {
		return p0, Bearing(p0, p1)
	}
	return Lerp(p0, p1, (x-x0)/(x1-x0)), Bearing(p0, p1)
}
