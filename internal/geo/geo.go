// Package geo holds the small amount of spherical geometry the dispatcher needs.
package geo

import "math"

// EarthRadiusKm is the mean earth radius used by DistanceKm.
const EarthRadiusKm = 6371.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DistanceKm returns the great-circle distance between two coordinates using the haversine formula.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// Between is DistanceKm over two points.
func Between(a, b Point) float64 { return DistanceKm(a.Lat, a.Lng, b.Lat, b.Lng) }

// Interpolate returns the point at fraction along the straight line between two coordinates.
// Callers keep fraction within [0,1].
func Interpolate(lat1, lng1, lat2, lng2, fraction float64) (float64, float64) {
	return lat1 + (lat2-lat1)*fraction, lng1 + (lng2-lng1)*fraction
}

// Lerp is Interpolate over two points.
func Lerp(a, b Point, fraction float64) Point {
	lat, lng := Interpolate(a.Lat, a.Lng, b.Lat, b.Lng, fraction)
	return Point{Lat: lat, Lng: lng}
}

// WithinRadius reports whether target lies within radiusKm of center.
func WithinRadius(center, target Point, radiusKm float64) bool {
	return Between(center, target) <= radiusKm
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
