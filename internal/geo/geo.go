// Package geo holds the distance and time-window helpers shared by the
// matching engine. Everything here is pure and safe for concurrent use.
package geo

import (
	"math"
	"time"
)

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6371000.0

// Bounds is a latitude/longitude bounding box.
type Bounds struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Distance returns the great-circle distance in meters between two points
// using the haversine formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	// rounding can push a slightly outside [0,1] for antipodal or identical points
	if a < 0 {
		a = 0
	} else if a > 1 {
		a = 1
	}
	return EarthRadiusMeters * 2 * math.Asin(math.Sqrt(a))
}

// WithinWindow reports whether t lies in [ref-tol, ref+tol].
func WithinWindow(t, ref time.Time, tol time.Duration) bool {
	return !t.Before(ref.Add(-tol)) && !t.After(ref.Add(tol))
}

// CalculateBounds returns a box around (lat, lon) that contains every point
// within meters of it. The longitude span is clamped near the poles.
func CalculateBounds(lat, lon, meters float64) Bounds {
	latRad := lat * math.Pi / 180
	latOffset := meters / EarthRadiusMeters * 180 / math.Pi

	cosLat := math.Cos(latRad)
	lonOffset := 180.0
	if cosLat > 1e-9 {
		lonOffset = math.Min(180, meters/(EarthRadiusMeters*cosLat)*180/math.Pi)
	}

	return Bounds{
		MinLat: lat - latOffset,
		MaxLat: lat + latOffset,
		MinLon: lon - lonOffset,
		MaxLon: lon + lonOffset,
	}
}

// ValidCoordinate reports whether lat/lon are finite and inside the WGS84 range.
func ValidCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
