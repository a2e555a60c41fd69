// Package geo holds the spherical and planar geometry used by the
// pipeline: great-circle distances, initial bearings, angle wrapping,
// and the local equirectangular frame used for neighbor search.
//
// All angles are radians. Bearings follow the navigation convention:
// 0 is north, increasing clockwise, in [0, 2π).
package geo

import (
	"math"

	"github.com/golang/geo/s2"
)

// EarthRadiusMeters is the mean earth radius used for all spherical math.
const EarthRadiusMeters = 6371000.0

// Haversine returns the great-circle distance in meters between two
// lon/lat points given in degrees.
func Haversine(lon1, lat1, lon2, lat2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lon1)
	p2 := s2.LatLngFromDegrees(lat2, lon2)
	return p1.Distance(p2).Radians() * EarthRadiusMeters
}

// Bearing returns the initial bearing from point 1 to point 2 in
// radians, wrapped to [0, 2π). Inputs are degrees.
func Bearing(lon1, lat1, lon2, lat2 float64) float64 {
	lat1r := lat1 * math.Pi / 180
	lat2r := lat2 * math.Pi / 180
	dlon := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(dlon) * math.Cos(lat2r)
	x := math.Cos(lat1r)*math.Cos(lat2r) - math.Sin(lat1r)*math.Sin(lat2r)*math.Cos(dlon)
	ang := math.Atan2(y, x)
	return math.Mod(ang+2*math.Pi, 2*math.Pi)
}

// LocalFrame is an equirectangular projection centered on a reference
// point. X is east, Y is north, both in meters. The approximation is
// good for extents small relative to the earth radius, which is the
// regime of the neighbor search.
type LocalFrame struct {
	Lon0, Lat0 float64 // center, degrees
	cosLat0    float64
}

// NewLocalFrame builds a frame centered on (lon0, lat0) degrees.
func NewLocalFrame(lon0, lat0 float64) LocalFrame {
	return LocalFrame{
		Lon0:    lon0,
		Lat0:    lat0,
		cosLat0: math.Cos(lat0 * math.Pi / 180),
	}
}

// Project maps a lon/lat point (degrees) into the frame's planar
// coordinates in meters.
func (f LocalFrame) Project(lon, lat float64) (x, y float64) {
	x = EarthRadiusMeters * (lon - f.Lon0) * math.Pi / 180 * f.cosLat0
	y = EarthRadiusMeters * (lat - f.Lat0) * math.Pi / 180
	return x, y
}

// WrapSigned wraps an angle to [−π, π).
func WrapSigned(a float64) float64 {
	w := math.Mod(a+math.Pi, 2*math.Pi)
	if w < 0 {
		w += 2 * math.Pi
	}
	return w - math.Pi
}

// WrapPositive wraps an angle to [0, 2π).
func WrapPositive(a float64) float64 {
	w := math.Mod(a, 2*math.Pi)
	if w < 0 {
		w += 2 * math.Pi
	}
	return w
}

// AngularDiff returns the absolute angular separation between two
// angles, wrapped to [0, π].
func AngularDiff(a, b float64) float64 {
	return math.Abs(WrapSigned(a - b))
}
