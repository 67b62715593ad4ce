// Package geo holds the coordinate types and great-circle math shared by the
// engine, the hub and the walker bot. All distances are metres.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by every distance calculation.
const EarthRadiusMeters = 6371e3

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// LatLng is a geographic point in decimal degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p LatLng) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Lat, p.Lng)
}

// Validate rejects NaN, infinities and out-of-range values.
func (p LatLng) Validate() error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, p.Lat)
	}
	if math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, p.Lng)
	}
	return nil
}

// DistanceMeters returns the Haversine distance between a and b.
func DistanceMeters(a, b LatLng) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	return haversine(a, b), nil
}

func haversine(a, b LatLng) float64 {
	if a == b {
		return 0
	}
	lat1 := toRad(a.Lat)
	lat2 := toRad(b.Lat)
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// rounding can push h a hair past 1 for antipodal points
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// OffsetMeters moves p north and east by the given distances using a local
// flat approximation. Good for the few hundred metres a walk step covers.
func OffsetMeters(p LatLng, north, east float64) LatLng {
	lat := p.Lat + toDeg(north/EarthRadiusMeters)
	lng := p.Lng
	if c := math.Cos(toRad(p.Lat)); c > 1e-12 {
		lng += toDeg(east / (EarthRadiusMeters * c))
	}
	return Normalize(LatLng{Lat: lat, Lng: lng})
}

// Normalize clamps latitude to [-90, 90] and wraps longitude into [-180, 180].
func Normalize(p LatLng) LatLng {
	p.Lat = math.Max(-90, math.Min(90, p.Lat))
	if p.Lng > 180 || p.Lng < -180 {
		p.Lng = math.Mod(p.Lng+180, 360)
		if p.Lng < 0 {
			p.Lng += 360
		}
		p.Lng -= 180
	}
	return p
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }
func toDeg(rad float64) float64 { return rad * 180 / math.Pi }

// MetersToDegreesLat converts a north/south distance to degrees of latitude.
func MetersToDegreesLat(m float64) float64 { return toDeg(m / EarthRadiusMeters) }
