package geo

import "fmt"

// Bounds is a lat/lng rectangle. West > East means the box crosses the antimeridian.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// BoundsAround returns the box extending radiusDeg degrees from center on every side.
func BoundsAround(center LatLng, radiusDeg float64) Bounds {
	sw := Normalize(LatLng{Lat: center.Lat - radiusDeg, Lng: center.Lng - radiusDeg})
	ne := Normalize(LatLng{Lat: center.Lat + radiusDeg, Lng: center.Lng + radiusDeg})
	if radiusDeg >= 180 {
		sw.Lng, ne.Lng = -180, 180
	}
	return Bounds{South: sw.Lat, West: sw.Lng, North: ne.Lat, East: ne.Lng}
}

func (b Bounds) Validate() error {
	if err := (LatLng{Lat: b.South, Lng: b.West}).Validate(); err != nil {
		return fmt.Errorf("south-west corner: %w", err)
	}
	if err := (LatLng{Lat: b.North, Lng: b.East}).Validate(); err != nil {
		return fmt.Errorf("north-east corner: %w", err)
	}
	if b.South > b.North {
		return fmt.Errorf("%w: south %v above north %v", ErrInvalidCoordinate, b.South, b.North)
	}
	return nil
}

func (b Bounds) Contains(p LatLng) bool {
	if p.Lat < b.South || p.Lat > b.North {
		return false
	}
	if b.West <= b.East {
		return p.Lng >= b.West && p.Lng <= b.East
	}
	return p.Lng >= b.West || p.Lng <= b.East
}

func (b Bounds) Center() LatLng {
	lng := (b.West + b.East) / 2
	if b.West > b.East {
		lng = Normalize(LatLng{Lng: (b.West + b.East + 360) / 2}).Lng
	}
	return LatLng{Lat: (b.South + b.North) / 2, Lng: lng}
}
