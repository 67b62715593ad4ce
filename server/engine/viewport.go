package engine

import (
	"geoquest/shared/geo"
)

// Viewport is the visible map area collectibles are spawned for.
type Viewport interface {
	Center() geo.LatLng
	Zoom() float64
	Bounds() geo.Bounds
}

// View is a fixed Viewport, as reported by a client.
type View struct {
	CenterAt  geo.LatLng `json:"center"`
	ZoomLevel float64    `json:"zoom"`
	Box       geo.Bounds `json:"bounds"`
}

func (v View) Center() geo.LatLng { return v.CenterAt }
func (v View) Zoom() float64      { return v.ZoomLevel }
func (v View) Bounds() geo.Bounds { return v.Box }
