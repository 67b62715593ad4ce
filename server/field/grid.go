package field

import (
	"math"

	"geoquest/shared/geo"
)

// gridCellDeg is roughly 110 m of latitude.
const gridCellDeg = 0.001

// maxCellSpan caps how many longitude cells a lookup walks; near the poles
// lookups fall back to a full scan instead.
const maxCellSpan = 64

type cell struct{ x, y int }

// grid buckets collectible ids by lat/lng cell.
type grid struct {
	cells map[cell]map[string]struct{}
}

func newGrid() *grid {
	return &grid{cells: make(map[cell]map[string]struct{})}
}

// lngCells is the number of longitude cells around the globe.
var lngCells = int(math.Round(360 / gridCellDeg))

func cellOf(p geo.LatLng) cell {
	return cell{
		x: wrapX(int(math.Floor(p.Lng / gridCellDeg))),
		y: int(math.Floor(p.Lat / gridCellDeg)),
	}
}

// wrapX folds a longitude cell index into [-lngCells/2, lngCells/2).
func wrapX(x int) int {
	half := lngCells / 2
	for x >= half {
		x -= lngCells
	}
	for x < -half {
		x += lngCells
	}
	return x
}

func (g *grid) insert(id string, p geo.LatLng) {
	c := cellOf(p)
	bucket, ok := g.cells[c]
	if !ok {
		bucket = make(map[string]struct{})
		g.cells[c] = bucket
	}
	bucket[id] = struct{}{}
}

func (g *grid) remove(id string, p geo.LatLng) {
	c := cellOf(p)
	if bucket, ok := g.cells[c]; ok {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(g.cells, c)
		}
	}
}

// near returns ids in every cell a radiusMeters circle around p can touch.
// ok is false when the span is too wide and the caller should scan instead.
func (g *grid) near(p geo.LatLng, radiusMeters float64) (ids []string, ok bool) {
	latSpan := geo.MetersToDegreesLat(radiusMeters)
	cos := math.Cos(p.Lat * math.Pi / 180)
	if cos < 1e-6 {
		return nil, false
	}
	lngSpan := latSpan / cos

	dy := int(math.Ceil(latSpan/gridCellDeg)) + 1
	dx := int(math.Ceil(lngSpan/gridCellDeg)) + 1
	if dx > maxCellSpan || dy > maxCellSpan {
		return nil, false
	}

	c := cellOf(p)
	for y := c.y - dy; y <= c.y+dy; y++ {
		for x := c.x - dx; x <= c.x+dx; x++ {
			for id := range g.cells[cell{x: wrapX(x), y: y}] {
				ids = append(ids, id)
			}
		}
	}
	return ids, true
}
