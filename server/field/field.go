// Package field spawns collectibles around a map viewport and tracks which
// of them are still out there.
package field

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"geoquest/shared/game/types"
	"geoquest/shared/geo"

	"github.com/google/uuid"
	"github.com/zyedidia/generic/mapset"
)

var (
	ErrAlreadyCollected   = errors.New("collectible already collected")
	ErrUnknownCollectible = errors.New("unknown collectible")
	ErrInvalidZoom        = errors.New("invalid zoom")
)

const (
	MinSpawn     = 5
	MaxSpawn     = 50
	SpawnPerZoom = 3.0
	// ScatterDeg / zoom is the half-width, in degrees, of the spawn square.
	ScatterDeg = 0.1
)

// SpawnCount is clamp(MinSpawn, MaxSpawn, floor(zoom * SpawnPerZoom)).
func SpawnCount(zoom float64) int {
	n := int(math.Floor(zoom * SpawnPerZoom))
	if n < MinSpawn {
		return MinSpawn
	}
	if n > MaxSpawn {
		return MaxSpawn
	}
	return n
}

// ScatterRadius is the spawn half-width in degrees for zoom.
func ScatterRadius(zoom float64) float64 {
	return ScatterDeg / zoom
}

// Field is the live set of collectibles. It is not safe for concurrent use;
// the engine serializes access.
type Field struct {
	picker    *Picker
	live      map[string]*types.Collectible
	order     []string
	index     *grid
	collected mapset.Set[string]
	newID     func() string
}

// New returns an empty field drawing from kinds. seed 0 seeds from the clock.
func New(kinds []types.KindDef, seed int64) (*Field, error) {
	picker, err := NewPicker(kinds, seed)
	if err != nil {
		return nil, fmt.Errorf("field: %w", err)
	}
	return &Field{
		picker:    picker,
		live:      make(map[string]*types.Collectible),
		index:     newGrid(),
		collected: mapset.New[string](),
		newID:     uuid.NewString,
	}, nil
}

// Generate spawns SpawnCount(zoom) collectibles scattered around center.
func (f *Field) Generate(center geo.LatLng, zoom float64) ([]types.Collectible, error) {
	if err := center.Validate(); err != nil {
		return nil, err
	}
	if math.IsNaN(zoom) || math.IsInf(zoom, 0) || zoom <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidZoom, zoom)
	}

	n := SpawnCount(zoom)
	radius := ScatterRadius(zoom)
	out := make([]types.Collectible, 0, n)
	for i := 0; i < n; i++ {
		kind := f.picker.Choose()
		pos := geo.Normalize(geo.LatLng{
			Lat: center.Lat + (f.picker.Float64()*2-1)*radius,
			Lng: center.Lng + (f.picker.Float64()*2-1)*radius,
		})
		c := &types.Collectible{
			ID:       f.newID(),
			Kind:     kind.Kind,
			Rarity:   kind.Rarity,
			XP:       kind.XP,
			Position: pos,
		}
		f.add(c)
		out = append(out, *c)
	}
	return out, nil
}

// Place adds a collectible at an explicit position and returns it.
func (f *Field) Place(def types.KindDef, pos geo.LatLng) (types.Collectible, error) {
	if err := pos.Validate(); err != nil {
		return types.Collectible{}, err
	}
	c := &types.Collectible{
		ID:       f.newID(),
		Kind:     def.Kind,
		Rarity:   def.Rarity,
		XP:       def.XP,
		Position: pos,
	}
	f.add(c)
	return *c, nil
}

func (f *Field) add(c *types.Collectible) {
	f.live[c.ID] = c
	f.order = append(f.order, c.ID)
	f.index.insert(c.ID, c.Position)
}

func (f *Field) drop(id string) {
	c, ok := f.live[id]
	if !ok {
		return
	}
	f.index.remove(id, c.Position)
	delete(f.live, id)
	for i, o := range f.order {
		if o == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

// Lookup returns a live, uncollected collectible.
func (f *Field) Lookup(id string) (types.Collectible, error) {
	if f.collected.Has(id) {
		return types.Collectible{}, fmt.Errorf("%w: %s", ErrAlreadyCollected, id)
	}
	c, ok := f.live[id]
	if !ok {
		return types.Collectible{}, fmt.Errorf("%w: %s", ErrUnknownCollectible, id)
	}
	return *c, nil
}

// MarkCollected flags id as collected and retires it from the live set.
// Collecting the same id again returns ErrAlreadyCollected and changes nothing.
func (f *Field) MarkCollected(id string) (types.Collectible, error) {
	c, err := f.Lookup(id)
	if err != nil {
		return types.Collectible{}, err
	}
	f.drop(id)
	f.collected.Put(id)
	c.Collected = true
	return c, nil
}

// IsCollected reports whether id was collected during this field's lifetime.
func (f *Field) IsCollected(id string) bool {
	return f.collected.Has(id)
}

// Region is anything that can tell whether a point is inside it; geo.Bounds
// is the usual one.
type Region interface {
	Contains(geo.LatLng) bool
}

// Prune retires every uncollected collectible outside bounds and returns their ids.
func (f *Field) Prune(bounds Region) []string {
	var gone []string
	for _, id := range f.order {
		if c := f.live[id]; !bounds.Contains(c.Position) {
			gone = append(gone, id)
		}
	}
	for _, id := range gone {
		f.drop(id)
	}
	return gone
}

// Clear retires every live collectible. Collection history is kept.
func (f *Field) Clear() []string {
	gone := append([]string(nil), f.order...)
	for _, id := range gone {
		f.drop(id)
	}
	return gone
}

// Within returns live collectibles no farther than radiusMeters from p,
// nearest first.
func (f *Field) Within(p geo.LatLng, radiusMeters float64) ([]types.Collectible, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	candidates, ok := f.index.near(p, radiusMeters)
	if !ok {
		candidates = append([]string(nil), f.order...)
	}

	type hit struct {
		c    types.Collectible
		dist float64
	}
	var hits []hit
	for _, id := range candidates {
		c, ok := f.live[id]
		if !ok {
			continue
		}
		d, err := geo.DistanceMeters(p, c.Position)
		if err != nil {
			return nil, err
		}
		if d <= radiusMeters {
			hits = append(hits, hit{c: *c, dist: d})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].c.ID < hits[j].c.ID
	})

	out := make([]types.Collectible, len(hits))
	for i, h := range hits {
		out[i] = h.c
	}
	return out, nil
}

// Live returns the uncollected collectibles in spawn order.
func (f *Field) Live() []types.Collectible {
	out := make([]types.Collectible, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, *f.live[id])
	}
	return out
}

func (f *Field) Len() int { return len(f.order) }
