package field

import (
	"math/rand"
	"time"

	"geoquest/shared/game/types"
)

// Picker draws kinds from a weighted table with a seedable source.
type Picker struct {
	rng   *rand.Rand
	kinds []types.KindDef
	total int
}

// NewPicker builds a picker over kinds. A zero seed uses the clock.
func NewPicker(kinds []types.KindDef, seed int64) (*Picker, error) {
	if err := types.ValidateKinds(kinds); err != nil {
		return nil, err
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	p := &Picker{
		rng:   rand.New(rand.NewSource(seed)),
		kinds: append([]types.KindDef(nil), kinds...),
	}
	for _, k := range kinds {
		p.total += k.Weight
	}
	return p, nil
}

// Choose returns the first kind, in table order, whose cumulative weight
// exceeds a uniform draw in [0, total).
func (p *Picker) Choose() types.KindDef {
	r := p.rng.Intn(p.total)
	upto := 0
	for _, k := range p.kinds {
		upto += k.Weight
		if r < upto {
			return k
		}
	}
	return p.kinds[len(p.kinds)-1]
}

// Float64 returns a uniform value in [0, 1).
func (p *Picker) Float64() float64 {
	return p.rng.Float64()
}
