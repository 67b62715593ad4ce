package types

import (
	"fmt"

	"geoquest/shared/geo"
)

// Kind is the inventory bucket a collectible lands in.
type Kind string

const (
	KindStar   Kind = "star"
	KindGem    Kind = "gem"
	KindTrophy Kind = "trophy"
	KindKey    Kind = "key"
)

// KindDef is one row of the spawn table.
type KindDef struct {
	Kind   Kind   `json:"kind" yaml:"kind"`
	Rarity Rarity `json:"rarity" yaml:"rarity"`
	Weight int    `json:"weight" yaml:"weight"` // relative spawn weight
	XP     int    `json:"xp" yaml:"xp"`
}

// DefaultKinds is the spawn table in draw order. Weights sum to 100.
func DefaultKinds() []KindDef {
	return []KindDef{
		{Kind: KindStar, Rarity: RarityCommon, Weight: 60, XP: 10},
		{Kind: KindGem, Rarity: RarityRare, Weight: 25, XP: 25},
		{Kind: KindTrophy, Rarity: RarityEpic, Weight: 10, XP: 50},
		{Kind: KindKey, Rarity: RarityLegendary, Weight: 5, XP: 100},
	}
}

// ValidateKinds checks a spawn table is usable for weighted draws.
func ValidateKinds(kinds []KindDef) error {
	if len(kinds) == 0 {
		return fmt.Errorf("kind table is empty")
	}
	seen := map[Kind]bool{}
	total := 0
	for _, k := range kinds {
		if !k.Kind.Known() {
			return fmt.Errorf("unknown kind %q", k.Kind)
		}
		if seen[k.Kind] {
			return fmt.Errorf("kind %q listed twice", k.Kind)
		}
		seen[k.Kind] = true
		if k.Weight < 0 || k.XP < 0 {
			return fmt.Errorf("kind %q: weight and xp must be non-negative", k.Kind)
		}
		total += k.Weight
	}
	if total <= 0 {
		return fmt.Errorf("kind table has zero total weight")
	}
	return nil
}

func (k Kind) Known() bool {
	switch k {
	case KindStar, KindGem, KindTrophy, KindKey:
		return true
	}
	return false
}

// Collectible is a spawned item anchored to a map position.
type Collectible struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"kind"`
	Rarity    Rarity     `json:"rarity"`
	XP        int        `json:"xp"`
	Position  geo.LatLng `json:"position"`
	Collected bool       `json:"collected"`
}
