// Package achievements evaluates threshold achievements against a player.
package achievements

import (
	"fmt"
	"strings"

	"geoquest/shared/game/types"

	"github.com/zyedidia/generic/mapset"
)

type Metric string

const (
	MetricDistance Metric = "distance" // meters traveled
	MetricItems    Metric = "items"    // items collected
	MetricLevel    Metric = "level"
	// kind:<kind> counts one inventory bucket, e.g. kind:key
	kindPrefix = "kind:"
)

// Definition is one achievement.
type Definition struct {
	ID        string  `json:"id" yaml:"id"`
	Name      string  `json:"name" yaml:"name"`
	Metric    Metric  `json:"metric" yaml:"metric"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
	RewardXP  int     `json:"rewardXp" yaml:"rewardXp"`
}

func Defaults() []Definition {
	return []Definition{
		{ID: "first_steps", Name: "First Steps", Metric: MetricDistance, Threshold: 100, RewardXP: 10},
		{ID: "wanderer", Name: "Wanderer", Metric: MetricDistance, Threshold: 5000, RewardXP: 100},
		{ID: "marathon", Name: "Marathon", Metric: MetricDistance, Threshold: 42195, RewardXP: 500},
		{ID: "first_find", Name: "First Find", Metric: MetricItems, Threshold: 1, RewardXP: 5},
		{ID: "collector", Name: "Collector", Metric: MetricItems, Threshold: 25, RewardXP: 50},
		{ID: "hoarder", Name: "Hoarder", Metric: MetricItems, Threshold: 250, RewardXP: 250},
		{ID: "gem_cutter", Name: "Gem Cutter", Metric: "kind:gem", Threshold: 10, RewardXP: 50},
		{ID: "keymaster", Name: "Keymaster", Metric: "kind:key", Threshold: 1, RewardXP: 50},
		{ID: "level_5", Name: "Seasoned", Metric: MetricLevel, Threshold: 5, RewardXP: 0},
		{ID: "level_10", Name: "Veteran", Metric: MetricLevel, Threshold: 10, RewardXP: 0},
	}
}

// Validate checks ids are unique and every metric is known.
func Validate(defs []Definition) error {
	ids := mapset.New[string]()
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("achievement with empty id")
		}
		if ids.Has(d.ID) {
			return fmt.Errorf("achievement %q defined twice", d.ID)
		}
		ids.Put(d.ID)
		if _, err := value(d.Metric, &types.Player{}); err != nil {
			return fmt.Errorf("achievement %q: %w", d.ID, err)
		}
		if d.Threshold < 0 || d.RewardXP < 0 {
			return fmt.Errorf("achievement %q: threshold and reward must be non-negative", d.ID)
		}
	}
	return nil
}

func value(m Metric, p *types.Player) (float64, error) {
	switch m {
	case MetricDistance:
		return p.Stats.DistanceTraveled, nil
	case MetricItems:
		return float64(p.Stats.ItemsCollected), nil
	case MetricLevel:
		return float64(p.Level), nil
	}
	if k, ok := strings.CutPrefix(string(m), kindPrefix); ok {
		kind := types.Kind(k)
		if !kind.Known() {
			return 0, fmt.Errorf("unknown kind %q", k)
		}
		return float64(p.Inventory.Count(kind)), nil
	}
	return 0, fmt.Errorf("unknown metric %q", m)
}

// Evaluate returns definitions p has reached but not yet unlocked, in table order.
func Evaluate(defs []Definition, p *types.Player) []Definition {
	owned := mapset.New[string]()
	for _, id := range p.Achievements {
		owned.Put(id)
	}
	var out []Definition
	for _, d := range defs {
		if owned.Has(d.ID) {
			continue
		}
		v, err := value(d.Metric, p)
		if err != nil {
			continue
		}
		if v >= d.Threshold {
			out = append(out, d)
		}
	}
	return out
}
