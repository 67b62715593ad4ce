package achievements

import (
	"testing"

	"geoquest/shared/game/types"
)

func TestDefaultsValid(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatal(err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string][]Definition{
		"duplicate":      {{ID: "a", Metric: MetricItems}, {ID: "a", Metric: MetricLevel}},
		"empty id":       {{Metric: MetricItems}},
		"unknown metric": {{ID: "a", Metric: "speed"}},
		"unknown kind":   {{ID: "a", Metric: "kind:coin"}},
		"negative":       {{ID: "a", Metric: MetricItems, Threshold: -1}},
	}
	for name, defs := range cases {
		if err := Validate(defs); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestEvaluate(t *testing.T) {
	defs := []Definition{
		{ID: "walk", Metric: MetricDistance, Threshold: 100},
		{ID: "find", Metric: MetricItems, Threshold: 2},
		{ID: "keys", Metric: "kind:key", Threshold: 1},
		{ID: "lvl", Metric: MetricLevel, Threshold: 3},
	}
	p := &types.Player{Level: 3}
	p.Stats.DistanceTraveled = 150
	p.Stats.ItemsCollected = 1
	p.Inventory.Keys = 1
	p.Achievements = []string{"lvl"}

	got := Evaluate(defs, p)
	if len(got) != 2 || got[0].ID != "walk" || got[1].ID != "keys" {
		t.Fatalf("Evaluate = %+v, want [walk keys]", got)
	}

	p.Achievements = append(p.Achievements, "walk", "keys")
	if got := Evaluate(defs, p); len(got) != 0 {
		t.Errorf("already unlocked achievements returned again: %+v", got)
	}
}
