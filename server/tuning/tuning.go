// Package tuning holds the game-design numbers the engine runs on. Defaults
// are built in; a YAML file may override any subset of them.
package tuning

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"geoquest/server/achievements"
	"geoquest/server/progression"
	"geoquest/shared/game/types"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	BaseXPToNext int     `yaml:"baseXpToNext"`
	LevelGrowth  float64 `yaml:"levelGrowth"`
	// below this zoom no collectibles are spawned or shown
	ZoomThreshold       float64 `yaml:"zoomThreshold"`
	CollectRadiusMeters float64 `yaml:"collectRadiusMeters"`
	MetersPerXP         float64 `yaml:"metersPerXp"`
	HistoryLimit        int     `yaml:"historyLimit"`
	// 0 seeds the spawn RNG from the clock
	Seed         int64                     `yaml:"seed"`
	Kinds        []types.KindDef           `yaml:"kinds"`
	Achievements []achievements.Definition `yaml:"achievements"`
}

func Default() Tuning {
	c := progression.DefaultCurve()
	return Tuning{
		BaseXPToNext:        c.BaseXPToNext,
		LevelGrowth:         c.Growth,
		ZoomThreshold:       14,
		CollectRadiusMeters: 10,
		MetersPerXP:         10,
		HistoryLimit:        50,
		Kinds:               types.DefaultKinds(),
		Achievements:        achievements.Defaults(),
	}
}

func (t Tuning) Curve() progression.Curve {
	return progression.Curve{BaseXPToNext: t.BaseXPToNext, Growth: t.LevelGrowth}
}

func (t Tuning) Validate() error {
	if err := t.Curve().Validate(); err != nil {
		return fmt.Errorf("tuning: %w", err)
	}
	if t.ZoomThreshold < 0 {
		return fmt.Errorf("tuning: zoomThreshold must be >= 0, got %v", t.ZoomThreshold)
	}
	if t.CollectRadiusMeters <= 0 {
		return fmt.Errorf("tuning: collectRadiusMeters must be > 0, got %v", t.CollectRadiusMeters)
	}
	if t.MetersPerXP < 0 {
		return fmt.Errorf("tuning: metersPerXp must be >= 0, got %v", t.MetersPerXP)
	}
	if t.HistoryLimit < 0 {
		return fmt.Errorf("tuning: historyLimit must be >= 0, got %d", t.HistoryLimit)
	}
	if err := types.ValidateKinds(t.Kinds); err != nil {
		return fmt.Errorf("tuning: %w", err)
	}
	if err := achievements.Validate(t.Achievements); err != nil {
		return fmt.Errorf("tuning: %w", err)
	}
	return nil
}

// Decode reads YAML from r over the defaults. Lists replace the default lists
// wholesale.
func Decode(r io.Reader) (Tuning, error) {
	t := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return Tuning{}, fmt.Errorf("tuning: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Tuning{}, err
	}
	return t, nil
}

// Load reads a tuning file. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("tuning: %w", err)
	}
	return Decode(bytes.NewReader(b))
}
