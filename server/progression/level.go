// Package progression holds the XP leveling curve.
package progression

import (
	"errors"
	"fmt"
	"math"
)

var ErrNegativeXP = errors.New("negative xp amount")

// Curve describes how the level threshold grows.
type Curve struct {
	BaseXPToNext int     // threshold for level 1 -> 2
	Growth       float64 // threshold multiplier per level, floored
}

func DefaultCurve() Curve {
	return Curve{BaseXPToNext: 100, Growth: 1.5}
}

// Validate rejects curves whose thresholds would stop growing. Such a curve
// would still terminate per call, but level-ups would get cheaper or free.
func (c Curve) Validate() error {
	if c.BaseXPToNext <= 0 {
		return fmt.Errorf("base xp threshold must be positive, got %d", c.BaseXPToNext)
	}
	if math.IsNaN(c.Growth) || c.Growth <= 1 {
		return fmt.Errorf("growth must be > 1, got %v", c.Growth)
	}
	if int(math.Floor(float64(c.BaseXPToNext)*c.Growth)) <= c.BaseXPToNext {
		return fmt.Errorf("growth %v does not raise threshold %d", c.Growth, c.BaseXPToNext)
	}
	return nil
}

// Next returns the threshold following cur.
func (c Curve) Next(cur int) int {
	next := int(math.Floor(float64(cur) * c.Growth))
	if next <= cur {
		next = cur + 1
	}
	return next
}

// Level is the leveling state of a player.
type Level struct {
	Level         int
	XP            int
	XPToNextLevel int
}

func (c Curve) Start() Level {
	return Level{Level: 1, XP: 0, XPToNextLevel: c.BaseXPToNext}
}

// LevelUp describes the effect of one AddXP call.
type LevelUp struct {
	OldLevel      int
	NewLevel      int
	XPToNextLevel int
}

func (u LevelUp) Gained() int { return u.NewLevel - u.OldLevel }

// AddXP adds amount and applies every level-up it pays for. On return
// l.XP < l.XPToNextLevel.
func (c Curve) AddXP(l *Level, amount int) (LevelUp, error) {
	if amount < 0 {
		return LevelUp{}, fmt.Errorf("%w: %d", ErrNegativeXP, amount)
	}
	if l.Level < 1 {
		l.Level = 1
	}
	if l.XPToNextLevel <= 0 {
		l.XPToNextLevel = c.BaseXPToNext
	}
	up := LevelUp{OldLevel: l.Level}

	l.XP += amount
	for l.XP >= l.XPToNextLevel {
		l.XP -= l.XPToNextLevel
		l.Level++
		l.XPToNextLevel = c.Next(l.XPToNextLevel)
	}

	up.NewLevel = l.Level
	up.XPToNextLevel = l.XPToNextLevel
	return up, nil
}

// MovementXP converts walked meters into XP at one point per metersPerXP,
// returning the leftover meters to carry into the next move.
func MovementXP(meters, carry, metersPerXP float64) (int, float64) {
	if metersPerXP <= 0 || meters < 0 {
		return 0, carry
	}
	total := carry + meters
	xp := math.Floor(total / metersPerXP)
	return int(xp), total - xp*metersPerXP
}
