// Package player creates player records and persists them.
package player

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"geoquest/shared/game/types"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("player not found")
	ErrInvalidName = errors.New("invalid player name")
)

// Store is the persistence collaborator of the engine. Save must not leave a
// partially written record visible to Load.
type Store interface {
	Load(ctx context.Context, name string) (*types.Player, error)
	Save(ctx context.Context, p *types.Player) error
}

// New returns a fresh level-1 player.
func New(name string, xpToNext int, now time.Time) *types.Player {
	return &types.Player{
		ID:            uuid.NewString(),
		Name:          name,
		Level:         1,
		XP:            0,
		XPToNextLevel: xpToNext,
		Inventory:     types.Inventory{Recent: []types.FindRecord{}},
		Achievements:  []string{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Normalize fills fields an older or hand-edited record may lack.
func Normalize(p *types.Player, xpToNext int) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Level < 1 {
		p.Level = 1
	}
	if p.XPToNextLevel <= 0 {
		p.XPToNextLevel = xpToNext
	}
	if p.XP < 0 {
		p.XP = 0
	}
	if p.Inventory.Recent == nil {
		p.Inventory.Recent = []types.FindRecord{}
	}
	if p.Achievements == nil {
		p.Achievements = []string{}
	}
}

// SafeKey maps a player name to a storage key of [a-z0-9_-] only. Names are
// case-insensitive; any other byte becomes '-' and two hex digits, so two
// names that differ in more than case never share a key.
func SafeKey(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "-"
	}
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "-%02x", c)
		}
	}
	return b.String()
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrInvalidName
	}
	return nil
}
