package types

import (
	"time"

	"geoquest/shared/geo"
)

// Stats are monotonically non-decreasing counters.
type Stats struct {
	DistanceTraveled float64 `json:"distanceTraveled"` // meters
	ItemsCollected   int     `json:"itemsCollected"`
	PlayTimeMs       int64   `json:"playTimeMs"`
}

// FindRecord is one entry in the recent finds list.
type FindRecord struct {
	CollectibleID string     `json:"collectibleId"`
	Kind          Kind       `json:"kind"`
	Rarity        Rarity     `json:"rarity"`
	XP            int        `json:"xp"`
	Position      geo.LatLng `json:"position"`
	CollectedAt   time.Time  `json:"collectedAt"`
}

// Inventory counts are totals over the player's lifetime; Recent only keeps
// the newest finds, oldest first.
type Inventory struct {
	Stars    int          `json:"stars"`
	Gems     int          `json:"gems"`
	Trophies int          `json:"trophies"`
	Keys     int          `json:"keys"`
	Recent   []FindRecord `json:"recent"`
}

func (inv *Inventory) Count(k Kind) int {
	switch k {
	case KindStar:
		return inv.Stars
	case KindGem:
		return inv.Gems
	case KindTrophy:
		return inv.Trophies
	case KindKey:
		return inv.Keys
	}
	return 0
}

func (inv *Inventory) Add(k Kind, n int) {
	switch k {
	case KindStar:
		inv.Stars += n
	case KindGem:
		inv.Gems += n
	case KindTrophy:
		inv.Trophies += n
	case KindKey:
		inv.Keys += n
	}
}

// Remember appends rec to Recent, dropping the oldest entries beyond limit.
// limit <= 0 keeps everything.
func (inv *Inventory) Remember(rec FindRecord, limit int) {
	inv.Recent = append(inv.Recent, rec)
	if limit > 0 && len(inv.Recent) > limit {
		drop := len(inv.Recent) - limit
		kept := make([]FindRecord, limit)
		copy(kept, inv.Recent[drop:])
		inv.Recent = kept
	}
}

// Player is the persisted progression record.
type Player struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Position      *geo.LatLng `json:"position,omitempty"`
	Level         int         `json:"level"`
	XP            int         `json:"xp"`
	XPToNextLevel int         `json:"xpToNextLevel"`
	Stats         Stats       `json:"stats"`
	Inventory     Inventory   `json:"inventory"`
	Achievements  []string    `json:"achievements"`
	// meters walked since the last movement XP point
	MovementCarry float64   `json:"movementCarry"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Clone returns a deep copy.
func (p *Player) Clone() *Player {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Position != nil {
		pos := *p.Position
		cp.Position = &pos
	}
	cp.Inventory.Recent = append([]FindRecord(nil), p.Inventory.Recent...)
	cp.Achievements = append([]string(nil), p.Achievements...)
	return &cp
}

func (p *Player) HasAchievement(id string) bool {
	for _, a := range p.Achievements {
		if a == id {
			return true
		}
	}
	return false
}
