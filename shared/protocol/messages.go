// Package protocol is the JSON wire format between the server and map clients.
package protocol

import (
	"encoding/json"

	"geoquest/shared/game/types"
	"geoquest/shared/geo"
)

// Envelope
type MsgEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ================= C -> S =================

// Viewport reports the visible map. Bounds may be omitted; the server then
// uses the spawn area around Center.
type Viewport struct {
	Center geo.LatLng  `json:"center"`
	Zoom   float64     `json:"zoom"`
	Bounds *geo.Bounds `json:"bounds,omitempty"`
}

type Move struct {
	Position geo.LatLng `json:"position"`
}

type Teleport struct {
	Position geo.LatLng `json:"position"`
}

type Collect struct {
	ID string `json:"id"`
}

type GetPlayer struct{}

// ================= S -> C =================

type PlayerMsg struct {
	Player types.Player `json:"player"`
}

type Collectibles struct {
	Items      []types.Collectible `json:"items"`
	Removed    []string            `json:"removed,omitempty"`
	Suppressed bool                `json:"suppressed,omitempty"` // zoomed out too far
}

type Moved struct {
	Position  geo.LatLng `json:"position"`
	Meters    float64    `json:"meters"`
	XPAwarded int        `json:"xpAwarded"`
	Teleport  bool       `json:"teleport,omitempty"`
}

type ItemCollected struct {
	Collectible types.Collectible `json:"collectible"`
	Record      types.FindRecord  `json:"record"`
}

type XPGained struct {
	Amount int    `json:"amount"`
	Source string `json:"source"`
}

type LevelUp struct {
	OldLevel      int `json:"oldLevel"`
	NewLevel      int `json:"newLevel"`
	XPToNextLevel int `json:"xpToNextLevel"`
}

type AchievementUnlocked struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	RewardXP int    `json:"rewardXp"`
}

type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode wraps v in an envelope of type typ.
func Encode(typ string, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(MsgEnvelope{Type: typ, Data: b})
}
