package engine

import (
	"sync"
	"time"

	"geoquest/server/achievements"
	"geoquest/shared/game/types"
	"geoquest/shared/geo"
)

type EventType string

const (
	EventPlayerMoved         EventType = "player_moved"
	EventXPGained            EventType = "xp_gained"
	EventLevelUp             EventType = "level_up"
	EventItemCollected       EventType = "item_collected"
	EventAchievementUnlocked EventType = "achievement_unlocked"
)

// Event is delivered to listeners after the change it describes was saved.
type Event struct {
	Type   EventType
	Player string // player name
	At     time.Time
	Data   any
}

type PlayerMoved struct {
	From     *geo.LatLng `json:"from,omitempty"`
	To       geo.LatLng  `json:"to"`
	Meters   float64     `json:"meters"`
	XP       int         `json:"xp"` // movement XP for this step
	Teleport bool        `json:"teleport,omitempty"`
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

type ItemCollected struct {
	Collectible types.Collectible `json:"collectible"`
	Record      types.FindRecord  `json:"record"`
}

type AchievementUnlocked struct {
	Achievement achievements.Definition `json:"achievement"`
}

type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a plain function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

type subscription struct {
	id       int
	types    map[EventType]bool // nil means every type
	listener Listener
}

// Dispatcher fans events out to subscribers in subscription order.
type Dispatcher struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers l for the given event types, or for all of them when
// none are given. The returned func removes the subscription.
func (d *Dispatcher) Subscribe(l Listener, only ...EventType) (unsubscribe func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := subscription{id: d.nextID, listener: l}
	d.nextID++
	if len(only) > 0 {
		s.types = make(map[EventType]bool, len(only))
		for _, t := range only {
			s.types[t] = true
		}
	}
	d.subs = append(d.subs, s)

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, sub := range d.subs {
			if sub.id == s.id {
				d.subs = append(d.subs[:i], d.subs[i+1:]...)
				return
			}
		}
	}
}

func (d *Dispatcher) Dispatch(events ...Event) {
	if len(events) == 0 {
		return
	}
	d.mu.RLock()
	subs := append([]subscription(nil), d.subs...)
	d.mu.RUnlock()

	for _, e := range events {
		for _, s := range subs {
			if s.types == nil || s.types[e.Type] {
				s.listener.OnEvent(e)
			}
		}
	}
}
