// Package metrics keeps in-process counters for the game server and serves
// them as JSON.
package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"

	"geoquest/server/engine"
)

// CounterVec is a family of counters split by label values.
type CounterVec struct {
	name   string
	mu     sync.Mutex
	values map[string]float64
}

func NewCounterVec(name string) *CounterVec {
	return &CounterVec{name: name, values: map[string]float64{}}
}

type Counter struct {
	vec *CounterVec
	key string
}

func (c *CounterVec) WithLabelValues(values ...string) Counter {
	return Counter{vec: c, key: strings.Join(values, ",")}
}

func (c Counter) Inc() { c.Add(1) }

func (c Counter) Add(v float64) {
	c.vec.mu.Lock()
	c.vec.values[c.key] += v
	c.vec.mu.Unlock()
}

func (c *CounterVec) Value(values ...string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[strings.Join(values, ",")]
}

func (c *CounterVec) snapshot() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// GaugeVec is like CounterVec but values may go down.
type GaugeVec struct {
	CounterVec
}

func NewGaugeVec(name string) *GaugeVec {
	return &GaugeVec{CounterVec{name: name, values: map[string]float64{}}}
}

type Gauge struct{ Counter }

func (g *GaugeVec) WithLabelValues(values ...string) Gauge {
	return Gauge{g.CounterVec.WithLabelValues(values...)}
}

func (g Gauge) Dec() { g.Add(-1) }

func (g Gauge) Set(v float64) {
	g.vec.mu.Lock()
	g.vec.values[g.key] = v
	g.vec.mu.Unlock()
}

type Registry struct {
	XPGained            *CounterVec // by source, e.g. movement, collect, achievement
	LevelUps            *CounterVec
	ItemsCollected      *CounterVec // by rarity
	Achievements        *CounterVec // by achievement id
	Moves               *CounterVec // walk or teleport
	MetersWalked        *CounterVec
	PersistenceFailures *CounterVec // by operation
	RateLimited         *CounterVec
	Sessions            *GaugeVec
}

func NewRegistry() *Registry {
	return &Registry{
		XPGained:            NewCounterVec("xp_gained_total"),
		LevelUps:            NewCounterVec("level_ups_total"),
		ItemsCollected:      NewCounterVec("items_collected_total"),
		Achievements:        NewCounterVec("achievements_unlocked_total"),
		Moves:               NewCounterVec("moves_total"),
		MetersWalked:        NewCounterVec("meters_walked_total"),
		PersistenceFailures: NewCounterVec("persistence_failures_total"),
		RateLimited:         NewCounterVec("rate_limited_total"),
		Sessions:            NewGaugeVec("sessions"),
	}
}

// OnEvent makes the registry an engine listener.
func (r *Registry) OnEvent(e engine.Event) {
	switch d := e.Data.(type) {
	case engine.XPGained:
		source, _, _ := strings.Cut(d.Source, ":")
		r.XPGained.WithLabelValues(source).Add(float64(d.Amount))
	case engine.LevelUp:
		r.LevelUps.WithLabelValues().Add(float64(d.NewLevel - d.OldLevel))
	case engine.ItemCollected:
		r.ItemsCollected.WithLabelValues(d.Collectible.Rarity.String()).Inc()
	case engine.AchievementUnlocked:
		r.Achievements.WithLabelValues(d.Achievement.ID).Inc()
	case engine.PlayerMoved:
		if d.Teleport {
			r.Moves.WithLabelValues("teleport").Inc()
			return
		}
		r.Moves.WithLabelValues("walk").Inc()
		r.MetersWalked.WithLabelValues().Add(d.Meters)
	}
}

func (r *Registry) all() []*CounterVec {
	return []*CounterVec{
		r.XPGained, r.LevelUps, r.ItemsCollected, r.Achievements,
		r.Moves, r.MetersWalked, r.PersistenceFailures, r.RateLimited,
		&r.Sessions.CounterVec,
	}
}

// Snapshot maps metric name to label values to value. Unlabelled metrics use
// the empty label key.
func (r *Registry) Snapshot() map[string]map[string]float64 {
	out := map[string]map[string]float64{}
	for _, c := range r.all() {
		out[c.name] = c.snapshot()
	}
	return out
}

func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		snap := r.Snapshot()
		names := make([]string, 0, len(snap))
		for n := range snap {
			names = append(names, n)
		}
		sort.Strings(names)

		type metric struct {
			Name   string             `json:"name"`
			Values map[string]float64 `json:"values"`
		}
		body := make([]metric, 0, len(names))
		for _, n := range names {
			body = append(body, metric{Name: n, Values: snap[n]})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})
}
