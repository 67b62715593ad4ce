// Package engine owns the active player and the collectible field and applies
// every gameplay change to them as a single persisted unit of work.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"geoquest/server/achievements"
	"geoquest/server/field"
	"geoquest/server/player"
	"geoquest/server/progression"
	"geoquest/server/tuning"
	"geoquest/shared/game/types"
	"geoquest/shared/geo"

	"github.com/rs/zerolog"
)

type Options struct {
	Store  player.Store
	Tuning tuning.Tuning
	// built from Tuning.Kinds and Tuning.Seed when nil
	Field     *field.Field
	Logger    zerolog.Logger
	Listeners []Listener
	Now       func() time.Time
}

type Engine struct {
	mu     sync.Mutex
	store  player.Store
	tuning tuning.Tuning
	curve  progression.Curve
	field  *field.Field
	log    zerolog.Logger
	now    func() time.Time
	events *Dispatcher

	player *types.Player
}

func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if err := opts.Tuning.Validate(); err != nil {
		return nil, err
	}
	f := opts.Field
	if f == nil {
		var err error
		if f, err = field.New(opts.Tuning.Kinds, opts.Tuning.Seed); err != nil {
			return nil, err
		}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	e := &Engine{
		store:  opts.Store,
		tuning: opts.Tuning,
		curve:  opts.Tuning.Curve(),
		field:  f,
		log:    opts.Logger,
		now:    now,
		events: NewDispatcher(),
	}
	for _, l := range opts.Listeners {
		e.events.Subscribe(l)
	}
	return e, nil
}

// Subscribe registers a listener; see Dispatcher.Subscribe.
func (e *Engine) Subscribe(l Listener, only ...EventType) (unsubscribe func()) {
	return e.events.Subscribe(l, only...)
}

// Outcome is what every player-changing operation reports back.
type Outcome struct {
	Player   types.Player
	LevelUp  *LevelUp // nil unless the level changed
	Unlocked []achievements.Definition
}

type MoveResult struct {
	Outcome
	Meters    float64
	XPAwarded int
}

type XPResult struct {
	Outcome
	TotalXP int
}

type CollectResult struct {
	Outcome
	Collectible types.Collectible
	Record      types.FindRecord
}

type CheckResult struct {
	Outcome
	Collected []types.Collectible
	Records   []types.FindRecord
}

type SpawnResult struct {
	Spawned []types.Collectible
	Removed []string
	Live    []types.Collectible
	// zoom was below the threshold; the field was emptied
	Suppressed bool
}

// Init makes name the active player, loading the saved record or creating
// and saving a fresh one.
func (e *Engine) Init(ctx context.Context, name string) (types.Player, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Player{}, player.ErrInvalidName
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.store.Load(ctx, name)
	switch {
	case errors.Is(err, player.ErrNotFound):
		p = player.New(name, e.curve.BaseXPToNext, e.now())
		if err := e.store.Save(ctx, p); err != nil {
			e.log.Error().Err(err).Str("player", name).Msg("saving new player failed")
			return types.Player{}, &PersistenceError{Op: "init", Err: err}
		}
		e.log.Info().Str("player", name).Str("id", p.ID).Msg("new player")
	case err != nil:
		e.log.Error().Err(err).Str("player", name).Msg("loading player failed")
		return types.Player{}, &PersistenceError{Op: "init", Err: err}
	default:
		player.Normalize(p, e.curve.BaseXPToNext)
		e.log.Info().Str("player", name).Int("level", p.Level).Msg("player loaded")
	}

	e.player = p
	return *p.Clone(), nil
}

// Snapshot returns a copy of the active player.
func (e *Engine) Snapshot() (types.Player, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.player == nil {
		return types.Player{}, ErrNoActivePlayer
	}
	return *e.player.Clone(), nil
}

// Collectibles returns the live field in spawn order.
func (e *Engine) Collectibles() []types.Collectible {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.field.Live()
}

// MovePlayer records a walk to pos. The first known position earns nothing.
func (e *Engine) MovePlayer(ctx context.Context, pos geo.LatLng) (MoveResult, error) {
	var res MoveResult
	if err := pos.Validate(); err != nil {
		return res, err
	}
	err := e.do(func() (*change, error) {
		c, err := e.begin()
		if err != nil {
			return nil, err
		}
		from := c.p.Position
		if from != nil {
			d, err := geo.DistanceMeters(*from, pos)
			if err != nil {
				return nil, err
			}
			res.Meters = d
		}
		to := pos
		c.p.Position = &to
		c.p.Stats.DistanceTraveled += res.Meters

		xp, carry := progression.MovementXP(res.Meters, c.p.MovementCarry, e.tuning.MetersPerXP)
		c.p.MovementCarry = carry
		if err := e.grant(c, xp, "movement"); err != nil {
			return nil, err
		}
		res.XPAwarded = xp
		e.emit(c, EventPlayerMoved, PlayerMoved{From: from, To: pos, Meters: res.Meters, XP: xp})

		res.Outcome, err = e.commit(ctx, "move", c)
		return c, err
	})
	if err != nil {
		return MoveResult{}, err
	}
	e.log.Debug().Str("to", pos.String()).Float64("meters", res.Meters).Int("xp", res.XPAwarded).Msg("moved")
	return res, nil
}

// Teleport sets the position without crediting distance or movement XP.
func (e *Engine) Teleport(ctx context.Context, pos geo.LatLng) (Outcome, error) {
	var out Outcome
	if err := pos.Validate(); err != nil {
		return out, err
	}
	err := e.do(func() (*change, error) {
		c, err := e.begin()
		if err != nil {
			return nil, err
		}
		from := c.p.Position
		to := pos
		c.p.Position = &to
		e.emit(c, EventPlayerMoved, PlayerMoved{From: from, To: pos, Teleport: true})
		out, err = e.commit(ctx, "teleport", c)
		return c, err
	})
	return out, err
}

// AddXP grants amount XP. source is only used for logs and events.
func (e *Engine) AddXP(ctx context.Context, amount int, source string) (XPResult, error) {
	var res XPResult
	if amount < 0 {
		return res, fmt.Errorf("%w: %d", ErrNegativeXP, amount)
	}
	err := e.do(func() (*change, error) {
		c, err := e.begin()
		if err != nil {
			return nil, err
		}
		if err := e.grant(c, amount, source); err != nil {
			return nil, err
		}
		res.Outcome, err = e.commit(ctx, "add_xp", c)
		return c, err
	})
	if err != nil {
		return XPResult{}, err
	}
	res.TotalXP = res.Player.XP
	e.log.Debug().Int("amount", amount).Str("source", source).Int("level", res.Player.Level).Msg("xp added")
	return res, nil
}

// CollectItem collects a live collectible by id. The field only forgets the
// collectible once the player record carrying it was saved.
func (e *Engine) CollectItem(ctx context.Context, id string) (CollectResult, error) {
	var res CollectResult
	err := e.do(func() (*change, error) {
		c, err := e.begin()
		if err != nil {
			return nil, err
		}
		col, err := e.field.Lookup(id)
		if err != nil {
			return nil, err
		}
		rec, err := e.applyFind(c, col)
		if err != nil {
			return nil, err
		}
		if res.Outcome, err = e.commit(ctx, "collect", c); err != nil {
			return nil, err
		}
		e.markCollected(col.ID)
		col.Collected = true
		res.Collectible, res.Record = col, rec
		return c, nil
	})
	if err != nil {
		return CollectResult{}, err
	}
	e.log.Info().Str("id", id).Str("kind", string(res.Collectible.Kind)).Int("xp", res.Collectible.XP).Msg("collected")
	return res, nil
}

// CheckCollectibles collects everything within the collect radius of pos in
// one save. Nothing is saved when nothing is in reach.
func (e *Engine) CheckCollectibles(ctx context.Context, pos geo.LatLng) (CheckResult, error) {
	var res CheckResult
	if err := pos.Validate(); err != nil {
		return res, err
	}
	err := e.do(func() (*change, error) {
		c, err := e.begin()
		if err != nil {
			return nil, err
		}
		hits, err := e.field.Within(pos, e.tuning.CollectRadiusMeters)
		if err != nil {
			return nil, err
		}
		if len(hits) == 0 {
			res.Player = *c.p
			return nil, nil
		}
		for _, col := range hits {
			rec, err := e.applyFind(c, col)
			if err != nil {
				return nil, err
			}
			col.Collected = true
			res.Collected = append(res.Collected, col)
			res.Records = append(res.Records, rec)
		}
		if res.Outcome, err = e.commit(ctx, "check", c); err != nil {
			return nil, err
		}
		for _, col := range hits {
			e.markCollected(col.ID)
		}
		return c, nil
	})
	if err != nil {
		return CheckResult{}, err
	}
	if len(res.Collected) > 0 {
		e.log.Info().Str("at", pos.String()).Int("count", len(res.Collected)).Msg("auto-collected")
	}
	return res, nil
}

// GenerateCollectibles refreshes the field for v. Below the zoom threshold the
// field is emptied; otherwise collectibles outside the view are pruned and a
// new batch is spawned unless enough are still live.
func (e *Engine) GenerateCollectibles(v Viewport) (SpawnResult, error) {
	center, zoom := v.Center(), v.Zoom()
	if err := center.Validate(); err != nil {
		return SpawnResult{}, err
	}
	if math.IsNaN(zoom) || math.IsInf(zoom, 0) || zoom <= 0 {
		return SpawnResult{}, fmt.Errorf("%w: %v", ErrInvalidZoom, zoom)
	}
	bounds := v.Bounds()
	if bounds == (geo.Bounds{}) {
		bounds = geo.BoundsAround(center, field.ScatterRadius(zoom))
	} else if err := bounds.Validate(); err != nil {
		return SpawnResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if zoom < e.tuning.ZoomThreshold {
		return SpawnResult{Removed: e.field.Clear(), Suppressed: true}, nil
	}

	res := SpawnResult{Removed: e.field.Prune(bounds)}
	if e.field.Len() < field.SpawnCount(zoom) {
		spawned, err := e.field.Generate(center, zoom)
		if err != nil {
			return SpawnResult{}, err
		}
		res.Spawned = spawned
	}
	res.Live = e.field.Live()
	e.log.Debug().
		Str("center", center.String()).
		Float64("zoom", zoom).
		Int("spawned", len(res.Spawned)).
		Int("removed", len(res.Removed)).
		Msg("field refreshed")
	return res, nil
}

// Tick adds elapsed play time.
func (e *Engine) Tick(ctx context.Context, elapsed time.Duration) error {
	return e.do(func() (*change, error) {
		c, err := e.begin()
		if err != nil {
			return nil, err
		}
		if elapsed <= 0 {
			return nil, nil
		}
		c.p.Stats.PlayTimeMs += elapsed.Milliseconds()
		_, err = e.commit(ctx, "tick", c)
		return c, err
	})
}

// change is one unit of work on a copy of the active player.
type change struct {
	p          *types.Player
	startLevel int
	unlocked   []achievements.Definition
	events     []Event
}

// do runs fn under the engine lock, then dispatches the events of the
// change it committed.
func (e *Engine) do(fn func() (*change, error)) error {
	e.mu.Lock()
	c, err := fn()
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if c != nil {
		e.events.Dispatch(c.events...)
	}
	return nil
}

func (e *Engine) begin() (*change, error) {
	if e.player == nil {
		return nil, ErrNoActivePlayer
	}
	return &change{p: e.player.Clone(), startLevel: e.player.Level}, nil
}

func (e *Engine) emit(c *change, t EventType, data any) {
	c.events = append(c.events, Event{Type: t, Player: c.p.Name, At: e.now(), Data: data})
}

func (e *Engine) grant(c *change, amount int, source string) error {
	if amount == 0 {
		return nil
	}
	lvl := progression.Level{Level: c.p.Level, XP: c.p.XP, XPToNextLevel: c.p.XPToNextLevel}
	if _, err := e.curve.AddXP(&lvl, amount); err != nil {
		return err
	}
	c.p.Level, c.p.XP, c.p.XPToNextLevel = lvl.Level, lvl.XP, lvl.XPToNextLevel
	e.emit(c, EventXPGained, XPGained{Amount: amount, Source: source})
	return nil
}

func (e *Engine) applyFind(c *change, col types.Collectible) (types.FindRecord, error) {
	rec := types.FindRecord{
		CollectibleID: col.ID,
		Kind:          col.Kind,
		Rarity:        col.Rarity,
		XP:            col.XP,
		Position:      col.Position,
		CollectedAt:   e.now(),
	}
	c.p.Inventory.Add(col.Kind, 1)
	c.p.Inventory.Remember(rec, e.tuning.HistoryLimit)
	c.p.Stats.ItemsCollected++

	collected := col
	collected.Collected = true
	e.emit(c, EventItemCollected, ItemCollected{Collectible: collected, Record: rec})
	if err := e.grant(c, col.XP, "collect:"+string(col.Kind)); err != nil {
		return types.FindRecord{}, err
	}
	return rec, nil
}

// unlock applies every achievement the change has reached. Rewards can reach
// further achievements, so it repeats until nothing new unlocks.
func (e *Engine) unlock(c *change) error {
	for {
		reached := achievements.Evaluate(e.tuning.Achievements, c.p)
		if len(reached) == 0 {
			return nil
		}
		for _, d := range reached {
			c.p.Achievements = append(c.p.Achievements, d.ID)
			c.unlocked = append(c.unlocked, d)
			e.emit(c, EventAchievementUnlocked, AchievementUnlocked{Achievement: d})
			if err := e.grant(c, d.RewardXP, "achievement:"+d.ID); err != nil {
				return err
			}
		}
	}
}

// commit saves the change and, only if that worked, makes it the active player.
func (e *Engine) commit(ctx context.Context, op string, c *change) (Outcome, error) {
	if err := e.unlock(c); err != nil {
		return Outcome{}, err
	}
	var up *LevelUp
	if c.p.Level > c.startLevel {
		up = &LevelUp{OldLevel: c.startLevel, NewLevel: c.p.Level, XPToNextLevel: c.p.XPToNextLevel}
		e.emit(c, EventLevelUp, *up)
	}
	c.p.UpdatedAt = e.now()

	if err := e.store.Save(ctx, c.p); err != nil {
		e.log.Error().Err(err).Str("op", op).Str("player", c.p.Name).Msg("save failed, change discarded")
		return Outcome{}, &PersistenceError{Op: op, Err: err}
	}
	e.player = c.p
	if up != nil {
		e.log.Info().Str("player", c.p.Name).Int("from", up.OldLevel).Int("to", up.NewLevel).Msg("level up")
	}
	for _, d := range c.unlocked {
		e.log.Info().Str("player", c.p.Name).Str("achievement", d.ID).Msg("achievement unlocked")
	}
	return Outcome{Player: *c.p.Clone(), LevelUp: up, Unlocked: c.unlocked}, nil
}

func (e *Engine) markCollected(id string) {
	if _, err := e.field.MarkCollected(id); err != nil {
		e.log.Warn().Err(err).Str("id", id).Msg("collectible vanished before it was marked")
	}
}
