package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"geoquest/server/field"
	"geoquest/server/player"
	"geoquest/server/tuning"
	"geoquest/shared/game/types"
	"geoquest/shared/geo"

	"github.com/rs/zerolog"
)

var origin = geo.LatLng{Lat: 52.52, Lng: 13.405}

// flakyStore wraps a MemoryStore and fails saves while fail is set.
type flakyStore struct {
	*player.MemoryStore
	mu    sync.Mutex
	fail  error
	saves int
}

func (s *flakyStore) Save(ctx context.Context, p *types.Player) error {
	s.mu.Lock()
	s.saves++
	fail := s.fail
	s.mu.Unlock()
	if fail != nil {
		return fail
	}
	return s.MemoryStore.Save(ctx, p)
}

func (s *flakyStore) setFail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *flakyStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// quiet is the default tuning without achievements, so XP totals stay simple.
func quiet() tuning.Tuning {
	t := tuning.Default()
	t.Achievements = nil
	return t
}

type harness struct {
	*Engine
	store *flakyStore
	field *field.Field
	rec   *recorder
}

func newHarness(t *testing.T, tun tuning.Tuning) *harness {
	t.Helper()
	f, err := field.New(tun.Kinds, 1)
	if err != nil {
		t.Fatal(err)
	}
	store := &flakyStore{MemoryStore: player.NewMemoryStore()}
	rec := &recorder{}
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e, err := New(Options{
		Store:     store,
		Tuning:    tun,
		Field:     f,
		Logger:    zerolog.Nop(),
		Listeners: []Listener{rec},
		Now:       func() time.Time { return clock },
	})
	if err != nil {
		t.Fatal(err)
	}
	return &harness{Engine: e, store: store, field: f, rec: rec}
}

func (h *harness) init(t *testing.T) {
	t.Helper()
	if _, err := h.Init(context.Background(), "ada"); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) place(t *testing.T, kind types.Kind, pos geo.LatLng) types.Collectible {
	t.Helper()
	for _, def := range types.DefaultKinds() {
		if def.Kind == kind {
			c, err := h.field.Place(def, pos)
			if err != nil {
				t.Fatal(err)
			}
			return c
		}
	}
	t.Fatalf("no kind %q", kind)
	return types.Collectible{}
}

func TestOperationsNeedActivePlayer(t *testing.T) {
	h := newHarness(t, quiet())
	ctx := context.Background()
	c := h.place(t, types.KindStar, origin)

	checks := map[string]error{}
	_, checks["move"] = h.MovePlayer(ctx, origin)
	_, checks["teleport"] = h.Teleport(ctx, origin)
	_, checks["add_xp"] = h.AddXP(ctx, 10, "test")
	_, checks["collect"] = h.CollectItem(ctx, c.ID)
	_, checks["check"] = h.CheckCollectibles(ctx, origin)
	_, checks["snapshot"] = h.Snapshot()
	checks["tick"] = h.Tick(ctx, time.Second)

	for op, err := range checks {
		if !errors.Is(err, ErrNoActivePlayer) {
			t.Errorf("%s: err = %v, want ErrNoActivePlayer", op, err)
		}
	}
	if h.field.IsCollected(c.ID) {
		t.Error("collectible consumed without a player")
	}
}

func TestInitCreatesThenLoads(t *testing.T) {
	h := newHarness(t, quiet())
	ctx := context.Background()

	p, err := h.Init(ctx, "  ada ")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "ada" || p.Level != 1 || p.XP != 0 || p.XPToNextLevel != 100 {
		t.Fatalf("fresh player = %+v", p)
	}
	if h.store.saveCount() != 1 {
		t.Errorf("saves = %d, want 1", h.store.saveCount())
	}
	if _, err := h.AddXP(ctx, 40, "test"); err != nil {
		t.Fatal(err)
	}

	again, err := New(Options{Store: h.store, Tuning: quiet(), Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := again.Init(ctx, "ada")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.ID != p.ID || loaded.XP != 40 {
		t.Errorf("loaded = %+v, want id %s with 40 xp", loaded, p.ID)
	}

	if _, err := h.Init(ctx, "   "); !errors.Is(err, player.ErrInvalidName) {
		t.Errorf("blank name: err = %v", err)
	}
}

func TestInitKeepsLookalikeNamesApart(t *testing.T) {
	h := newHarness(t, quiet())
	ctx := context.Background()

	first, err := h.Init(ctx, "alice_")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.AddXP(ctx, 90, "test"); err != nil {
		t.Fatal(err)
	}

	other, err := New(Options{Store: h.store, Tuning: quiet(), Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	second, err := other.Init(ctx, "Alice.")
	if err != nil {
		t.Fatal(err)
	}
	if second.ID == first.ID || second.Name != "Alice." || second.XP != 0 {
		t.Errorf("Alice. = %+v, shares a record with alice_ (%s)", second, first.ID)
	}
}

func TestInitStoreFailure(t *testing.T) {
	h := newHarness(t, quiet())
	h.store.setFail(errors.New("disk full"))
	_, err := h.Init(context.Background(), "ada")
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
	if _, err := h.Snapshot(); !errors.Is(err, ErrNoActivePlayer) {
		t.Errorf("player became active despite failed save: %v", err)
	}
}

func TestMovePlayerDistanceAndCarry(t *testing.T) {
	h := newHarness(t, quiet())
	h.init(t)
	ctx := context.Background()

	first, err := h.MovePlayer(ctx, origin)
	if err != nil {
		t.Fatal(err)
	}
	if first.Meters != 0 || first.XPAwarded != 0 {
		t.Errorf("first move = %+v, want zero delta", first)
	}
	if first.Player.Position == nil || *first.Player.Position != origin {
		t.Errorf("position = %v", first.Player.Position)
	}

	p1 := geo.OffsetMeters(origin, 26, 0)
	second, err := h.MovePlayer(ctx, p1)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(second.Meters-26) > 0.05 {
		t.Errorf("delta = %v, want ~26", second.Meters)
	}
	if second.XPAwarded != 2 {
		t.Errorf("xp = %d, want 2", second.XPAwarded)
	}

	third, err := h.MovePlayer(ctx, geo.OffsetMeters(p1, 5, 0))
	if err != nil {
		t.Fatal(err)
	}
	if third.XPAwarded != 1 {
		t.Errorf("carried meters not credited: xp = %d, want 1", third.XPAwarded)
	}

	p, _ := h.Snapshot()
	if math.Abs(p.Stats.DistanceTraveled-31) > 0.1 {
		t.Errorf("distance = %v, want ~31", p.Stats.DistanceTraveled)
	}
	if p.XP != 3 {
		t.Errorf("xp = %d, want 3", p.XP)
	}
}

func TestMovePlayerRejectsBadCoordinate(t *testing.T) {
	h := newHarness(t, quiet())
	h.init(t)
	saves := h.store.saveCount()
	for _, pos := range []geo.LatLng{{Lat: 91}, {Lng: -181}, {Lat: math.NaN()}} {
		if _, err := h.MovePlayer(context.Background(), pos); !errors.Is(err, ErrInvalidCoordinate) {
			t.Errorf("%v: err = %v", pos, err)
		}
	}
	if h.store.saveCount() != saves {
		t.Error("invalid move was saved")
	}
}

func TestTeleportCreditsNothing(t *testing.T) {
	h := newHarness(t, quiet())
	h.init(t)
	ctx := context.Background()
	if _, err := h.MovePlayer(ctx, origin); err != nil {
		t.Fatal(err)
	}
	dest := geo.LatLng{Lat: 48.8566, Lng: 2.3522}
	out, err := h.Teleport(ctx, dest)
	if err != nil {
		t.Fatal(err)
	}
	if *out.Player.Position != dest || out.Player.Stats.DistanceTraveled != 0 || out.Player.XP != 0 {
		t.Errorf("teleport = %+v", out.Player)
	}
}

func TestAddXPLevelsUp(t *testing.T) {
	h := newHarness(t, quiet())
	h.init(t)
	h.rec.reset()

	res, err := h.AddXP(context.Background(), 250, "quest")
	if err != nil {
		t.Fatal(err)
	}
	if res.Player.Level != 3 || res.TotalXP != 0 || res.Player.XPToNextLevel != 225 {
		t.Errorf("after 250 xp: level %d xp %d next %d, want 3 0 225",
			res.Player.Level, res.TotalXP, res.Player.XPToNextLevel)
	}
	if res.LevelUp == nil || res.LevelUp.OldLevel != 1 || res.LevelUp.NewLevel != 3 {
		t.Errorf("level up = %+v", res.LevelUp)
	}

	got := h.rec.types()
	if len(got) != 2 || got[0] != EventXPGained || got[1] != EventLevelUp {
		t.Errorf("events = %v", got)
	}
	if xp := h.rec.events[0].Data.(XPGained); xp.Source != "quest" || xp.Amount != 250 {
		t.Errorf("xp event = %+v", xp)
	}
}

func TestAddXPRejectsNegative(t *testing.T) {
	h := newHarness(t, quiet())
	h.init(t)
	saves := h.store.saveCount()
	if _, err := h.AddXP(context.Background(), -5, "test"); !errors.Is(err, ErrNegativeXP) {
		t.Fatalf("err = %v", err)
	}
	if h.store.saveCount() != saves {
		t.Error("negative xp was saved")
	}
}

func TestCollectItemOnce(t *testing.T) {
	h := newHarness(t, quiet())
	h.init(t)
	ctx := context.Background()
	star := h.place(t, types.KindStar, origin)

	res, err := h.CollectItem(ctx, star.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Collectible.Collected || res.Record.CollectibleID != star.ID {
		t.Errorf("result = %+v", res)
	}
	p := res.Player
	if p.Inventory.Stars != 1 || p.Stats.ItemsCollected != 1 || p.XP != 10 || len(p.Inventory.Recent) != 1 {
		t.Errorf("after collect: %+v", p)
	}

	before, _ := h.Snapshot()
	saves := h.store.saveCount()
	if _, err := h.CollectItem(ctx, star.ID); !errors.Is(err, ErrAlreadyCollected) {
		t.Fatalf("second collect: err = %v", err)
	}
	after, _ := h.Snapshot()
	if after.XP != before.XP || after.Inventory.Stars != before.Inventory.Stars ||
		after.Stats.ItemsCollected != before.Stats.ItemsCollected {
		t.Errorf("second collect changed state: %+v -> %+v", before, after)
	}
	if h.store.saveCount() != saves {
		t.Error("second collect was saved")
	}

	if _, err := h.CollectItem(ctx, "nope"); !errors.Is(err, ErrUnknownCollectible) {
		t.Errorf("unknown id: err = %v", err)
	}
}

func TestFailedSaveLeavesStateAlone(t *testing.T) {
	h := newHarness(t, quiet())
	h.init(t)
	ctx := context.Background()
	gem := h.place(t, types.KindGem, origin)
	before, _ := h.Snapshot()
	h.rec.reset()

	diskFull := errors.New("disk full")
	h.store.setFail(diskFull)

	_, err := h.CollectItem(ctx, gem.ID)
	var perr *PersistenceError
	if !errors.As(err, &perr) || perr.Op != "collect" {
		t.Fatalf("err = %v, want *PersistenceError for collect", err)
	}
	if !errors.Is(err, ErrPersistence) || !errors.Is(err, diskFull) {
		t.Errorf("err %v does not match ErrPersistence and the store error", err)
	}
	if _, err := h.AddXP(ctx, 500, "test"); !errors.Is(err, ErrPersistence) {
		t.Errorf("add xp: err = %v", err)
	}
	if _, err := h.MovePlayer(ctx, origin); !errors.Is(err, ErrPersistence) {
		t.Errorf("move: err = %v", err)
	}

	after, _ := h.Snapshot()
	if after.XP != before.XP || after.Level != before.Level || after.Inventory.Gems != 0 || after.Position != nil {
		t.Errorf("state changed by failed saves: %+v", after)
	}
	if got := h.rec.types(); len(got) != 0 {
		t.Errorf("events dispatched for failed saves: %v", got)
	}
	if h.field.IsCollected(gem.ID) {
		t.Fatal("collectible marked although the save failed")
	}

	h.store.setFail(nil)
	res, err := h.CollectItem(ctx, gem.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Player.Inventory.Gems != 1 || res.Player.XP != 25 {
		t.Errorf("retry result = %+v", res.Player)
	}
}

func TestCheckCollectiblesRadius(t *testing.T) {
	h := newHarness(t, quiet())
	h.init(t)
	ctx := context.Background()

	near := h.place(t, types.KindStar, geo.OffsetMeters(origin, 9, 0))
	nearToo := h.place(t, types.KindKey, geo.OffsetMeters(origin, 0, -4))
	far := h.place(t, types.KindTrophy, geo.OffsetMeters(origin, 11, 0))
	saves := h.store.saveCount()

	res, err := h.CheckCollectibles(ctx, origin)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Collected) != 2 || len(res.Records) != 2 {
		t.Fatalf("collected %d, want 2", len(res.Collected))
	}
	// nearest first
	if res.Collected[0].ID != nearToo.ID || res.Collected[1].ID != near.ID {
		t.Errorf("collected = %v, %v", res.Collected[0].ID, res.Collected[1].ID)
	}
	if h.store.saveCount() != saves+1 {
		t.Errorf("saves = %d, want one for the whole batch", h.store.saveCount()-saves)
	}
	// 110 xp: one level-up, 10 left over
	if res.Player.Level != 2 || res.Player.XP != 10 || res.Player.Stats.ItemsCollected != 2 {
		t.Errorf("player = %+v", res.Player)
	}
	if h.field.IsCollected(far.ID) {
		t.Error("item 11 m away was collected")
	}

	again, err := h.CheckCollectibles(ctx, origin)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Collected) != 0 || h.store.saveCount() != saves+1 {
		t.Error("empty check collected or saved something")
	}
}

func TestHistoryIsCappedCountsAreNot(t *testing.T) {
	tun := quiet()
	tun.HistoryLimit = 3
	h := newHarness(t, tun)
	h.init(t)
	ctx := context.Background()

	var last string
	for i := 0; i < 5; i++ {
		c := h.place(t, types.KindStar, origin)
		if _, err := h.CollectItem(ctx, c.ID); err != nil {
			t.Fatal(err)
		}
		last = c.ID
	}
	p, _ := h.Snapshot()
	if p.Inventory.Stars != 5 || p.Stats.ItemsCollected != 5 {
		t.Errorf("counts = %d stars, %d items", p.Inventory.Stars, p.Stats.ItemsCollected)
	}
	if len(p.Inventory.Recent) != 3 || p.Inventory.Recent[2].CollectibleID != last {
		t.Errorf("recent = %+v", p.Inventory.Recent)
	}
}

func TestAchievementsUnlockInSameSave(t *testing.T) {
	h := newHarness(t, tuning.Default())
	h.init(t)
	h.rec.reset()
	saves := h.store.saveCount()

	star := h.place(t, types.KindStar, origin)
	res, err := h.CollectItem(context.Background(), star.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Unlocked) != 1 || res.Unlocked[0].ID != "first_find" {
		t.Fatalf("unlocked = %+v", res.Unlocked)
	}
	// 10 for the star, 5 for first_find
	if res.Player.XP != 15 || !res.Player.HasAchievement("first_find") {
		t.Errorf("player = %+v", res.Player)
	}
	if h.store.saveCount() != saves+1 {
		t.Error("achievement needed its own save")
	}

	var sawUnlock bool
	for _, typ := range h.rec.types() {
		if typ == EventAchievementUnlocked {
			sawUnlock = true
		}
	}
	if !sawUnlock {
		t.Error("no achievement event")
	}

	other := h.place(t, types.KindStar, origin)
	res, err = h.CollectItem(context.Background(), other.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Unlocked) != 0 {
		t.Errorf("unlocked again: %+v", res.Unlocked)
	}
}

func TestGenerateCollectiblesZoomThreshold(t *testing.T) {
	h := newHarness(t, quiet())
	h.place(t, types.KindStar, origin)

	low, err := h.GenerateCollectibles(View{CenterAt: origin, ZoomLevel: 10})
	if err != nil {
		t.Fatal(err)
	}
	if !low.Suppressed || len(low.Spawned) != 0 || len(low.Removed) != 1 || h.field.Len() != 0 {
		t.Errorf("zoomed out: %+v, live %d", low, h.field.Len())
	}

	view := View{CenterAt: origin, ZoomLevel: 16}
	high, err := h.GenerateCollectibles(view)
	if err != nil {
		t.Fatal(err)
	}
	if len(high.Spawned) != field.SpawnCount(16) || len(high.Live) != field.SpawnCount(16) {
		t.Errorf("spawned %d, live %d, want %d", len(high.Spawned), len(high.Live), field.SpawnCount(16))
	}

	same, err := h.GenerateCollectibles(view)
	if err != nil {
		t.Fatal(err)
	}
	if len(same.Spawned) != 0 || len(same.Removed) != 0 {
		t.Errorf("unchanged view respawned: %+v", same)
	}

	away := geo.LatLng{Lat: -33.8688, Lng: 151.2093}
	moved, err := h.GenerateCollectibles(View{CenterAt: away, ZoomLevel: 16})
	if err != nil {
		t.Fatal(err)
	}
	if len(moved.Removed) != field.SpawnCount(16) || len(moved.Spawned) != field.SpawnCount(16) {
		t.Errorf("moved view: removed %d spawned %d", len(moved.Removed), len(moved.Spawned))
	}
	for _, c := range h.Collectibles() {
		if d, _ := geo.DistanceMeters(away, c.Position); d > 2000 {
			t.Fatalf("collectible %v is %v m from the view", c.Position, d)
		}
	}
}

func TestGenerateCollectiblesRejectsBadViewport(t *testing.T) {
	h := newHarness(t, quiet())
	cases := map[string]View{
		"zoom":   {CenterAt: origin, ZoomLevel: 0},
		"center": {CenterAt: geo.LatLng{Lat: 100}, ZoomLevel: 15},
		"bounds": {CenterAt: origin, ZoomLevel: 15, Box: geo.Bounds{South: 10, North: 5}},
	}
	for name, v := range cases {
		if _, err := h.GenerateCollectibles(v); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestTickAccumulatesPlayTime(t *testing.T) {
	h := newHarness(t, quiet())
	h.init(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := h.Tick(ctx, 10*time.Second); err != nil {
			t.Fatal(err)
		}
	}
	saves := h.store.saveCount()
	if err := h.Tick(ctx, 0); err != nil {
		t.Fatal(err)
	}
	if h.store.saveCount() != saves {
		t.Error("zero tick saved")
	}
	p, _ := h.Snapshot()
	if p.Stats.PlayTimeMs != 30000 {
		t.Errorf("play time = %d ms, want 30000", p.Stats.PlayTimeMs)
	}
}

func TestConcurrentAddXP(t *testing.T) {
	h := newHarness(t, quiet())
	h.init(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.AddXP(context.Background(), 5, "test"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	// 250 xp from scratch
	p, _ := h.Snapshot()
	if p.Level != 3 || p.XP != 0 || p.XPToNextLevel != 225 {
		t.Errorf("level %d xp %d next %d, want 3 0 225", p.Level, p.XP, p.XPToNextLevel)
	}
}

func TestUnsubscribe(t *testing.T) {
	h := newHarness(t, quiet())
	h.init(t)
	var levelUps int
	stop := h.Subscribe(ListenerFunc(func(Event) { levelUps++ }), EventLevelUp)

	ctx := context.Background()
	if _, err := h.AddXP(ctx, 5, "test"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.AddXP(ctx, 100, "test"); err != nil {
		t.Fatal(err)
	}
	stop()
	if _, err := h.AddXP(ctx, 1000, "test"); err != nil {
		t.Fatal(err)
	}
	if levelUps != 1 {
		t.Errorf("level-up events seen = %d, want 1", levelUps)
	}
}
