// server/srv/hub.go
package srv

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"geoquest/server/auth"
	"geoquest/server/engine"
	"geoquest/server/metrics"
	"geoquest/server/player"
	"geoquest/server/tuning"
	"geoquest/shared/game/types"
	"geoquest/shared/protocol"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	sendBuffer   = 64
	maxMsgBytes  = 4096
	writeTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  2048,
	WriteBufferSize: 2048,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Options struct {
	Store  player.Store
	Tuning tuning.Tuning
	Logger zerolog.Logger
	// attached to every player's engine, e.g. metrics and telemetry
	Listeners []engine.Listener
	Metrics   *metrics.Registry
	TickEvery time.Duration
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	name string
	room *room
	log  zerolog.Logger
	// touched only by the reader goroutine
	bucket tokenBucket
}

// room is one player's engine and every connection that player has open.
// Connections of the same account share the engine, so they see one field
// and one save stream.
type room struct {
	key      string
	engine   *engine.Engine
	clients  map[*client]struct{}
	stop     func()
	lastTick time.Time
}

type Hub struct {
	mu      sync.Mutex
	opts    Options
	log     zerolog.Logger
	rooms   map[string]*room
	opening singleflight.Group
}

func NewHub(opts Options) *Hub {
	if opts.TickEvery <= 0 {
		opts.TickEvery = 10 * time.Second
	}
	return &Hub{
		opts:  opts,
		log:   opts.Logger,
		rooms: make(map[string]*room),
	}
}

// Run drives play time for every connected player until ctx is done, then
// closes all connections.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.opts.TickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case now := <-ticker.C:
			h.tick(ctx, now)
		}
	}
}

func (h *Hub) tick(ctx context.Context, now time.Time) {
	h.mu.Lock()
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	for _, r := range rooms {
		elapsed := now.Sub(r.lastTick)
		r.lastTick = now
		if err := r.engine.Tick(ctx, elapsed); err != nil {
			h.countFailure(err)
			h.log.Warn().Err(err).Str("player", r.key).Msg("tick failed")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.rooms {
		for c := range r.clients {
			_ = c.conn.Close()
		}
	}
}

// Snapshot returns the live record of a connected player.
func (h *Hub) Snapshot(username string) (types.Player, bool) {
	h.mu.Lock()
	r, ok := h.rooms[player.SafeKey(username)]
	h.mu.Unlock()
	if !ok {
		return types.Player{}, false
	}
	p, err := r.engine.Snapshot()
	return p, err == nil
}

// ServeWS upgrades an authenticated request; RequireAuth must run first.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	username, ok := auth.Username(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	h.HandleWSAuth(r.Context(), conn, username)
}

// HandleWSAuth binds conn to username's engine, sends the player and the
// field, then serves the connection until it closes.
func (h *Hub) HandleWSAuth(ctx context.Context, conn *websocket.Conn, username string) {
	c := &client{
		id:   protocol.NewID(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
		name: username,
	}
	c.log = h.log.With().Str("player", username).Str("conn", c.id).Logger()
	go c.writer()

	r, err := h.join(ctx, c)
	if err != nil {
		c.log.Error().Err(err).Msg("join failed")
		h.sendError(c, err)
		close(c.done)
		return
	}
	c.log.Info().Msg("connected")

	h.sendPlayer(c)
	sendJSON(c, protocol.TypeCollectibles, protocol.Collectibles{Items: r.engine.Collectibles()})
	c.reader(ctx, h)
}

// join attaches c to its player's room, opening the room when needed.
func (h *Hub) join(ctx context.Context, c *client) (*room, error) {
	key := player.SafeKey(c.name)
	for {
		v, err, _ := h.opening.Do(key, func() (any, error) {
			return h.open(ctx, key, c.name)
		})
		if err != nil {
			return nil, err
		}
		r := v.(*room)

		h.mu.Lock()
		if h.rooms[key] == r {
			r.clients[c] = struct{}{}
			c.room = r
			h.mu.Unlock()
			if h.opts.Metrics != nil {
				h.opts.Metrics.Sessions.WithLabelValues().Inc()
			}
			return r, nil
		}
		h.mu.Unlock()
		// the room emptied and closed before c got in; open it again
	}
}

// open returns the live room for key or loads the player into a new one.
// The store is read without h.mu held; concurrent opens of one key share a
// single load through h.opening.
func (h *Hub) open(ctx context.Context, key, name string) (*room, error) {
	h.mu.Lock()
	r, ok := h.rooms[key]
	h.mu.Unlock()
	if ok {
		return r, nil
	}

	eng, err := engine.New(engine.Options{
		Store:     h.opts.Store,
		Tuning:    h.opts.Tuning,
		Logger:    h.log.With().Str("player", name).Logger(),
		Listeners: h.opts.Listeners,
	})
	if err != nil {
		return nil, err
	}
	if _, err := eng.Init(ctx, name); err != nil {
		return nil, err
	}
	r = &room{key: key, engine: eng, clients: map[*client]struct{}{}, lastTick: time.Now()}
	r.stop = eng.Subscribe(engine.ListenerFunc(func(e engine.Event) { h.forward(r, e) }))

	h.mu.Lock()
	h.rooms[key] = r
	h.mu.Unlock()
	return r, nil
}

func (h *Hub) leave(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := c.room
	if r == nil {
		return
	}
	delete(r.clients, c)
	c.room = nil
	if len(r.clients) == 0 {
		r.stop()
		delete(h.rooms, r.key)
	}
	if h.opts.Metrics != nil {
		h.opts.Metrics.Sessions.WithLabelValues().Dec()
	}
}

func (h *Hub) members(r *room) []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*client, 0, len(r.clients))
	for c := range r.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) broadcast(r *room, typ string, v any) {
	for _, c := range h.members(r) {
		sendJSON(c, typ, v)
	}
}

// forward turns engine events into messages for every connection of the player.
func (h *Hub) forward(r *room, e engine.Event) {
	switch d := e.Data.(type) {
	case engine.PlayerMoved:
		h.broadcast(r, protocol.TypeMoved, protocol.Moved{
			Position: d.To, Meters: d.Meters, XPAwarded: d.XP, Teleport: d.Teleport,
		})
	case engine.XPGained:
		h.broadcast(r, protocol.TypeXPGained, protocol.XPGained{Amount: d.Amount, Source: d.Source})
	case engine.LevelUp:
		h.broadcast(r, protocol.TypeLevelUp, protocol.LevelUp{
			OldLevel: d.OldLevel, NewLevel: d.NewLevel, XPToNextLevel: d.XPToNextLevel,
		})
	case engine.ItemCollected:
		h.broadcast(r, protocol.TypeItemCollected, protocol.ItemCollected{Collectible: d.Collectible, Record: d.Record})
	case engine.AchievementUnlocked:
		h.broadcast(r, protocol.TypeAchievementUnlocked, protocol.AchievementUnlocked{
			ID: d.Achievement.ID, Name: d.Achievement.Name, RewardXP: d.Achievement.RewardXP,
		})
	}
}

func (c *client) reader(ctx context.Context, h *Hub) {
	defer func() {
		h.leave(c)
		close(c.done)
		_ = c.conn.Close()
		c.log.Info().Msg("disconnected")
	}()
	c.conn.SetReadLimit(maxMsgBytes)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}

		if !c.bucket.allow(time.Now(), msgRateHz, msgBurst) {
			if h.opts.Metrics != nil {
				h.opts.Metrics.RateLimited.WithLabelValues().Inc()
			}
			h.sendCode(c, protocol.CodeRateLimited, "slow down")
			continue
		}

		var env protocol.MsgEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.sendCode(c, protocol.CodeBadRequest, "malformed envelope")
			continue
		}
		c.log.Debug().Str("type", env.Type).Msg("ws msg")
		h.handle(ctx, c, env)
	}
}

func (h *Hub) handle(ctx context.Context, c *client, env protocol.MsgEnvelope) {
	eng := c.room.engine
	decode := func(v any) bool {
		if err := json.Unmarshal(env.Data, v); err != nil {
			h.sendCode(c, protocol.CodeBadRequest, "malformed "+env.Type)
			return false
		}
		return true
	}

	switch env.Type {
	case protocol.TypeViewport:
		var m protocol.Viewport
		if !decode(&m) {
			return
		}
		view := engine.View{CenterAt: m.Center, ZoomLevel: m.Zoom}
		if m.Bounds != nil {
			view.Box = *m.Bounds
		}
		res, err := eng.GenerateCollectibles(view)
		if err != nil {
			h.sendError(c, err)
			return
		}
		h.broadcast(c.room, protocol.TypeCollectibles, protocol.Collectibles{
			Items: res.Live, Removed: res.Removed, Suppressed: res.Suppressed,
		})

	case protocol.TypeMove:
		var m protocol.Move
		if !decode(&m) {
			return
		}
		if _, err := eng.MovePlayer(ctx, m.Position); err != nil {
			h.sendError(c, err)
			return
		}
		if _, err := eng.CheckCollectibles(ctx, m.Position); err != nil {
			h.sendError(c, err)
		}
		h.broadcastPlayer(c.room)

	case protocol.TypeTeleport:
		var m protocol.Teleport
		if !decode(&m) {
			return
		}
		if _, err := eng.Teleport(ctx, m.Position); err != nil {
			h.sendError(c, err)
			return
		}
		h.broadcastPlayer(c.room)

	case protocol.TypeCollect:
		var m protocol.Collect
		if !decode(&m) {
			return
		}
		if _, err := eng.CollectItem(ctx, m.ID); err != nil {
			h.sendError(c, err)
			return
		}
		h.broadcastPlayer(c.room)

	case protocol.TypeGetPlayer:
		h.sendPlayer(c)

	default:
		h.sendCode(c, protocol.CodeUnknownMessage, "unknown message type "+env.Type)
	}
}

func (h *Hub) sendPlayer(c *client) {
	p, err := c.room.engine.Snapshot()
	if err != nil {
		h.sendError(c, err)
		return
	}
	sendJSON(c, protocol.TypePlayer, protocol.PlayerMsg{Player: p})
}

func (h *Hub) broadcastPlayer(r *room) {
	p, err := r.engine.Snapshot()
	if err != nil {
		return
	}
	h.broadcast(r, protocol.TypePlayer, protocol.PlayerMsg{Player: p})
}

func (h *Hub) sendError(c *client, err error) {
	h.countFailure(err)
	code := errorCode(err)
	if code == protocol.CodeInternal || code == protocol.CodePersistence {
		c.log.Error().Err(err).Msg("request failed")
	}
	sendJSON(c, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: err.Error()})
}

func (h *Hub) sendCode(c *client, code, msg string) {
	sendJSON(c, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: msg})
}

func (h *Hub) countFailure(err error) {
	var perr *engine.PersistenceError
	if h.opts.Metrics != nil && errors.As(err, &perr) {
		h.opts.Metrics.PersistenceFailures.WithLabelValues(perr.Op).Inc()
	}
}

func (c *client) writer() {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.done:
			// flush what is already queued, e.g. a final error
			for {
				select {
				case msg := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func sendJSON(c *client, typ string, v any) {
	out, err := protocol.Encode(typ, v)
	if err != nil {
		c.log.Error().Err(err).Str("type", typ).Msg("encode failed")
		return
	}
	select {
	case c.send <- out:
	default:
		c.log.Warn().Str("type", typ).Msg("send buffer full, dropping message")
	}
}
