// Command walker is a scripted client: it logs in, opens the game socket and
// walks a straight line, logging what it picks up on the way.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"net"
	"net/http"
	neturl "net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"geoquest/server/logging"
	"geoquest/shared/geo"
	"geoquest/shared/protocol"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type options struct {
	server   string
	user     string
	password string
	start    geo.LatLng
	bearing  float64
	step     float64
	every    time.Duration
	steps    int
	zoom     float64
}

func main() {
	var o options
	flag.StringVar(&o.server, "server", "http://localhost:8080", "server base URL")
	flag.StringVar(&o.user, "user", "walker", "username")
	flag.StringVar(&o.password, "password", "walker-pass", "password")
	flag.Float64Var(&o.start.Lat, "lat", 52.52, "start latitude")
	flag.Float64Var(&o.start.Lng, "lng", 13.405, "start longitude")
	flag.Float64Var(&o.bearing, "bearing", 45, "walking direction in degrees from north")
	flag.Float64Var(&o.step, "step", 6, "meters per step")
	flag.DurationVar(&o.every, "every", 500*time.Millisecond, "time between steps")
	flag.IntVar(&o.steps, "steps", 200, "steps to walk, 0 walks until interrupted")
	flag.Float64Var(&o.zoom, "zoom", 16, "map zoom reported to the server")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	log := logging.New("walker", logging.Options{Level: *level, Format: "console", Out: os.Stderr})
	if err := run(o, log); err != nil {
		log.Error().Err(err).Msg("walker stopped")
		os.Exit(1)
	}
}

func run(o options, log zerolog.Logger) error {
	if err := o.start.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := register(o.server, o.user, o.password); err != nil {
		return err
	}
	token, err := login(o.server, o.user, o.password)
	if err != nil {
		return err
	}
	conn, err := dialWS(wsURL(o.server), token)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	log.Info().Str("user", o.user).Str("at", o.start.String()).Msg("connected")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return readLoop(conn, log) })
	g.Go(func() error {
		defer conn.Close()
		return walk(gctx, conn, o, log)
	})
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// walk reports the viewport, then steps along the bearing. The viewport is
// resent every 20 steps so the field keeps up with the player.
func walk(ctx context.Context, conn *websocket.Conn, o options, log zerolog.Logger) error {
	pos := o.start
	view := func() error {
		return send(conn, protocol.TypeViewport, protocol.Viewport{Center: pos, Zoom: o.zoom})
	}
	if err := send(conn, protocol.TypeTeleport, protocol.Teleport{Position: pos}); err != nil {
		return err
	}
	if err := view(); err != nil {
		return err
	}

	rad := o.bearing * math.Pi / 180
	north, east := o.step*math.Cos(rad), o.step*math.Sin(rad)
	t := time.NewTicker(o.every)
	defer t.Stop()
	for i := 1; o.steps == 0 || i <= o.steps; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		pos = geo.OffsetMeters(pos, north, east)
		if err := send(conn, protocol.TypeMove, protocol.Move{Position: pos}); err != nil {
			return err
		}
		if i%20 == 0 {
			log.Debug().Int("step", i).Str("at", pos.String()).Msg("refreshing viewport")
			if err := view(); err != nil {
				return err
			}
		}
	}
	log.Info().Int("steps", o.steps).Msg("walk finished")
	// let the last replies arrive before the socket closes
	time.Sleep(time.Second)
	return nil
}

func readLoop(conn *websocket.Conn, log zerolog.Logger) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		var env protocol.MsgEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Msg("bad message")
			continue
		}
		logMessage(log, env)
	}
}

func logMessage(log zerolog.Logger, env protocol.MsgEnvelope) {
	switch env.Type {
	case protocol.TypeItemCollected:
		var m protocol.ItemCollected
		if json.Unmarshal(env.Data, &m) == nil {
			log.Info().Str("kind", string(m.Collectible.Kind)).Str("rarity", m.Collectible.Rarity.String()).
				Int("xp", m.Collectible.XP).Msg("collected")
		}
	case protocol.TypeLevelUp:
		var m protocol.LevelUp
		if json.Unmarshal(env.Data, &m) == nil {
			log.Info().Int("from", m.OldLevel).Int("to", m.NewLevel).Int("next", m.XPToNextLevel).Msg("level up")
		}
	case protocol.TypeAchievementUnlocked:
		var m protocol.AchievementUnlocked
		if json.Unmarshal(env.Data, &m) == nil {
			log.Info().Str("id", m.ID).Str("name", m.Name).Int("reward", m.RewardXP).Msg("achievement")
		}
	case protocol.TypeCollectibles:
		var m protocol.Collectibles
		if json.Unmarshal(env.Data, &m) == nil {
			log.Debug().Int("items", len(m.Items)).Bool("suppressed", m.Suppressed).Msg("field")
		}
	case protocol.TypeError:
		var m protocol.ErrorMsg
		if json.Unmarshal(env.Data, &m) == nil {
			log.Warn().Str("code", m.Code).Msg(m.Message)
		}
	}
}

func send(conn *websocket.Conn, typ string, v any) error {
	b, err := protocol.Encode(typ, v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

func register(base, user, password string) error {
	body, _ := json.Marshal(map[string]string{"username": user, "password": password, "password_confirm": password})
	resp, err := http.Post(base+"/api/register", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusConflict:
		return nil
	}
	return fmt.Errorf("register: %s", resp.Status)
}

func login(base, user, password string) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": user, "password": password})
	resp, err := http.Post(base+"/api/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login: %s", resp.Status)
	}
	var result struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if result.Token == "" {
		return "", errors.New("login: empty token")
	}
	return result.Token, nil
}

func wsURL(base string) string {
	base = strings.TrimSuffix(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	}
	return base + "/ws"
}

func dialWS(url, token string) (*websocket.Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	// the server accepts the token as header or query param
	if token != "" {
		if u, err := neturl.Parse(url); err == nil {
			q := u.Query()
			q.Set("token", token)
			u.RawQuery = q.Encode()
			url = u.String()
		}
	}
	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}
	c, _, err := d.Dial(url, hdr)
	return c, err
}
