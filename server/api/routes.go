// Package api wires the HTTP surface of the server.
package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"geoquest/server/auth"
	"geoquest/server/player"
	"geoquest/shared/game/types"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Players reads live records of connected players; *srv.Hub implements it.
type Players interface {
	Snapshot(username string) (types.Player, bool)
}

type Deps struct {
	Auth    *auth.Auth
	Store   player.Store
	Players Players
	WS      http.Handler // websocket endpoint, wrapped in auth here
	Metrics http.Handler
	Logger  zerolog.Logger
}

func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLog(d.Logger))

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/register", d.Auth.HandleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/login", d.Auth.HandleLogin).Methods(http.MethodPost)
	r.Handle("/api/player", d.Auth.RequireAuth(handlePlayer(d))).Methods(http.MethodGet)
	if d.WS != nil {
		r.Handle("/ws", d.Auth.RequireAuth(d.WS)).Methods(http.MethodGet)
	}
	if d.Metrics != nil {
		r.Handle("/debug/metrics", d.Metrics).Methods(http.MethodGet)
	}
	return r
}

// handlePlayer serves the caller's record, live if they are connected.
func handlePlayer(d Deps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, _ := auth.Username(r.Context())
		if d.Players != nil {
			if p, ok := d.Players.Snapshot(username); ok {
				writeJSON(w, http.StatusOK, p)
				return
			}
		}
		p, err := d.Store.Load(r.Context(), username)
		switch {
		case errors.Is(err, player.ErrNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no saved player yet"})
		case err != nil:
			d.Logger.Error().Err(err).Str("player", username).Msg("loading player failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "load failed"})
		default:
			writeJSON(w, http.StatusOK, p)
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the logging wrapper.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer cannot hijack")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func requestLog(log zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Dur("took", time.Since(start)).
				Msg("http")
		})
	}
}
