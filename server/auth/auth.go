// Package auth registers accounts, issues JWTs and guards HTTP routes.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrUserExists   = errors.New("username already exists")
)

const minPasswordLen = 6

var validUsername = regexp.MustCompile(`^[A-Za-z0-9_]{1,32}$`)

type User struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

type userStore struct {
	mu    sync.RWMutex
	path  string
	users map[string]*User
}

func newUserStore(path string) (*userStore, error) {
	us := &userStore{path: path, users: map[string]*User{}}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return us, nil
	case err != nil:
		return nil, err
	}
	if err := json.Unmarshal(b, &us.users); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return us, nil
}

// save writes the whole user table. Callers hold s.mu.
func (s *userStore) save() error {
	b, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *userStore) get(username string) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[strings.ToLower(username)]
	return u, ok
}

// add stores u unless the name is taken.
func (s *userStore) add(u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(u.Username)
	if _, ok := s.users[key]; ok {
		return ErrUserExists
	}
	s.users[key] = u
	if err := s.save(); err != nil {
		delete(s.users, key)
		return err
	}
	return nil
}

type Options struct {
	DataDir  string
	Issuer   string
	TokenTTL time.Duration
	Logger   zerolog.Logger
}

type Auth struct {
	users  *userStore
	jwtKey []byte
	issuer string
	ttl    time.Duration
	log    zerolog.Logger
	now    func() time.Time
}

// NewAuth opens the user table in opts.DataDir and loads, or creates, the
// signing key next to it.
func NewAuth(opts Options) (*Auth, error) {
	users, err := newUserStore(filepath.Join(opts.DataDir, "users.json"))
	if err != nil {
		return nil, fmt.Errorf("auth: users: %w", err)
	}
	keyPath := filepath.Join(opts.DataDir, "jwt.key")
	key, err := os.ReadFile(keyPath)
	if err != nil || len(key) < 32 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("auth: key: %w", err)
		}
		if err := os.WriteFile(keyPath, key, 0o600); err != nil {
			return nil, fmt.Errorf("auth: key: %w", err)
		}
		opts.Logger.Info().Str("path", keyPath).Msg("generated signing key")
	}
	if opts.Issuer == "" {
		opts.Issuer = "geoquest"
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	return &Auth{
		users:  users,
		jwtKey: key,
		issuer: opts.Issuer,
		ttl:    opts.TokenTTL,
		log:    opts.Logger,
		now:    time.Now,
	}, nil
}

type RegisterReq struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}
type RegisterResp struct {
	OK bool `json:"ok"`
}

func (a *Auth) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if !validUsername.MatchString(req.Username) {
		http.Error(w, "username must be 1-32 letters, digits or underscores", http.StatusBadRequest)
		return
	}
	if len(req.Password) < minPasswordLen || req.Password != req.PasswordConfirm {
		http.Error(w, "password mismatch or too short", http.StatusBadRequest)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		a.log.Error().Err(err).Msg("hashing password failed")
		http.Error(w, "register failed", http.StatusInternalServerError)
		return
	}
	u := &User{Username: req.Username, PasswordHash: string(hash), CreatedAt: a.now()}
	switch err := a.users.add(u); {
	case errors.Is(err, ErrUserExists):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		a.log.Error().Err(err).Str("user", req.Username).Msg("saving user failed")
		http.Error(w, "save failed", http.StatusInternalServerError)
		return
	}
	a.log.Info().Str("user", u.Username).Msg("registered")
	writeJSON(w, RegisterResp{OK: true})
}

type LoginReq struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
type LoginResp struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

func (a *Auth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	u, ok := a.users.get(strings.TrimSpace(req.Username))
	if !ok || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		a.log.Info().Str("user", req.Username).Msg("login rejected")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	signed, err := a.IssueToken(u.Username)
	if err != nil {
		a.log.Error().Err(err).Msg("signing token failed")
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, LoginResp{Token: signed, Username: u.Username})
}

// IssueToken signs a token for username valid for the configured TTL.
func (a *Auth) IssueToken(username string) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtKey)
}

// ParseToken returns the username a valid token was issued for.
func (a *Auth) ParseToken(tok string) (string, error) {
	if tok == "" {
		return "", ErrMissingToken
	}
	var claims jwt.RegisteredClaims
	key := func(*jwt.Token) (any, error) { return a.jwtKey, nil }
	t, err := jwt.ParseWithClaims(tok, &claims, key,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil || !t.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}

type ctxKey struct{}

// WithUsername returns a copy of ctx carrying username.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, ctxKey{}, username)
}

// Username returns the name RequireAuth put on the request context.
func Username(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(ctxKey{}).(string)
	return u, ok && u != ""
}

// RequireAuth accepts a Bearer header or a token query parameter, the latter
// for browser websockets which cannot set headers.
func (a *Auth) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var tok string
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			tok = strings.TrimPrefix(h, "Bearer ")
		} else {
			tok = r.URL.Query().Get("token")
		}
		user, err := a.ParseToken(tok)
		if err != nil {
			a.log.Debug().Err(err).Str("path", r.URL.Path).Msg("unauthorized")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUsername(r.Context(), user)))
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
