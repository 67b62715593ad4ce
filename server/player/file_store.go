package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"geoquest/shared/game/types"

	"github.com/rs/zerolog"
)

// FileStore keeps one JSON file per player under dir.
type FileStore struct {
	dir string
	log zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFileStore(dir string, log zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create players directory: %w", err)
	}
	return &FileStore{dir: dir, log: log, locks: make(map[string]*sync.Mutex)}, nil
}

// lockFor returns the mutex serializing reads and writes of one player file.
func (s *FileStore) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *FileStore) Load(_ context.Context, name string) (*types.Player, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	key := SafeKey(name)
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()

	b, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read player file: %w", err)
	}

	var p types.Player
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("failed to decode player %s: %w", name, err)
	}
	return &p, nil
}

// Save writes to a temp file and renames it over the old record.
func (s *FileStore) Save(_ context.Context, p *types.Player) error {
	if p == nil {
		return errors.New("invalid player: nil pointer")
	}
	if err := checkName(p.Name); err != nil {
		return err
	}
	key := SafeKey(p.Name)
	l := s.lockFor(key)
	l.Lock()
	defer l.Unlock()

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal player: %w", err)
	}

	path := s.path(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp player file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename player file: %w", err)
	}

	s.log.Debug().Str("player", p.Name).Int("level", p.Level).Msg("player saved")
	return nil
}
