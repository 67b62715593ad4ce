package player

import (
	"context"
	"fmt"
	"sync"

	"geoquest/shared/game/types"
)

// MemoryStore keeps players in process memory. Records are copied in and out.
type MemoryStore struct {
	mu      sync.RWMutex
	players map[string]*types.Player
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{players: make(map[string]*types.Player)}
}

func (s *MemoryStore) Load(_ context.Context, name string) (*types.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[SafeKey(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, p *types.Player) error {
	if p == nil {
		return fmt.Errorf("save: nil player")
	}
	if err := checkName(p.Name); err != nil {
		return err
	}
	s.mu.Lock()
	s.players[SafeKey(p.Name)] = p.Clone()
	s.mu.Unlock()
	return nil
}
