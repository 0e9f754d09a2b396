package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/buyback-auction/internal/model"
)

// MemoryStore implements Store with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	rounds map[string][]byte
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rounds: make(map[string][]byte),
	}
}

// Rounds are held encoded so callers can never share the nested maps and
// slices of a stored record.

func (s *MemoryStore) SaveRound(_ context.Context, r *model.ArchivedRound) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode round %s: %w", r.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rounds[r.ID]; exists {
		return fmt.Errorf("round %s already archived", r.ID)
	}
	s.rounds[r.ID] = data
	return nil
}

func (s *MemoryStore) GetRound(_ context.Context, id string) (*model.ArchivedRound, error) {
	s.mu.RLock()
	data, ok := s.rounds[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var r model.ArchivedRound
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode round %s: %w", id, err)
	}
	return &r, nil
}

func (s *MemoryStore) ListRounds(_ context.Context) ([]model.ArchivedRound, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rounds := make([]model.ArchivedRound, 0, len(s.rounds))
	for id, data := range s.rounds {
		var r model.ArchivedRound
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode round %s: %w", id, err)
		}
		rounds = append(rounds, r)
	}
	sort.Slice(rounds, func(i, j int) bool {
		return rounds[i].ClearedAt.After(rounds[j].ClearedAt)
	})
	return rounds, nil
}
