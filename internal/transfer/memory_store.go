package transfer

import (
	"context"
	"errors"
	"sync"
)

// ErrIntentNotFound is returned when an intent ID is unknown.
var ErrIntentNotFound = errors.New("transfer intent not found")

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu      sync.RWMutex
	intents []*Intent
	byID    map[string]*Intent
}

// NewMemoryStore creates an in-memory transfer intent store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Intent)}
}

func (s *MemoryStore) Create(ctx context.Context, intent *Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := *intent
	s.intents = append(s.intents, &i)
	s.byID[i.ID] = &i
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, intent *Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[intent.ID]
	if !ok {
		return ErrIntentNotFound
	}
	*existing = *intent
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	intent, ok := s.byID[id]
	if !ok {
		return nil, ErrIntentNotFound
	}
	i := *intent
	return &i, nil
}

func (s *MemoryStore) ListRecent(ctx context.Context, limit int) ([]*Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.intents) - limit
	if start < 0 {
		start = 0
	}
	out := make([]*Intent, 0, len(s.intents)-start)
	for i := len(s.intents) - 1; i >= start; i-- {
		intent := *s.intents[i]
		out = append(out, &intent)
	}
	return out, nil
}
