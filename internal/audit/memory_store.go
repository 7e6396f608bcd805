package audit

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*Event
	byID   map[string]*Event
}

// NewMemoryStore creates an in-memory security event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]*Event),
	}
}

func (s *MemoryStore) Create(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := *event
	if e.Details != nil {
		details := make(map[string]any, len(e.Details))
		for k, v := range e.Details {
			details[k] = v
		}
		e.Details = details
	}
	s.events = append(s.events, &e)
	s.byID[e.ID] = &e
	return nil
}

func (s *MemoryStore) MarkResolved(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return ErrEventNotFound
	}
	e.Resolved = true
	return nil
}

func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.events) - limit
	if start < 0 {
		start = 0
	}
	out := make([]*Event, 0, len(s.events)-start)
	for i := len(s.events) - 1; i >= start; i-- {
		e := *s.events[i]
		out = append(out, &e)
	}
	return out, nil
}
