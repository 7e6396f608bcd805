package orders

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu     sync.RWMutex
	orders []*Order
}

// NewMemoryStore creates an in-memory order store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Add appends an order. Test and demo seeding helper.
func (s *MemoryStore) Add(order *Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := *order
	s.orders = append(s.orders, &o)
}

func (s *MemoryStore) OrdersByUser(ctx context.Context, userID string) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Order
	for _, o := range s.orders {
		if o.UserID == userID {
			order := *o
			out = append(out, &order)
		}
	}
	return out, nil
}

func (s *MemoryStore) AllOrders(ctx context.Context) ([]*Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Order, 0, len(s.orders))
	for _, o := range s.orders {
		order := *o
		out = append(out, &order)
	}
	return out, nil
}
