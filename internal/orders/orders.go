// Package orders defines the order-history collaborator consumed by the fraud
// signal source and the transfer earnings calculation. The storefront's own
// CRUD layer owns order persistence; this package only models what the
// security core reads from it.
package orders

import (
	"context"
	"time"
)

// Status of an order as reported by the storefront.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Order is the slice of the storefront order record this core reads.
type Order struct {
	ID          string
	UserID      string
	Total       float64
	Status      Status
	CreatedAt   time.Time
	CompletedAt time.Time
}

// Store is the read-side interface onto the storefront's order storage.
type Store interface {
	OrdersByUser(ctx context.Context, userID string) ([]*Order, error)
	AllOrders(ctx context.Context) ([]*Order, error)
}
