// Package transfer gates outbound payouts against policy and records their
// execution lifecycle.
//
// Authorization is a pure policy decision: amounts below the minimum or above
// the daily cap are rejected as expected outcomes, not errors. Funds movement
// itself is delegated to a payment rail collaborator; this package only
// decides go/no-go, constructs the intent record, and tracks the outcome the
// rail reports back.
package transfer

import (
	"context"
	"time"
)

// Status of a transfer intent.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// RejectionReason names why a policy check refused an amount.
type RejectionReason string

const (
	ReasonBelowMinimum RejectionReason = "below_minimum"
	ReasonExceedsCap   RejectionReason = "exceeds_cap"
)

// Intent is a proposed outbound payout awaiting or recording execution.
type Intent struct {
	ID            string    `json:"id"`
	Amount        float64   `json:"amount"`
	Memo          string    `json:"memo"`
	ScheduledAt   time.Time `json:"scheduledAt"`
	Status        Status    `json:"status"`
	FailureReason string    `json:"failureReason,omitempty"`
	ExternalTxID  string    `json:"externalTransactionId,omitempty"`
}

// Authorization is the outcome of a policy check. Policy violations are
// recoverable decisions the caller branches on, never errors.
type Authorization struct {
	Authorized bool            `json:"authorized"`
	Reason     RejectionReason `json:"reason,omitempty"`
	Intent     *Intent         `json:"intent,omitempty"`
}

// Policy holds the payout limits.
type Policy struct {
	MinimumAmount float64
	DailyCap      float64
}

// Store persists transfer intents.
type Store interface {
	Create(ctx context.Context, intent *Intent) error
	Update(ctx context.Context, intent *Intent) error
	Get(ctx context.Context, id string) (*Intent, error)
	ListRecent(ctx context.Context, limit int) ([]*Intent, error)
}

// Rail executes an authorized transfer on an external payment network. It
// must be treated as an untrusted network call: implementations may be slow,
// time out, or fail outright.
type Rail interface {
	Execute(ctx context.Context, intent *Intent) (externalTxID string, err error)
}
