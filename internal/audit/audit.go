// Package audit implements the append-only security event log.
//
// Every security-relevant occurrence (login attempts, admin access denials,
// fraud alerts) is recorded as an immutable Event. The in-memory log is the
// source of truth for ordering; durable persistence is write-through and
// best-effort — a failed durable write never loses the event.
package audit

import (
	"context"
	"time"
)

// Kind classifies a security event.
type Kind string

const (
	KindLoginAttempt      Kind = "login_attempt"
	KindFailedLogin       Kind = "failed_login"
	KindAdminAccess       Kind = "admin_access"
	KindTransactionReview Kind = "transaction_review"
	KindFraudAlert        Kind = "fraud_alert"
	KindDataBreach        Kind = "data_breach"
)

// Severity grades how serious an event is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for threshold comparisons. Unknown severities rank
// below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Event is an immutable security event record. Events are only ever appended;
// the Resolved flag is the single mutable field and flips only through an
// explicit Resolve call by the component that originated the event.
type Event struct {
	ID              string         `json:"id"`
	Seq             int64          `json:"seq"` // insertion order, assigned by the log
	Kind            Kind           `json:"kind"`
	Severity        Severity       `json:"severity"`
	ActorID         string         `json:"actorId,omitempty"`
	SourceAddress   string         `json:"sourceAddress,omitempty"`
	ClientSignature string         `json:"clientSignature,omitempty"` // user-agent-like string
	Details         map[string]any `json:"details,omitempty"`
	Origin          string         `json:"origin,omitempty"` // component that created the event
	Timestamp       time.Time      `json:"timestamp"`
	Resolved        bool           `json:"resolved"`
}

// Store persists security events durably.
type Store interface {
	Create(ctx context.Context, event *Event) error
	MarkResolved(ctx context.Context, id string) error
	Recent(ctx context.Context, limit int) ([]*Event, error)
}

// Subscriber is notified of every appended event. Used by the realtime feed.
type Subscriber interface {
	NotifyEvent(event *Event)
}
