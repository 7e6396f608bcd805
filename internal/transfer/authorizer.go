package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmallory/storeguard/internal/idgen"
	"github.com/jmallory/storeguard/internal/retry"
)

// Errors
var (
	ErrInvalidAmount  = errors.New("transfer amount must be a positive finite number")
	ErrNotAuthorized  = errors.New("intent was not authorized for execution")
	ErrExecutionError = errors.New("transfer execution failed")
)

var transfersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "storeguard",
	Subsystem: "transfer",
	Name:      "intents_total",
	Help:      "Transfer intents by final status, including policy rejections.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(transfersTotal)
}

const (
	executeAttempts  = 3
	executeBaseDelay = 500 * time.Millisecond
)

// Authorizer applies payout policy and drives intent execution on a rail.
type Authorizer struct {
	policy  Policy
	store   Store
	rail    Rail
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures the authorizer.
type Option func(*Authorizer)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Authorizer) { a.now = now }
}

// WithTimeout bounds a single rail execution attempt.
func WithTimeout(d time.Duration) Option {
	return func(a *Authorizer) { a.timeout = d }
}

// NewAuthorizer creates a transfer authorizer.
func NewAuthorizer(policy Policy, store Store, rail Rail, logger *slog.Logger, opts ...Option) *Authorizer {
	a := &Authorizer{
		policy:  policy,
		store:   store,
		rail:    rail,
		timeout: 30 * time.Second,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Authorize checks an amount against policy. A violation is an expected
// outcome returned in the Authorization; only malformed input (negative, NaN,
// infinite) is an error, and it fails fast rather than proceeding with a
// defaulted value.
func (a *Authorizer) Authorize(ctx context.Context, amount float64) (*Authorization, error) {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, ErrInvalidAmount
	}

	if amount < a.policy.MinimumAmount {
		transfersTotal.WithLabelValues(string(ReasonBelowMinimum)).Inc()
		return &Authorization{Authorized: false, Reason: ReasonBelowMinimum}, nil
	}
	if amount > a.policy.DailyCap {
		transfersTotal.WithLabelValues(string(ReasonExceedsCap)).Inc()
		return &Authorization{Authorized: false, Reason: ReasonExceedsCap}, nil
	}

	now := a.now()
	intent := &Intent{
		ID:          idgen.WithPrefix("tr_"),
		Amount:      amount,
		Memo:        fmt.Sprintf("Earnings payout %s", now.Format("2006-01-02")),
		ScheduledAt: now,
		Status:      StatusPending,
	}

	if a.store != nil {
		if err := a.store.Create(ctx, intent); err != nil {
			return nil, fmt.Errorf("persist transfer intent: %w", err)
		}
	}

	transfersTotal.WithLabelValues("authorized").Inc()
	a.logger.Info("transfer authorized", "id", intent.ID, "amount", amount)
	return &Authorization{Authorized: true, Intent: intent}, nil
}

// Execute hands a pending intent to the payment rail with a per-attempt
// timeout and bounded retries. The intent transitions to completed with the
// rail's transaction reference, or to failed with the reported reason.
func (a *Authorizer) Execute(ctx context.Context, intent *Intent) error {
	if intent.Status != StatusPending {
		return ErrNotAuthorized
	}

	var externalID string
	err := retry.Do(ctx, executeAttempts, executeBaseDelay, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		id, execErr := a.rail.Execute(attemptCtx, intent)
		if execErr != nil {
			return execErr
		}
		externalID = id
		return nil
	})

	if err != nil {
		intent.Status = StatusFailed
		intent.FailureReason = err.Error()
		transfersTotal.WithLabelValues(string(StatusFailed)).Inc()
		a.logger.Error("transfer execution failed", "id", intent.ID, "error", err)
		a.persistUpdate(ctx, intent)
		return fmt.Errorf("%w: %v", ErrExecutionError, err)
	}

	intent.Status = StatusCompleted
	intent.ExternalTxID = externalID
	transfersTotal.WithLabelValues(string(StatusCompleted)).Inc()
	a.logger.Info("transfer completed", "id", intent.ID, "externalTxId", externalID)
	a.persistUpdate(ctx, intent)
	return nil
}

// Cancel marks a still-pending intent cancelled.
func (a *Authorizer) Cancel(ctx context.Context, intent *Intent) error {
	if intent.Status != StatusPending {
		return ErrNotAuthorized
	}
	intent.Status = StatusCancelled
	transfersTotal.WithLabelValues(string(StatusCancelled)).Inc()
	a.persistUpdate(ctx, intent)
	return nil
}

func (a *Authorizer) persistUpdate(ctx context.Context, intent *Intent) {
	if a.store == nil {
		return
	}
	if err := a.store.Update(ctx, intent); err != nil {
		a.logger.Error("failed to persist intent update", "id", intent.ID, "error", err)
	}
}
