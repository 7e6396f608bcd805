package transfer

import (
	"context"

	"github.com/jmallory/storeguard/internal/circuitbreaker"
	"github.com/jmallory/storeguard/internal/retry"
)

const breakerKey = "payment_rail"

// BreakerRail wraps a rail with a circuit breaker. After repeated failures
// the circuit opens and executions fail fast instead of hammering the
// external network; a probe after the open window decides recovery. A fast
// failure is permanent for the current retry loop, so the authorizer does not
// burn its attempts against an open circuit.
type BreakerRail struct {
	inner   Rail
	breaker *circuitbreaker.Breaker
}

// NewBreakerRail wraps a rail with the given breaker.
func NewBreakerRail(inner Rail, breaker *circuitbreaker.Breaker) *BreakerRail {
	return &BreakerRail{inner: inner, breaker: breaker}
}

func (r *BreakerRail) Execute(ctx context.Context, intent *Intent) (string, error) {
	if !r.breaker.Allow(breakerKey) {
		return "", retry.Permanent(ErrRailUnavailable)
	}

	id, err := r.inner.Execute(ctx, intent)
	if err != nil {
		r.breaker.RecordFailure(breakerKey)
		return "", err
	}
	r.breaker.RecordSuccess(breakerKey)
	return id, nil
}
