package transfer

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/jmallory/storeguard/internal/idgen"
)

// ErrRailUnavailable is returned by the simulated rail on an injected failure.
var ErrRailUnavailable = errors.New("payment rail unavailable")

// SimulatedRail mimics an external payment network with injected latency and
// a configurable random failure rate. Used in development and tests when no
// real rail credentials are configured.
type SimulatedRail struct {
	Latency     time.Duration
	FailureRate float64 // probability in [0, 1]

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedRail creates a simulated rail with the given latency and
// failure probability.
func NewSimulatedRail(latency time.Duration, failureRate float64) *SimulatedRail {
	return &SimulatedRail{
		Latency:     latency,
		FailureRate: failureRate,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *SimulatedRail) Execute(ctx context.Context, intent *Intent) (string, error) {
	if r.Latency > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.Latency):
		}
	}

	r.mu.Lock()
	failed := r.rng.Float64() < r.FailureRate
	r.mu.Unlock()

	if failed {
		return "", ErrRailUnavailable
	}
	return idgen.WithPrefix("sim_"), nil
}
