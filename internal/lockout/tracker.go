// Package lockout tracks per-address login failures and time-boxed lockouts.
//
// An address accumulates failures until it crosses the configured attempt
// limit, at which point it is locked for the lockout duration. Expired
// lockouts are evicted lazily on the next check. A periodic sweep clears all
// failure counters (not lockouts) to bound memory; this is a coarse global
// reset, not per-address expiry.
package lockout

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jmallory/storeguard/internal/syncutil"
)

var lockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "storeguard",
	Subsystem: "lockout",
	Name:      "lockouts_total",
	Help:      "Addresses transitioned into the locked state.",
})

func init() {
	prometheus.MustRegister(lockoutsTotal)
}

// Tracker owns the failure counters and the lockout records. Safe for
// concurrent use: read-modify-write of a counter happens under a per-address
// sharded lock, so two concurrent failures for the same address never lose an
// increment.
type Tracker struct {
	keys     syncutil.ShardedMutex
	failures sync.Map // address → int
	locks    sync.Map // address → time.Time (lockedAt)

	maxAttempts   int
	lockDuration  time.Duration
	sweepInterval time.Duration

	logger   *slog.Logger
	now      func() time.Time
	stop     chan struct{}
	sweeping atomic.Bool // guards against re-entrant sweep ticks
}

// Option configures the tracker.
type Option func(*Tracker)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithSweepInterval overrides how often failure counters are reset.
func WithSweepInterval(d time.Duration) Option {
	return func(t *Tracker) { t.sweepInterval = d }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// New creates a tracker. An address locks once it reaches maxAttempts
// recorded failures, and stays locked for lockDuration.
func New(maxAttempts int, lockDuration time.Duration, opts ...Option) *Tracker {
	t := &Tracker{
		maxAttempts:   maxAttempts,
		lockDuration:  lockDuration,
		sweepInterval: 5 * time.Minute,
		logger:        slog.Default(),
		now:           time.Now,
		stop:          make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RecordFailure increments the address's failure counter and returns true if
// the address is now locked.
func (t *Tracker) RecordFailure(address string) bool {
	unlock := t.keys.Lock(address)
	defer unlock()

	count := 1
	if v, ok := t.failures.Load(address); ok {
		count = v.(int) + 1
	}
	t.failures.Store(address, count)

	if count >= t.maxAttempts {
		if _, alreadyLocked := t.locks.Load(address); !alreadyLocked {
			t.locks.Store(address, t.now())
			lockoutsTotal.Inc()
			t.logger.Warn("address locked out",
				"address", address,
				"failures", count,
				"duration", t.lockDuration,
			)
		}
		return true
	}
	return false
}

// Failures returns the current failure count for an address.
func (t *Tracker) Failures(address string) int {
	if v, ok := t.failures.Load(address); ok {
		return v.(int)
	}
	return 0
}

// IsLocked reports whether the address is currently locked. An expired
// lockout record is evicted on the way out.
func (t *Tracker) IsLocked(address string) bool {
	v, ok := t.locks.Load(address)
	if !ok {
		return false
	}
	lockedAt := v.(time.Time)
	if t.now().Before(lockedAt.Add(t.lockDuration)) {
		return true
	}

	// Expired: evict the record and the stale counter under the key lock.
	unlock := t.keys.Lock(address)
	defer unlock()
	t.locks.Delete(address)
	t.failures.Delete(address)
	return false
}

// ResetCounters clears every failure counter. Lockout records are untouched.
// This is the coarse periodic reset documented by the production policy: an
// address that has failed but not yet locked starts over.
func (t *Tracker) ResetCounters() {
	t.failures.Range(func(key, _ any) bool {
		address := key.(string)
		unlock := t.keys.Lock(address)
		t.failures.Delete(address)
		unlock()
		return true
	})
}

// Sweep also evicts expired lockout records in addition to resetting
// counters, so long-idle addresses do not pin memory.
func (t *Tracker) Sweep() {
	if !t.sweeping.CompareAndSwap(false, true) {
		return // previous sweep still running
	}
	defer t.sweeping.Store(false)

	t.ResetCounters()
	t.locks.Range(func(key, value any) bool {
		if !t.now().Before(value.(time.Time).Add(t.lockDuration)) {
			t.locks.Delete(key)
		}
		return true
	})
}

// Start runs the sweep loop until the context is cancelled or Stop is called.
// Call in a goroutine.
func (t *Tracker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}

// Stop signals the sweep loop to stop.
func (t *Tracker) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}
