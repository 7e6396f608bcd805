package fraud

import (
	"context"
	"sync"
	"time"

	"github.com/jmallory/storeguard/internal/orders"
)

const (
	maxWindowSize     = 1000
	changeWindow      = 15 * time.Minute
	failureWindow     = time.Hour
	maxPriorLocations = 10
)

// Source assembles a signal bundle for an actor: order volume comes from the
// storefront's order storage, while order edits, payment failures, and
// locations are tracked in in-memory sliding windows fed by Record* calls.
type Source struct {
	orders  orders.Store
	windows sync.Map // actorID → *actorWindow
	now     func() time.Time
}

type actorWindow struct {
	mu        sync.Mutex
	changes   []time.Time // order edits
	failures  []time.Time // payment failures
	locations []Location  // oldest first
}

// NewSource creates a signal source over the given order storage.
func NewSource(store orders.Store) *Source {
	return &Source{orders: store, now: time.Now}
}

// WithClock overrides the time source for tests.
func (s *Source) WithClock(now func() time.Time) *Source {
	s.now = now
	return s
}

// RecordOrderChange notes an edit to one of the actor's orders.
func (s *Source) RecordOrderChange(actorID string) {
	w := s.window(actorID)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.changes = append(w.changes, s.now())
	w.changes = pruneTimes(w.changes, s.now().Add(-changeWindow))
}

// RecordPaymentFailure notes a failed payment attempt by the actor.
func (s *Source) RecordPaymentFailure(actorID string) {
	w := s.window(actorID)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures = append(w.failures, s.now())
	w.failures = pruneTimes(w.failures, s.now().Add(-failureWindow))
}

// RecordLocation notes a coarse geo position observed for the actor.
func (s *Source) RecordLocation(actorID string, loc Location) {
	w := s.window(actorID)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.locations = append(w.locations, loc)
	if len(w.locations) > maxPriorLocations {
		w.locations = w.locations[len(w.locations)-maxPriorLocations:]
	}
}

// Snapshot builds the signal bundle for an assessment. Transaction amount and
// current location come from the caller; the rest is sourced here. Any signal
// that cannot be sourced is simply left absent.
func (s *Source) Snapshot(ctx context.Context, actorID string, amount float64, current *Location) Signals {
	sig := Signals{
		Amount:          amount,
		CurrentLocation: current,
	}

	w := s.window(actorID)
	w.mu.Lock()
	sig.RecentChangeCount = len(pruneTimes(w.changes, s.now().Add(-changeWindow)))
	sig.RecentPaymentFailureCount = len(pruneTimes(w.failures, s.now().Add(-failureWindow)))
	if len(w.locations) > 0 {
		sig.PriorLocations = append([]Location(nil), w.locations...)
	}
	w.mu.Unlock()

	if s.orders != nil {
		if history, err := s.orders.OrdersByUser(ctx, actorID); err == nil {
			sig.DailyActionCount = countToday(history, s.now())
		}
	}
	return sig
}

func (s *Source) window(actorID string) *actorWindow {
	v, _ := s.windows.LoadOrStore(actorID, &actorWindow{})
	return v.(*actorWindow)
}

// pruneTimes drops entries before the cutoff and caps the slice size.
func pruneTimes(ts []time.Time, cutoff time.Time) []time.Time {
	start := 0
	for start < len(ts) && ts[start].Before(cutoff) {
		start++
	}
	ts = ts[start:]
	if len(ts) > maxWindowSize {
		ts = ts[len(ts)-maxWindowSize:]
	}
	return ts
}

// countToday counts orders created on the same calendar day as now.
func countToday(history []*orders.Order, now time.Time) int {
	y, m, d := now.Date()
	count := 0
	for _, o := range history {
		oy, om, od := o.CreatedAt.Date()
		if oy == y && om == m && od == d {
			count++
		}
	}
	return count
}
