package fraud

import (
	"context"
	"testing"
	"time"

	"github.com/jmallory/storeguard/internal/orders"
)

func TestSnapshot_CountsTodayOrders(t *testing.T) {
	store := orders.NewMemoryStore()
	now := time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		store.Add(&orders.Order{ID: "o", UserID: "u1", CreatedAt: now.Add(-time.Duration(i) * time.Hour)})
	}
	// Yesterday's order does not count.
	store.Add(&orders.Order{ID: "old", UserID: "u1", CreatedAt: now.AddDate(0, 0, -1)})
	// Another user's order does not count.
	store.Add(&orders.Order{ID: "other", UserID: "u2", CreatedAt: now})

	src := NewSource(store).WithClock(func() time.Time { return now })
	sig := src.Snapshot(context.Background(), "u1", 50, nil)

	if sig.DailyActionCount != 4 {
		t.Errorf("daily action count = %d, want 4", sig.DailyActionCount)
	}
	if sig.Amount != 50 {
		t.Errorf("amount = %f", sig.Amount)
	}
}

func TestSnapshot_WindowedCounters(t *testing.T) {
	now := time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC)
	clock := now
	src := NewSource(nil).WithClock(func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		src.RecordOrderChange("u1")
		src.RecordPaymentFailure("u1")
	}

	sig := src.Snapshot(context.Background(), "u1", 0, nil)
	if sig.RecentChangeCount != 3 {
		t.Errorf("change count = %d, want 3", sig.RecentChangeCount)
	}
	if sig.RecentPaymentFailureCount != 3 {
		t.Errorf("failure count = %d, want 3", sig.RecentPaymentFailureCount)
	}

	// Past the edit window but inside the failure window.
	clock = now.Add(30 * time.Minute)
	sig = src.Snapshot(context.Background(), "u1", 0, nil)
	if sig.RecentChangeCount != 0 {
		t.Errorf("change count after window = %d, want 0", sig.RecentChangeCount)
	}
	if sig.RecentPaymentFailureCount != 3 {
		t.Errorf("failure count inside window = %d, want 3", sig.RecentPaymentFailureCount)
	}

	// Past both windows.
	clock = now.Add(2 * time.Hour)
	sig = src.Snapshot(context.Background(), "u1", 0, nil)
	if sig.RecentPaymentFailureCount != 0 {
		t.Errorf("failure count after window = %d, want 0", sig.RecentPaymentFailureCount)
	}
}

func TestSnapshot_PriorLocations(t *testing.T) {
	src := NewSource(nil)

	src.RecordLocation("u1", Location{Lat: 51.51, Lon: -0.13})
	src.RecordLocation("u1", Location{Lat: 48.86, Lon: 2.35})

	sig := src.Snapshot(context.Background(), "u1", 0, &Location{Lat: 55.76, Lon: 37.62})
	if len(sig.PriorLocations) != 2 {
		t.Fatalf("prior locations = %d, want 2", len(sig.PriorLocations))
	}
	// Most recent prior location is last.
	if sig.PriorLocations[1].Lat != 48.86 {
		t.Errorf("most recent prior = %+v", sig.PriorLocations[1])
	}
}

func TestSnapshot_IsolatedActors(t *testing.T) {
	src := NewSource(nil)
	src.RecordPaymentFailure("u1")

	sig := src.Snapshot(context.Background(), "u2", 0, nil)
	if sig.RecentPaymentFailureCount != 0 {
		t.Errorf("u2 should have no failures, got %d", sig.RecentPaymentFailureCount)
	}
}
