package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog(opts ...Option) *Log {
	return NewLog(slog.Default(), opts...)
}

func TestAppend_AssignsIDAndSequence(t *testing.T) {
	log := testLog()

	first := log.Append(context.Background(), Event{Kind: KindLoginAttempt, Severity: SeverityLow})
	second := log.Append(context.Background(), Event{Kind: KindFailedLogin, Severity: SeverityMedium})

	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, int64(2), second.Seq)
	assert.False(t, first.Timestamp.IsZero())
}

func TestAppend_InsertionOrderPerSource(t *testing.T) {
	log := testLog()

	for i := 0; i < 5; i++ {
		log.Append(context.Background(), Event{
			Kind:          KindFailedLogin,
			Severity:      SeverityLow,
			SourceAddress: "203.0.113.7",
		})
	}

	events := log.BySource("203.0.113.7")
	require.Len(t, events, 5)
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq, "events must stay in append order")
	}
}

func TestAppend_TiedTimestampsStillOrdered(t *testing.T) {
	// Frozen clock: every event has the identical timestamp; sequence numbers
	// must still disambiguate order.
	frozen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	log := testLog(WithClock(func() time.Time { return frozen }))

	a := log.Append(context.Background(), Event{Kind: KindFraudAlert, Severity: SeverityCritical})
	b := log.Append(context.Background(), Event{Kind: KindFraudAlert, Severity: SeverityCritical})

	assert.Equal(t, a.Timestamp, b.Timestamp)
	assert.Less(t, a.Seq, b.Seq)
}

type failingStore struct {
	calls int
}

func (s *failingStore) Create(ctx context.Context, event *Event) error {
	s.calls++
	return errors.New("durable storage unavailable")
}
func (s *failingStore) MarkResolved(ctx context.Context, id string) error {
	return errors.New("durable storage unavailable")
}
func (s *failingStore) Recent(ctx context.Context, limit int) ([]*Event, error) {
	return nil, errors.New("durable storage unavailable")
}

func TestAppend_DurableWriteFailureKeepsEvent(t *testing.T) {
	store := &failingStore{}
	log := testLog(WithStore(store))

	e := log.Append(context.Background(), Event{Kind: KindFraudAlert, Severity: SeverityCritical})

	assert.Equal(t, 1, store.calls)
	// The event survives in the in-memory log despite the persistence failure.
	recent := log.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, e.ID, recent[0].ID)
}

func TestAppend_WriteThrough(t *testing.T) {
	store := NewMemoryStore()
	log := testLog(WithStore(store))

	log.Append(context.Background(), Event{Kind: KindAdminAccess, Severity: SeverityHigh})

	persisted, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, persisted, 1)
}

func TestResolve_OnlyOriginator(t *testing.T) {
	log := testLog()

	e := log.Append(context.Background(), Event{
		Kind:     KindFraudAlert,
		Severity: SeverityCritical,
		Origin:   "fraud",
	})

	err := log.Resolve(context.Background(), e.ID, "admin")
	assert.ErrorIs(t, err, ErrNotOriginator)

	err = log.Resolve(context.Background(), e.ID, "fraud")
	require.NoError(t, err)

	events := log.ByKind(KindFraudAlert)
	require.Len(t, events, 1)
	assert.True(t, events[0].Resolved)
}

func TestResolve_UnknownEvent(t *testing.T) {
	log := testLog()
	err := log.Resolve(context.Background(), "evt_missing", "fraud")
	assert.ErrorIs(t, err, ErrEventNotFound)
}

func TestRecent_NewestFirst(t *testing.T) {
	log := testLog()

	for i := 0; i < 10; i++ {
		log.Append(context.Background(), Event{Kind: KindLoginAttempt, Severity: SeverityLow})
	}

	recent := log.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, int64(10), recent[0].Seq)
	assert.Equal(t, int64(8), recent[2].Seq)
}

func TestQueries_ReturnCopies(t *testing.T) {
	log := testLog()
	log.Append(context.Background(), Event{Kind: KindDataBreach, Severity: SeverityCritical})

	events := log.BySeverity(SeverityCritical)
	require.Len(t, events, 1)
	events[0].Resolved = true

	// Mutating the returned slice must not touch the log's own record.
	again := log.BySeverity(SeverityCritical)
	assert.False(t, again[0].Resolved)
}

type countingSubscriber struct {
	mu   sync.Mutex
	seen []string
}

func (s *countingSubscriber) NotifyEvent(event *Event) {
	s.mu.Lock()
	s.seen = append(s.seen, event.ID)
	s.mu.Unlock()
}

func TestSubscribe_NotifiedOnAppend(t *testing.T) {
	log := testLog()
	sub := &countingSubscriber{}
	log.Subscribe(sub)

	a := log.Append(context.Background(), Event{Kind: KindFraudAlert, Severity: SeverityMedium})
	b := log.Append(context.Background(), Event{Kind: KindFraudAlert, Severity: SeverityMedium})

	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.Equal(t, []string{a.ID, b.ID}, sub.seen)
}

func TestConcurrentAppends_NoLostEvents(t *testing.T) {
	log := testLog()

	var wg sync.WaitGroup
	const workers = 8
	const perWorker = 50
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				log.Append(context.Background(), Event{Kind: KindLoginAttempt, Severity: SeverityLow})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, workers*perWorker, log.Len())
}
