package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmallory/storeguard/internal/testutil"
)

func TestPostgresStore_CreateAndRecent(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	events := []*Event{
		{
			ID:            "evt_pgtest00001",
			Seq:           1,
			Kind:          KindFailedLogin,
			Severity:      SeverityMedium,
			ActorID:       "user-1",
			SourceAddress: "203.0.113.50",
			Details:       map[string]any{"success": false},
			Origin:        "auth",
			Timestamp:     time.Now().UTC(),
		},
		{
			ID:        "evt_pgtest00002",
			Seq:       2,
			Kind:      KindFraudAlert,
			Severity:  SeverityCritical,
			ActorID:   "user-2",
			Details:   map[string]any{"riskScore": 95},
			Origin:    "fraud",
			Timestamp: time.Now().UTC(),
		},
	}
	for _, e := range events {
		require.NoError(t, store.Create(ctx, e))
	}

	recent, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)

	// Newest first by sequence.
	assert.Equal(t, "evt_pgtest00002", recent[0].ID)
	assert.Equal(t, KindFraudAlert, recent[0].Kind)
	assert.Equal(t, SeverityCritical, recent[0].Severity)
	assert.EqualValues(t, 95, recent[0].Details["riskScore"])
	assert.Empty(t, recent[0].SourceAddress)

	assert.Equal(t, "evt_pgtest00001", recent[1].ID)
	assert.Equal(t, "203.0.113.50", recent[1].SourceAddress)
	assert.False(t, recent[1].Resolved)
}

func TestPostgresStore_Recent_RespectsLimit(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, store.Create(ctx, &Event{
			ID:        "evt_pgtestlim0" + string(rune('0'+i)),
			Seq:       i,
			Kind:      KindLoginAttempt,
			Severity:  SeverityLow,
			Timestamp: time.Now().UTC(),
		}))
	}

	recent, err := store.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
	assert.EqualValues(t, 5, recent[0].Seq)
}

func TestPostgresStore_MarkResolved(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &Event{
		ID:        "evt_pgtestres01",
		Seq:       1,
		Kind:      KindAdminAccess,
		Severity:  SeverityHigh,
		Origin:    "admin",
		Timestamp: time.Now().UTC(),
	}))

	require.NoError(t, store.MarkResolved(ctx, "evt_pgtestres01"))

	recent, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].Resolved)

	assert.ErrorIs(t, store.MarkResolved(ctx, "evt_missing0001"), ErrEventNotFound)
}
