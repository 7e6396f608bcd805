package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmallory/storeguard/internal/testutil"
)

func TestPostgresStore_CreateGetUpdate(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	intent := &Intent{
		ID:          "tr_pgtest000001",
		Amount:      250.50,
		Memo:        "Earnings payout 2026-09-01",
		ScheduledAt: time.Now().UTC().Truncate(time.Microsecond),
		Status:      StatusPending,
	}
	require.NoError(t, store.Create(ctx, intent))

	got, err := store.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.InDelta(t, 250.50, got.Amount, 0.001)
	assert.Equal(t, StatusPending, got.Status)
	assert.Empty(t, got.FailureReason)
	assert.Empty(t, got.ExternalTxID)

	intent.Status = StatusCompleted
	intent.ExternalTxID = "po_ext123"
	require.NoError(t, store.Update(ctx, intent))

	got, err = store.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "po_ext123", got.ExternalTxID)
}

func TestPostgresStore_FailedIntentKeepsReason(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	intent := &Intent{
		ID:          "tr_pgtest000002",
		Amount:      500,
		ScheduledAt: time.Now().UTC(),
		Status:      StatusPending,
	}
	require.NoError(t, store.Create(ctx, intent))

	intent.Status = StatusFailed
	intent.FailureReason = "payment rail unavailable"
	require.NoError(t, store.Update(ctx, intent))

	got, err := store.Get(ctx, intent.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "payment rail unavailable", got.FailureReason)
}

func TestPostgresStore_GetMissing(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	_, err := store.Get(context.Background(), "tr_missing00001")
	assert.ErrorIs(t, err, ErrIntentNotFound)

	assert.ErrorIs(t, store.Update(context.Background(), &Intent{ID: "tr_missing00001"}), ErrIntentNotFound)
}

func TestPostgresStore_ListRecent(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 4; i++ {
		require.NoError(t, store.Create(ctx, &Intent{
			ID:          "tr_pgtestlist0" + string(rune('0'+i)),
			Amount:      float64(100 * (i + 1)),
			ScheduledAt: base.Add(time.Duration(i) * time.Minute),
			Status:      StatusPending,
		}))
	}

	intents, err := store.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, intents, 2)

	// Newest scheduled first.
	assert.Equal(t, "tr_pgtestlist03", intents[0].ID)
	assert.Equal(t, "tr_pgtestlist02", intents[1].ID)
}
