package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simon/crabdash/internal/session"
)

func TestHistoryRecordsTransitions(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, "p--a", working())
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = store.Upsert(ctx, "p--a", attention(session.ReasonPlanApproval))
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = store.Upsert(ctx, "p--b", working())
	require.NoError(t, err)

	history, err := store.ListHistory(ctx, "p--a", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, session.StatusNeedsAttention, history[0].Status)
	assert.Equal(t, session.ReasonPlanApproval, history[0].AttentionReason)
	assert.Equal(t, "Plan ready for approval", history[0].Event)
	assert.Equal(t, session.StatusWorking, history[1].Status)
	assert.Equal(t, session.ReasonNone, history[1].AttentionReason)
	assert.True(t, history[0].CreatedAt.After(history[1].CreatedAt))
	assert.NotEqual(t, history[0].ID, history[1].ID)
}

func TestHistoryLimit(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Upsert(ctx, "p--a", working())
		require.NoError(t, err)
		clock.Advance(time.Second)
		_, err = store.Upsert(ctx, "p--a", attention(session.ReasonInput))
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	history, err := store.ListHistory(ctx, "p--a", 3)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestHistorySurvivesDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, "p--a", working())
	require.NoError(t, err)
	_, err = store.Delete(ctx, "p--a")
	require.NoError(t, err)

	history, err := store.ListHistory(ctx, "p--a", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestPurgeHistory(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, "p--a", working())
	require.NoError(t, err)
	clock.Advance(8 * 24 * time.Hour)
	_, err = store.Upsert(ctx, "p--a", attention(session.ReasonInput))
	require.NoError(t, err)

	n, err := store.PurgeHistory(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	history, err := store.ListHistory(ctx, "p--a", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, session.StatusNeedsAttention, history[0].Status)
}
