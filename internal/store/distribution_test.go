package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbedge/opportunity-engine/internal/market"
	"github.com/arbedge/opportunity-engine/internal/store"
	"github.com/arbedge/opportunity-engine/internal/store/testhelpers"
)

func TestDistributionRepoInsertAndGet(t *testing.T) {
	ts := testhelpers.SetupTestStore(t)
	repo := store.NewDistributionRepo(ts.DB)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	rec := market.DistributionRecord{
		UserID:        "user-1",
		OpportunityID: "opp-1",
		Channel:       "telegram",
		State:         market.StateEnqueued,
		EnqueuedAt:    now,
	}

	require.NoError(t, repo.Insert(ctx, rec, now.Add(time.Hour)))

	got, err := repo.Get(ctx, "user-1", "opp-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.Channel, got.Channel)
	assert.Equal(t, market.StateEnqueued, got.State)
	assert.Nil(t, got.DeliveredAt)
}

func TestDistributionRepoInsertConflict(t *testing.T) {
	ts := testhelpers.SetupTestStore(t)
	repo := store.NewDistributionRepo(ts.DB)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := market.DistributionRecord{
		UserID:        "user-2",
		OpportunityID: "opp-2",
		Channel:       "fcm",
		State:         market.StatePending,
		EnqueuedAt:    now,
	}

	require.NoError(t, repo.Insert(ctx, rec, now.Add(time.Hour)))
	err := repo.Insert(ctx, rec, now.Add(time.Hour))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrAlreadyRecorded)
}

func TestDistributionRepoUpdateState(t *testing.T) {
	ts := testhelpers.SetupTestStore(t)
	repo := store.NewDistributionRepo(ts.DB)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := market.DistributionRecord{
		UserID:        "user-3",
		OpportunityID: "opp-3",
		Channel:       "telegram",
		State:         market.StateEnqueued,
		EnqueuedAt:    now,
	}
	require.NoError(t, repo.Insert(ctx, rec, now.Add(time.Hour)))

	delivered := now.Add(time.Second)
	require.NoError(t, repo.UpdateState(ctx, "user-3", "opp-3", market.StateDelivered, &delivered))

	got, err := repo.Get(ctx, "user-3", "opp-3")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, market.StateDelivered, got.State)
	require.NotNil(t, got.DeliveredAt)
}

func TestDistributionRepoUpdateStateMissing(t *testing.T) {
	ts := testhelpers.SetupTestStore(t)
	repo := store.NewDistributionRepo(ts.DB)
	ctx := context.Background()

	err := repo.UpdateState(ctx, "nobody", "nothing", market.StateDelivered, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, market.ErrContractViolation)
}

func TestDistributionRepoGetMissingReturnsNil(t *testing.T) {
	ts := testhelpers.SetupTestStore(t)
	repo := store.NewDistributionRepo(ts.DB)
	ctx := context.Background()

	got, err := repo.Get(ctx, "ghost", "ghost")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDistributionRepoListExpiredPending(t *testing.T) {
	ts := testhelpers.SetupTestStore(t)
	repo := store.NewDistributionRepo(ts.DB)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	overdue := market.DistributionRecord{
		UserID: "user-5", OpportunityID: "opp-overdue", Channel: "telegram",
		State: market.StatePending, EnqueuedAt: now.Add(-time.Minute), ExpiresAt: now.Add(-time.Second),
	}
	stillLive := market.DistributionRecord{
		UserID: "user-5", OpportunityID: "opp-live", Channel: "telegram",
		State: market.StatePending, EnqueuedAt: now, ExpiresAt: now.Add(time.Minute),
	}
	delivered := market.DistributionRecord{
		UserID: "user-5", OpportunityID: "opp-delivered", Channel: "telegram",
		State: market.StateDelivered, EnqueuedAt: now.Add(-time.Minute), ExpiresAt: now.Add(-time.Second),
	}
	require.NoError(t, repo.Insert(ctx, overdue, now.Add(time.Hour)))
	require.NoError(t, repo.Insert(ctx, stillLive, now.Add(time.Hour)))
	require.NoError(t, repo.Insert(ctx, delivered, now.Add(time.Hour)))

	got, err := repo.ListExpiredPending(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "opp-overdue", got[0].OpportunityID)
}

func TestDistributionRepoPruneExpired(t *testing.T) {
	ts := testhelpers.SetupTestStore(t)
	repo := store.NewDistributionRepo(ts.DB)
	ctx := context.Background()
	now := time.Now().UTC()

	expired := market.DistributionRecord{
		UserID: "user-4", OpportunityID: "opp-expired", Channel: "telegram",
		State: market.StateDelivered, EnqueuedAt: now.Add(-2 * time.Hour),
	}
	fresh := market.DistributionRecord{
		UserID: "user-4", OpportunityID: "opp-fresh", Channel: "telegram",
		State: market.StateEnqueued, EnqueuedAt: now,
	}
	require.NoError(t, repo.Insert(ctx, expired, now.Add(-time.Hour)))
	require.NoError(t, repo.Insert(ctx, fresh, now.Add(time.Hour)))

	n, err := repo.PruneExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := repo.Get(ctx, "user-4", "opp-expired")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = repo.Get(ctx, "user-4", "opp-fresh")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
