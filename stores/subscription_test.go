package stores

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/applyflow/applyflow/models"
)

func TestSubscriptionStore_CreateAndGet(t *testing.T) {
	store := CreateSubscriptionStore(setupTestDB(t))
	ctx := context.Background()

	sub := newTestSubscription("tenant-a", "application.created")
	require.NoError(t, store.Create(ctx, sub))

	got, err := store.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.URL, got.URL)
	assert.Equal(t, models.StringList{"application.created"}, got.EventTypes)
	assert.Equal(t, models.SubscriptionStatusActive, got.Status)
}

func TestSubscriptionStore_GetByIDAndTenant_WrongTenant(t *testing.T) {
	store := CreateSubscriptionStore(setupTestDB(t))
	ctx := context.Background()

	sub := newTestSubscription("tenant-a", "application.created")
	require.NoError(t, store.Create(ctx, sub))

	_, err := store.GetByIDAndTenant(ctx, "tenant-b", sub.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestSubscriptionStore_Delete(t *testing.T) {
	store := CreateSubscriptionStore(setupTestDB(t))
	ctx := context.Background()

	sub := newTestSubscription("tenant-a", "application.created")
	require.NoError(t, store.Create(ctx, sub))

	require.NoError(t, store.Delete(ctx, "tenant-a", sub.ID))

	_, err := store.GetByID(ctx, sub.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	err = store.Delete(ctx, "tenant-a", sub.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestSubscriptionStore_ListByTenant(t *testing.T) {
	store := CreateSubscriptionStore(setupTestDB(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Create(ctx, newTestSubscription("tenant-a", "*")))
	}
	require.NoError(t, store.Create(ctx, newTestSubscription("tenant-b", "*")))

	subs, err := store.ListByTenant(ctx, "tenant-a", 0, 0)
	require.NoError(t, err)
	assert.Len(t, subs, 3)

	subs, err = store.ListByTenant(ctx, "tenant-a", 2, 0)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestSubscriptionStore_FindActiveMatching(t *testing.T) {
	store := CreateSubscriptionStore(setupTestDB(t))
	ctx := context.Background()

	exact := newTestSubscription("tenant-a", "application.created")
	wildcard := newTestSubscription("tenant-a", "*")
	other := newTestSubscription("tenant-a", "interview.scheduled")
	disabled := newTestSubscription("tenant-a", "application.created")
	disabled.Enabled = false
	suspended := newTestSubscription("tenant-a", "application.created")
	suspended.Status = models.SubscriptionStatusSuspended
	foreign := newTestSubscription("tenant-b", "application.created")

	for _, sub := range []*models.Subscription{exact, wildcard, other, disabled, suspended, foreign} {
		require.NoError(t, store.Create(ctx, sub))
	}

	matched, err := store.FindActiveMatching(ctx, "tenant-a", "application.created")
	require.NoError(t, err)

	ids := make([]string, 0, len(matched))
	for _, sub := range matched {
		ids = append(ids, sub.ID)
	}
	assert.ElementsMatch(t, []string{exact.ID, wildcard.ID}, ids)
}

func TestSubscriptionStore_UpdateSettings_PreservesHealthCounters(t *testing.T) {
	store := CreateSubscriptionStore(setupTestDB(t))
	ctx := context.Background()

	sub := newTestSubscription("tenant-a", "application.created")
	require.NoError(t, store.Create(ctx, sub))

	// Stale read, then a delivery failure lands before the settings write.
	stale, err := store.GetByID(ctx, sub.ID)
	require.NoError(t, err)

	_, err = store.RecordFailure(ctx, sub.ID, "connection refused")
	require.NoError(t, err)

	stale.URL = "https://example.com/hooks/v2"
	require.NoError(t, store.UpdateSettings(ctx, stale, false))

	got, err := store.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/hooks/v2", got.URL)
	assert.Equal(t, 1, got.FailureCount)
	assert.Equal(t, "connection refused", got.LastError)
}

func TestSubscriptionStore_UpdateSettings_Reactivate(t *testing.T) {
	store := CreateSubscriptionStore(setupTestDB(t))
	ctx := context.Background()

	sub := newTestSubscription("tenant-a", "*")
	sub.Status = models.SubscriptionStatusSuspended
	sub.FailureCount = models.SuspensionThreshold
	sub.LastError = "connection refused"
	require.NoError(t, store.Create(ctx, sub))

	sub.Enabled = true
	require.NoError(t, store.UpdateSettings(ctx, sub, true))

	got, err := store.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, got.Status)
	assert.Equal(t, 0, got.FailureCount)
	assert.Empty(t, got.LastError)
}

func TestSubscriptionStore_RecordFailure_SuspendsAtThreshold(t *testing.T) {
	store := CreateSubscriptionStore(setupTestDB(t))
	ctx := context.Background()

	sub := newTestSubscription("tenant-a", "*")
	require.NoError(t, store.Create(ctx, sub))

	for i := 1; i < models.SuspensionThreshold; i++ {
		suspended, err := store.RecordFailure(ctx, sub.ID, "connection refused")
		require.NoError(t, err)
		assert.False(t, suspended, "failure %d must not suspend", i)
	}

	suspended, err := store.RecordFailure(ctx, sub.ID, "connection refused")
	require.NoError(t, err)
	assert.True(t, suspended)

	got, err := store.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusSuspended, got.Status)
	assert.Equal(t, models.SuspensionThreshold, got.FailureCount)
	assert.Equal(t, "connection refused", got.LastError)
	assert.NotNil(t, got.LastFailureAt)
	assert.False(t, got.Deliverable())
}

func TestSubscriptionStore_RecordSuccess_ResetsCounter(t *testing.T) {
	store := CreateSubscriptionStore(setupTestDB(t))
	ctx := context.Background()

	sub := newTestSubscription("tenant-a", "*")
	require.NoError(t, store.Create(ctx, sub))

	_, err := store.RecordFailure(ctx, sub.ID, "timeout")
	require.NoError(t, err)
	_, err = store.RecordFailure(ctx, sub.ID, "timeout")
	require.NoError(t, err)

	require.NoError(t, store.RecordSuccess(ctx, sub.ID))

	got, err := store.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.FailureCount)
	assert.Empty(t, got.LastError)
	assert.NotNil(t, got.LastSuccessAt)
	assert.Equal(t, models.SubscriptionStatusActive, got.Status)
}
