package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
)

func TestChannelRepository_SaveDailyCountIsMonotonic(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChannelRepository(db)
	ctx := t.Context()

	ch := createTestChannel(t, db, "email", entities.ChannelEmail)

	require.NoError(t, repo.SaveDailyCount(ctx, ch.ID, 5))
	require.NoError(t, repo.SaveDailyCount(ctx, ch.ID, 3)) // late writer with a stale value

	got, err := repo.Get(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.DailySendCount)

	require.NoError(t, repo.ResetDailyCounts(ctx, testNow))
	got, err = repo.Get(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.DailySendCount)
	require.NotNil(t, got.LastResetDate)
	assert.True(t, testNow.Equal(*got.LastResetDate))

	require.NoError(t, repo.SaveDailyCount(ctx, ch.ID, 3))
	require.NoError(t, repo.ResetDailyCounts(ctx, testNow))
	got, err = repo.Get(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.DailySendCount, "same-day reset is a no-op")
}

func TestChannelRepository_EnableAndList(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChannelRepository(db)
	ctx := t.Context()

	email := createTestChannel(t, db, "email", entities.ChannelEmail)
	createTestChannel(t, db, "in_app", entities.ChannelInApp)

	require.NoError(t, repo.SetEnabled(ctx, email.ID, false))
	enabled, err := repo.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "in_app", enabled[0].Name)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.ErrorIs(t, repo.SetEnabled(ctx, 999, true), ErrChannelNotFound)

	byName, err := repo.GetByName(ctx, "email")
	require.NoError(t, err)
	assert.False(t, byName.IsEnabled)
}

func TestChannelRepository_EnsureChannels(t *testing.T) {
	db := setupTestDB(t)
	repo := NewChannelRepository(db)
	ctx := t.Context()

	seed := func() []entities.NotificationChannel {
		return []entities.NotificationChannel{
			{Name: "email", Type: entities.ChannelEmail, MaxRetries: 3, RetryDelayMinutes: 5},
			{Name: "in_app", Type: entities.ChannelInApp, IsEnabled: true},
		}
	}
	_, err := repo.EnsureChannels(ctx, seed())
	require.NoError(t, err)

	// Operator changes survive a re-seed.
	email, err := repo.GetByName(ctx, "email")
	require.NoError(t, err)
	require.NoError(t, repo.SetEnabled(ctx, email.ID, true))
	_, err = repo.EnsureChannels(ctx, seed())
	require.NoError(t, err)

	email, err = repo.GetByName(ctx, "email")
	require.NoError(t, err)
	assert.True(t, email.IsEnabled)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
