package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
)

func TestNotificationRepository_RecipientsAreUnique(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := t.Context()

	n := createTestNotification(t, db, 3, 1, 3, 2, 1)

	recipients, err := repo.ListRecipients(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, recipients, 3)
	assert.Equal(t, uint(1), recipients[0].UserID)
	assert.Equal(t, uint(3), recipients[2].UserID)

	// A duplicate insert through the unique index is rejected at the database.
	dup := entities.NotificationRecipient{NotificationID: n.ID, UserID: 1}
	require.Error(t, db.Create(&dup).Error)
}

func TestNotificationRepository_CreateWithoutRecipients(t *testing.T) {
	db := setupTestDB(t)
	n := createTestNotification(t, db)
	assert.NotZero(t, n.ID)

	got, err := NewNotificationRepository(db).Get(t.Context(), n.ID)
	require.NoError(t, err)
	assert.Equal(t, "title", got.Title)
	assert.Equal(t, entities.PriorityNormal, got.Priority)
}

func TestNotificationRepository_InboxLifecycle(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := t.Context()

	first := createTestNotification(t, db, 7)
	second := createTestNotification(t, db, 7, 8)

	items, total, err := repo.ListForUser(ctx, 7, InboxFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, items, 2)
	assert.Equal(t, second.ID, items[0].Notification.ID, "newest first")

	readAt := testNow
	require.NoError(t, repo.MarkRead(ctx, first.ID, 7, readAt))
	// Second mark keeps the first timestamp.
	require.NoError(t, repo.MarkRead(ctx, first.ID, 7, readAt.Add(time.Hour)))

	unread, total, err := repo.ListForUser(ctx, 7, InboxFilter{UnreadOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, second.ID, unread[0].Notification.ID)

	require.NoError(t, repo.MarkDismissed(ctx, second.ID, 7, testNow))
	visible, _, err := repo.ListForUser(ctx, 7, InboxFilter{})
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.True(t, visible[0].Recipient.IsRead)
	require.NotNil(t, visible[0].Recipient.ReadDate)
	assert.True(t, readAt.Equal(*visible[0].Recipient.ReadDate))

	require.NoError(t, repo.MarkActioned(ctx, first.ID, 7, testNow))
	stats, err := repo.Stats(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, InboxStats{Total: 2, Unread: 1, Dismissed: 1, Actioned: 1}, *stats)

	require.ErrorIs(t, repo.MarkRead(ctx, first.ID, 99, testNow), ErrRecipientNotFound)
}

func TestNotificationRepository_Deactivate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewNotificationRepository(db)
	ctx := t.Context()

	n := createTestNotification(t, db, 1)
	require.NoError(t, repo.Deactivate(ctx, n.ID))
	require.NoError(t, repo.Deactivate(ctx, n.ID))

	items, _, err := repo.ListForUser(ctx, 1, InboxFilter{})
	require.NoError(t, err)
	assert.Empty(t, items, "inactive notifications leave the inbox")

	require.ErrorIs(t, repo.Deactivate(ctx, 4242), ErrNotificationNotFound)
}
