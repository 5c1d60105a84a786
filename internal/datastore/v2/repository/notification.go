package repository

import (
	"context"
	"time"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
)

// NotificationRepository stores notifications and their recipients.
type NotificationRepository interface {
	// CreateWithRecipients inserts the notification and one recipient row
	// per distinct user in a single transaction. Duplicate (notification,
	// user) pairs are ignored.
	CreateWithRecipients(ctx context.Context, n *entities.Notification, userIDs []uint) error
	Get(ctx context.Context, id uint) (*entities.Notification, error)
	ListRecipients(ctx context.Context, notificationID uint) ([]entities.NotificationRecipient, error)
	ListForUser(ctx context.Context, userID uint, filter InboxFilter) ([]InboxItem, int64, error)

	// The Mark operations are idempotent. They fail only when the user is
	// not a recipient of the notification.
	MarkRead(ctx context.Context, notificationID, userID uint, at time.Time) error
	MarkDismissed(ctx context.Context, notificationID, userID uint, at time.Time) error
	MarkActioned(ctx context.Context, notificationID, userID uint, at time.Time) error

	Stats(ctx context.Context, userID uint) (*InboxStats, error)
	Deactivate(ctx context.Context, id uint) error
}

// InboxFilter controls per-user notification listing.
type InboxFilter struct {
	UnreadOnly       bool
	IncludeDismissed bool
	Limit            int
	Offset           int
}

// InboxItem pairs a notification with the user's recipient state.
type InboxItem struct {
	Notification entities.Notification          `json:"notification"`
	Recipient    entities.NotificationRecipient `json:"recipient"`
}

// InboxStats summarizes a user's inbox.
type InboxStats struct {
	Total     int64 `json:"total"`
	Unread    int64 `json:"unread"`
	Dismissed int64 `json:"dismissed"`
	Actioned  int64 `json:"actioned"`
}
