package repository

import (
	"context"
	"time"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
)

// DeliveryRepository stores per-target delivery rows. Every status change
// goes through Transition so a row never leaves a state it is no longer in.
type DeliveryRepository interface {
	// CreatePending inserts d unless a row for the same (notification, user,
	// channel) exists, in which case d is overwritten with the stored row and
	// created is false.
	CreatePending(ctx context.Context, d *entities.NotificationDelivery) (created bool, err error)
	Get(ctx context.Context, id uint) (*entities.NotificationDelivery, error)
	ListByNotification(ctx context.Context, notificationID uint) ([]entities.NotificationDelivery, error)
	FindByExternalID(ctx context.Context, externalID string) (*entities.NotificationDelivery, error)

	// Claim leases one pending row until now+lease. It returns false when the
	// row is not pending or another worker holds an unexpired lease.
	Claim(ctx context.Context, id uint, now time.Time, lease time.Duration) (bool, error)
	// ClaimDue leases up to limit pending rows whose send time has passed.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]entities.NotificationDelivery, error)
	// Transition applies updates only when the row's status is one of from.
	// It returns ErrStaleTransition otherwise.
	Transition(ctx context.Context, id uint, from []entities.DeliveryStatus, updates map[string]any) error

	// CancelExpired cancels pending rows whose notification expired by now.
	CancelExpired(ctx context.Context, now time.Time) (int64, error)
	// CancelForNotification cancels every pending row of one notification.
	CancelForNotification(ctx context.Context, notificationID uint, reason string) (int64, error)
	CountByStatus(ctx context.Context) (map[entities.DeliveryStatus]int64, error)
}
