package repository

import (
	"context"
	"time"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
)

// DigestRepository queues notifications for periodic digest delivery.
type DigestRepository interface {
	// Enqueue ignores an entry already queued for the same user, channel
	// and notification.
	Enqueue(ctx context.Context, entry *entities.DigestEntry) error
	// ListDue returns unflushed entries due by now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]entities.DigestEntry, error)
	// MarkFlushed stamps still-unflushed entries and links the digest notification.
	MarkFlushed(ctx context.Context, ids []uint, at time.Time, digestNotificationID uint) (int64, error)
	// MarkFailed retires still-unflushed entries without a digest notification.
	MarkFailed(ctx context.Context, ids []uint, at time.Time, reason string) (int64, error)
	// RecordAttempt counts a failed flush against still-unflushed entries.
	RecordAttempt(ctx context.Context, ids []uint, reason string) error
}
