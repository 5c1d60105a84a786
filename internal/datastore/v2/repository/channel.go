package repository

import (
	"context"
	"time"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
)

// ChannelRepository stores delivery channel configuration and the
// persisted side of the daily send counters.
type ChannelRepository interface {
	List(ctx context.Context) ([]entities.NotificationChannel, error)
	ListEnabled(ctx context.Context) ([]entities.NotificationChannel, error)
	Get(ctx context.Context, id uint) (*entities.NotificationChannel, error)
	GetByName(ctx context.Context, name string) (*entities.NotificationChannel, error)
	Create(ctx context.Context, ch *entities.NotificationChannel) error
	SetEnabled(ctx context.Context, id uint, enabled bool) error
	// SaveDailyCount raises the stored count to count. It never lowers it, so
	// out-of-order saves from concurrent senders cannot lose increments.
	SaveDailyCount(ctx context.Context, id uint, count int) error
	// ResetDailyCounts zeroes every counter last reset before date and stamps
	// LastResetDate. Rows already reset for date keep their count.
	ResetDailyCounts(ctx context.Context, date time.Time) error
	// EnsureChannels inserts every channel whose name is missing.
	EnsureChannels(ctx context.Context, channels []entities.NotificationChannel) (int64, error)
}
