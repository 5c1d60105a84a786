package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
)

type channelRepository struct {
	db *gorm.DB
}

// NewChannelRepository creates a new ChannelRepository.
func NewChannelRepository(db *gorm.DB) ChannelRepository {
	return &channelRepository{db: db}
}

func (r *channelRepository) List(ctx context.Context) ([]entities.NotificationChannel, error) {
	var channels []entities.NotificationChannel
	if err := r.db.WithContext(ctx).Order("priority_rank ASC, id ASC").Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	return channels, nil
}

func (r *channelRepository) ListEnabled(ctx context.Context) ([]entities.NotificationChannel, error) {
	var channels []entities.NotificationChannel
	err := r.db.WithContext(ctx).Where("is_enabled = ?", true).Order("priority_rank ASC, id ASC").Find(&channels).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled channels: %w", err)
	}
	return channels, nil
}

func (r *channelRepository) Get(ctx context.Context, id uint) (*entities.NotificationChannel, error) {
	var ch entities.NotificationChannel
	if err := r.db.WithContext(ctx).First(&ch, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChannelNotFound
		}
		return nil, fmt.Errorf("failed to get channel %d: %w", id, err)
	}
	return &ch, nil
}

func (r *channelRepository) GetByName(ctx context.Context, name string) (*entities.NotificationChannel, error) {
	var ch entities.NotificationChannel
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&ch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChannelNotFound
		}
		return nil, fmt.Errorf("failed to get channel %q: %w", name, err)
	}
	return &ch, nil
}

func (r *channelRepository) Create(ctx context.Context, ch *entities.NotificationChannel) error {
	if err := r.db.WithContext(ctx).Create(ch).Error; err != nil {
		return fmt.Errorf("failed to create channel %q: %w", ch.Name, err)
	}
	return nil
}

func (r *channelRepository) SetEnabled(ctx context.Context, id uint, enabled bool) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	err := r.db.WithContext(ctx).Model(&entities.NotificationChannel{}).Where("id = ?", id).Update("is_enabled", enabled).Error
	if err != nil {
		return fmt.Errorf("failed to toggle channel %d: %w", id, err)
	}
	return nil
}

func (r *channelRepository) SaveDailyCount(ctx context.Context, id uint, count int) error {
	err := r.db.WithContext(ctx).Model(&entities.NotificationChannel{}).
		Where("id = ? AND daily_send_count < ?", id, count).
		Update("daily_send_count", count).Error
	if err != nil {
		return fmt.Errorf("failed to save daily count for channel %d: %w", id, err)
	}
	return nil
}

func (r *channelRepository) ResetDailyCounts(ctx context.Context, date time.Time) error {
	err := r.db.WithContext(ctx).Model(&entities.NotificationChannel{}).
		Where("last_reset_date IS NULL OR last_reset_date < ?", date).
		Updates(map[string]any{"daily_send_count": 0, "last_reset_date": date}).Error
	if err != nil {
		return fmt.Errorf("failed to reset daily counts: %w", err)
	}
	return nil
}

func (r *channelRepository) EnsureChannels(ctx context.Context, channels []entities.NotificationChannel) (int64, error) {
	if len(channels) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&channels)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to seed channels: %w", result.Error)
	}
	return result.RowsAffected, nil
}
