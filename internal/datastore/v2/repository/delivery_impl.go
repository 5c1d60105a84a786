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

type deliveryRepository struct {
	db *gorm.DB
}

// NewDeliveryRepository creates a new DeliveryRepository.
func NewDeliveryRepository(db *gorm.DB) DeliveryRepository {
	return &deliveryRepository{db: db}
}

func (r *deliveryRepository) CreatePending(ctx context.Context, d *entities.NotificationDelivery) (bool, error) {
	d.Status = entities.DeliveryPending
	d.RetryCount = 0
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "notification_id"}, {Name: "user_id"}, {Name: "channel_id"}},
		DoNothing: true,
	}).Create(d)
	if result.Error != nil {
		return false, fmt.Errorf("failed to create delivery: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	var existing entities.NotificationDelivery
	err := r.db.WithContext(ctx).
		Where("notification_id = ? AND user_id = ? AND channel_id = ?", d.NotificationID, d.UserID, d.ChannelID).
		First(&existing).Error
	if err != nil {
		return false, fmt.Errorf("failed to load existing delivery: %w", err)
	}
	*d = existing
	return false, nil
}

func (r *deliveryRepository) Get(ctx context.Context, id uint) (*entities.NotificationDelivery, error) {
	var d entities.NotificationDelivery
	if err := r.db.WithContext(ctx).First(&d, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("failed to get delivery %d: %w", id, err)
	}
	return &d, nil
}

func (r *deliveryRepository) ListByNotification(ctx context.Context, notificationID uint) ([]entities.NotificationDelivery, error) {
	var deliveries []entities.NotificationDelivery
	err := r.db.WithContext(ctx).Where("notification_id = ?", notificationID).Order("id ASC").Find(&deliveries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries for notification %d: %w", notificationID, err)
	}
	return deliveries, nil
}

func (r *deliveryRepository) FindByExternalID(ctx context.Context, externalID string) (*entities.NotificationDelivery, error) {
	if externalID == "" {
		return nil, ErrDeliveryNotFound
	}
	var d entities.NotificationDelivery
	if err := r.db.WithContext(ctx).Where("external_message_id = ?", externalID).First(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("failed to find delivery by external id: %w", err)
	}
	return &d, nil
}

func (r *deliveryRepository) Claim(ctx context.Context, id uint, now time.Time, lease time.Duration) (bool, error) {
	until := now.Add(lease)
	result := r.db.WithContext(ctx).Model(&entities.NotificationDelivery{}).
		Where("id = ? AND status = ?", id, entities.DeliveryPending).
		Where("claimed_until IS NULL OR claimed_until <= ?", now).
		Update("claimed_until", until)
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim delivery %d: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *deliveryRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]entities.NotificationDelivery, error) {
	var candidates []uint
	err := r.db.WithContext(ctx).Model(&entities.NotificationDelivery{}).
		Where("status = ? AND scheduled_for <= ?", entities.DeliveryPending, now).
		Where("next_retry_date IS NULL OR next_retry_date <= ?", now).
		Where("claimed_until IS NULL OR claimed_until <= ?", now).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &candidates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to select due deliveries: %w", err)
	}

	claimed := make([]uint, 0, len(candidates))
	for _, id := range candidates {
		ok, err := r.Claim(ctx, id, now, lease)
		if err != nil {
			return nil, err
		}
		if ok {
			claimed = append(claimed, id)
		}
	}
	if len(claimed) == 0 {
		return nil, nil
	}

	var deliveries []entities.NotificationDelivery
	if err := r.db.WithContext(ctx).Where("id IN ?", claimed).Order("id ASC").Find(&deliveries).Error; err != nil {
		return nil, fmt.Errorf("failed to load claimed deliveries: %w", err)
	}
	return deliveries, nil
}

func (r *deliveryRepository) Transition(ctx context.Context, id uint, from []entities.DeliveryStatus, updates map[string]any) error {
	result := r.db.WithContext(ctx).Model(&entities.NotificationDelivery{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to transition delivery %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrStaleTransition
	}
	return nil
}

func (r *deliveryRepository) CancelExpired(ctx context.Context, now time.Time) (int64, error) {
	expired := r.db.Model(&entities.Notification{}).
		Select("id").
		Where("expiry_date IS NOT NULL AND expiry_date <= ?", now)
	result := r.db.WithContext(ctx).Model(&entities.NotificationDelivery{}).
		Where("status = ? AND notification_id IN (?)", entities.DeliveryPending, expired).
		Updates(map[string]any{
			"status":        entities.DeliveryCancelled,
			"cancel_reason": entities.CancelReasonExpired,
			"claimed_until": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to cancel expired deliveries: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *deliveryRepository) CancelForNotification(ctx context.Context, notificationID uint, reason string) (int64, error) {
	result := r.db.WithContext(ctx).Model(&entities.NotificationDelivery{}).
		Where("notification_id = ? AND status = ?", notificationID, entities.DeliveryPending).
		Updates(map[string]any{
			"status":        entities.DeliveryCancelled,
			"cancel_reason": reason,
			"claimed_until": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to cancel deliveries for notification %d: %w", notificationID, result.Error)
	}
	return result.RowsAffected, nil
}

func (r *deliveryRepository) CountByStatus(ctx context.Context) (map[entities.DeliveryStatus]int64, error) {
	var rows []struct {
		Status entities.DeliveryStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).Model(&entities.NotificationDelivery{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count deliveries by status: %w", err)
	}
	counts := make(map[entities.DeliveryStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
