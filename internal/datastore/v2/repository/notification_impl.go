package repository

import (
	"context"
	"fmt"
	"slices"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
)

type notificationRepository struct {
	db *gorm.DB
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) CreateWithRecipients(ctx context.Context, n *entities.Notification, userIDs []uint) error {
	ids := slices.Clone(userIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(n).Error; err != nil {
			return fmt.Errorf("failed to create notification: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		recipients := make([]entities.NotificationRecipient, 0, len(ids))
		for _, uid := range ids {
			recipients = append(recipients, entities.NotificationRecipient{NotificationID: n.ID, UserID: uid})
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "notification_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).Create(&recipients).Error
		if err != nil {
			return fmt.Errorf("failed to create recipients for notification %d: %w", n.ID, err)
		}
		n.Recipients = recipients
		return nil
	})
}

func (r *notificationRepository) Get(ctx context.Context, id uint) (*entities.Notification, error) {
	var n entities.Notification
	if err := r.db.WithContext(ctx).First(&n, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("failed to get notification %d: %w", id, err)
	}
	return &n, nil
}

func (r *notificationRepository) ListRecipients(ctx context.Context, notificationID uint) ([]entities.NotificationRecipient, error) {
	var recipients []entities.NotificationRecipient
	err := r.db.WithContext(ctx).Where("notification_id = ?", notificationID).Order("user_id ASC").Find(&recipients).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients for notification %d: %w", notificationID, err)
	}
	return recipients, nil
}

func (r *notificationRepository) ListForUser(ctx context.Context, userID uint, filter InboxFilter) ([]InboxItem, int64, error) {
	base := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&entities.NotificationRecipient{}).
			Joins("JOIN notifications ON notifications.id = notification_recipients.notification_id").
			Where("notification_recipients.user_id = ? AND notifications.is_active = ?", userID, true)
		if filter.UnreadOnly {
			q = q.Where("notification_recipients.is_read = ?", false)
		}
		if !filter.IncludeDismissed {
			q = q.Where("notification_recipients.is_dismissed = ?", false)
		}
		return q
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count inbox for user %d: %w", userID, err)
	}

	var recipients []entities.NotificationRecipient
	page := base().Select("notification_recipients.*").Order("notification_recipients.notification_id DESC")
	if filter.Limit > 0 {
		page = page.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		page = page.Offset(filter.Offset)
	}
	if err := page.Find(&recipients).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list inbox for user %d: %w", userID, err)
	}
	if len(recipients) == 0 {
		return []InboxItem{}, total, nil
	}

	ids := make([]uint, 0, len(recipients))
	for i := range recipients {
		ids = append(ids, recipients[i].NotificationID)
	}
	var notifications []entities.Notification
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&notifications).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to load inbox notifications: %w", err)
	}
	byID := make(map[uint]entities.Notification, len(notifications))
	for i := range notifications {
		byID[notifications[i].ID] = notifications[i]
	}

	items := make([]InboxItem, 0, len(recipients))
	for i := range recipients {
		items = append(items, InboxItem{Notification: byID[recipients[i].NotificationID], Recipient: recipients[i]})
	}
	return items, total, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, notificationID, userID uint, at time.Time) error {
	return r.markFlag(ctx, notificationID, userID, "is_read", "read_date", at)
}

func (r *notificationRepository) MarkDismissed(ctx context.Context, notificationID, userID uint, at time.Time) error {
	return r.markFlag(ctx, notificationID, userID, "is_dismissed", "dismissed_date", at)
}

func (r *notificationRepository) MarkActioned(ctx context.Context, notificationID, userID uint, at time.Time) error {
	return r.markFlag(ctx, notificationID, userID, "is_actioned", "actioned_date", at)
}

// markFlag sets a recipient flag once; the first timestamp wins.
func (r *notificationRepository) markFlag(ctx context.Context, notificationID, userID uint, flag, dateColumn string, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&entities.NotificationRecipient{}).
		Where("notification_id = ? AND user_id = ? AND "+flag+" = ?", notificationID, userID, false).
		Updates(map[string]any{flag: true, dateColumn: at})
	if result.Error != nil {
		return fmt.Errorf("failed to set %s on notification %d for user %d: %w", flag, notificationID, userID, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&entities.NotificationRecipient{}).
		Where("notification_id = ? AND user_id = ?", notificationID, userID).
		Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check recipient: %w", err)
	}
	if count == 0 {
		return ErrRecipientNotFound
	}
	return nil
}

func (r *notificationRepository) Stats(ctx context.Context, userID uint) (*InboxStats, error) {
	var row struct {
		Total     int64
		Unread    int64
		Dismissed int64
		Actioned  int64
	}
	err := r.db.WithContext(ctx).Model(&entities.NotificationRecipient{}).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN is_read = ? THEN 1 ELSE 0 END), 0) AS unread,
			COALESCE(SUM(CASE WHEN is_dismissed = ? THEN 1 ELSE 0 END), 0) AS dismissed,
			COALESCE(SUM(CASE WHEN is_actioned = ? THEN 1 ELSE 0 END), 0) AS actioned`, false, true, true).
		Where("user_id = ?", userID).
		Scan(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to compute inbox stats for user %d: %w", userID, err)
	}
	return &InboxStats{Total: row.Total, Unread: row.Unread, Dismissed: row.Dismissed, Actioned: row.Actioned}, nil
}

func (r *notificationRepository) Deactivate(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Model(&entities.Notification{}).Where("id = ?", id).Update("is_active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate notification %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		// Already inactive rows report zero on MySQL; distinguish from missing.
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
