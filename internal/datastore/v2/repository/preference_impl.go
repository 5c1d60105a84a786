package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
)

type preferenceRepository struct {
	db *gorm.DB
}

// NewPreferenceRepository creates a new PreferenceRepository.
func NewPreferenceRepository(db *gorm.DB) PreferenceRepository {
	return &preferenceRepository{db: db}
}

func (r *preferenceRepository) Get(ctx context.Context, userID, channelID uint, notificationType string) (*entities.UserNotificationPreference, error) {
	var pref entities.UserNotificationPreference
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND channel_id = ? AND notification_type IN ?", userID, channelID, []string{notificationType, ""}).
		Order("notification_type DESC").
		First(&pref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPreferenceNotFound
		}
		return nil, fmt.Errorf("failed to get preference for user %d channel %d: %w", userID, channelID, err)
	}
	return &pref, nil
}

func (r *preferenceRepository) ListForUser(ctx context.Context, userID uint) ([]entities.UserNotificationPreference, error) {
	var prefs []entities.UserNotificationPreference
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("channel_id ASC, notification_type ASC").Find(&prefs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list preferences for user %d: %w", userID, err)
	}
	return prefs, nil
}

func (r *preferenceRepository) Upsert(ctx context.Context, pref *entities.UserNotificationPreference) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "channel_id"}, {Name: "notification_type"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"is_enabled", "frequency", "quiet_hours_start", "quiet_hours_end",
			"timezone", "minimum_priority", "custom_address", "updated_at",
		}),
	}).Create(pref).Error
	if err != nil {
		return fmt.Errorf("failed to upsert preference for user %d channel %d: %w", pref.UserID, pref.ChannelID, err)
	}
	return nil
}
