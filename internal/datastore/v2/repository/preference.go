package repository

import (
	"context"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
)

// PreferenceRepository stores per-user channel preferences.
type PreferenceRepository interface {
	// Get returns the row for the exact notification type, falling back to
	// the all-types row. ErrPreferenceNotFound when neither exists.
	Get(ctx context.Context, userID, channelID uint, notificationType string) (*entities.UserNotificationPreference, error)
	ListForUser(ctx context.Context, userID uint) ([]entities.UserNotificationPreference, error)
	Upsert(ctx context.Context, pref *entities.UserNotificationPreference) error
}
