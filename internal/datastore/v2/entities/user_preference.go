package entities

import "time"

// UserNotificationPreference is a per user, per channel opt-in record. An
// empty NotificationType applies to every type without a dedicated row.
type UserNotificationPreference struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	UserID           uint      `gorm:"not null;uniqueIndex:idx_preference_scope,priority:1" json:"user_id"`
	ChannelID        uint      `gorm:"not null;uniqueIndex:idx_preference_scope,priority:2" json:"channel_id"`
	NotificationType string    `gorm:"size:100;not null;default:'';uniqueIndex:idx_preference_scope,priority:3" json:"notification_type"`
	IsEnabled        bool      `gorm:"not null" json:"is_enabled"`
	Frequency        Frequency `gorm:"size:20;not null;default:'immediate'" json:"frequency"`
	QuietHoursStart  string    `gorm:"size:5;not null;default:''" json:"quiet_hours_start"` // HH:MM
	QuietHoursEnd    string    `gorm:"size:5;not null;default:''" json:"quiet_hours_end"`   // HH:MM
	Timezone         string    `gorm:"size:64;not null;default:''" json:"timezone"`
	MinimumPriority  Priority  `gorm:"not null" json:"minimum_priority"`
	CustomAddress    string    `gorm:"size:500;not null;default:''" json:"custom_address"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (UserNotificationPreference) TableName() string {
	return "user_notification_preferences"
}

// DefaultPreference is what a user without a stored row gets.
func DefaultPreference(userID, channelID uint, notificationType string) UserNotificationPreference {
	return UserNotificationPreference{
		UserID:           userID,
		ChannelID:        channelID,
		NotificationType: notificationType,
		IsEnabled:        true,
		Frequency:        FrequencyImmediate,
		MinimumPriority:  PriorityLow,
	}
}
