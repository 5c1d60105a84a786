package entities

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationTemplate is a reusable message definition with one variant
// per channel family.
type NotificationTemplate struct {
	ID               uint                             `gorm:"primaryKey" json:"id"`
	Code             string                           `gorm:"size:100;not null;uniqueIndex" json:"code"`
	Name             string                           `gorm:"size:255;not null" json:"name"`
	NotificationType string                           `gorm:"size:100;not null;default:'general'" json:"notification_type"`
	SubjectTemplate  string                           `gorm:"size:500;not null;default:''" json:"subject_template"`
	BodyTemplate     string                           `gorm:"type:text;not null" json:"body_template"`
	SmsTemplate      string                           `gorm:"size:500;not null;default:''" json:"sms_template"`
	PushTemplate     string                           `gorm:"size:500;not null;default:''" json:"push_template"`
	Placeholders     datatypes.JSONSlice[string]      `json:"placeholders"`
	DefaultPriority  Priority                         `gorm:"not null" json:"default_priority"`
	DefaultChannels  datatypes.JSONSlice[ChannelType] `json:"default_channels"`
	IsActive         bool                             `gorm:"not null" json:"is_active"`
	IsSystemTemplate bool                             `gorm:"not null;default:false" json:"is_system_template"`
	CreatedAt        time.Time                        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time                        `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (NotificationTemplate) TableName() string {
	return "notification_templates"
}
