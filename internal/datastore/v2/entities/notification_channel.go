package entities

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationChannel configures one delivery medium, its retry policy and
// its daily send cap.
type NotificationChannel struct {
	ID                uint              `gorm:"primaryKey" json:"id"`
	Name              string            `gorm:"size:100;not null;uniqueIndex" json:"name"`
	Type              ChannelType       `gorm:"size:20;not null;index" json:"type"`
	IsEnabled         bool              `gorm:"not null;default:false" json:"is_enabled"`
	Provider          string            `gorm:"size:100;not null;default:''" json:"provider"`
	ProviderConfig    datatypes.JSONMap `json:"provider_config,omitempty"`
	MaxRetries        int               `gorm:"not null" json:"max_retries"`
	RetryDelayMinutes int               `gorm:"not null" json:"retry_delay_minutes"`
	PriorityRank      int               `gorm:"not null;default:0" json:"priority_rank"`
	DailySendLimit    int               `gorm:"not null;default:0" json:"daily_send_limit"` // 0 = unlimited
	DailySendCount    int               `gorm:"not null;default:0" json:"daily_send_count"`
	LastResetDate     *time.Time        `json:"last_reset_date,omitempty"`
	ConfirmsDelivery  bool              `gorm:"not null;default:false" json:"confirms_delivery"`
	CreatedAt         time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (NotificationChannel) TableName() string {
	return "notification_channels"
}

// ConfigString returns a string value from ProviderConfig.
func (c *NotificationChannel) ConfigString(key string) string {
	if c.ProviderConfig == nil {
		return ""
	}
	if v, ok := c.ProviderConfig[key].(string); ok {
		return v
	}
	return ""
}
