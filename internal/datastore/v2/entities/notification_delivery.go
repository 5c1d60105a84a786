package entities

import "time"

// NotificationDelivery is the delivery of one notification to one user over
// one channel, including every retry.
type NotificationDelivery struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	NotificationID    uint           `gorm:"not null;uniqueIndex:idx_delivery_target,priority:1" json:"notification_id"`
	UserID            uint           `gorm:"not null;uniqueIndex:idx_delivery_target,priority:2" json:"user_id"`
	ChannelID         uint           `gorm:"not null;uniqueIndex:idx_delivery_target,priority:3" json:"channel_id"`
	ChannelType       ChannelType    `gorm:"size:20;not null" json:"channel_type"`
	Status            DeliveryStatus `gorm:"size:20;not null;index:idx_delivery_due,priority:1" json:"status"`
	RecipientAddress  string         `gorm:"size:500;not null;default:''" json:"recipient_address"`
	Subject           string         `gorm:"size:500;not null;default:''" json:"subject"`
	Body              string         `gorm:"type:text" json:"body"`
	RetryCount        int            `gorm:"not null;default:0" json:"retry_count"`
	NextRetryDate     *time.Time     `json:"next_retry_date,omitempty"`
	ScheduledFor      time.Time      `gorm:"not null;index:idx_delivery_due,priority:2" json:"scheduled_for"`
	ClaimedUntil      *time.Time     `json:"claimed_until,omitempty"`
	SentDate          *time.Time     `json:"sent_date,omitempty"`
	DeliveredDate     *time.Time     `json:"delivered_date,omitempty"`
	ExternalMessageID string         `gorm:"size:255;not null;default:'';index" json:"external_message_id"`
	ErrorMessage      string         `gorm:"size:2000;not null;default:''" json:"error_message"`
	CancelReason      string         `gorm:"size:50;not null;default:''" json:"cancel_reason"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (NotificationDelivery) TableName() string {
	return "notification_deliveries"
}

// DueAt returns when the delivery should next be attempted.
func (d *NotificationDelivery) DueAt() time.Time {
	if d.NextRetryDate != nil && d.NextRetryDate.After(d.ScheduledFor) {
		return *d.NextRetryDate
	}
	return d.ScheduledFor
}
