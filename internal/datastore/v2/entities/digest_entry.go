package entities

import "time"

// DigestEntry queues a notification for a user whose channel frequency is
// not immediate.
type DigestEntry struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	UserID                 uint       `gorm:"not null;uniqueIndex:idx_digest_item,priority:1" json:"user_id"`
	ChannelID              uint       `gorm:"not null;uniqueIndex:idx_digest_item,priority:2" json:"channel_id"`
	NotificationID         uint       `gorm:"not null;uniqueIndex:idx_digest_item,priority:3" json:"notification_id"`
	Frequency              Frequency  `gorm:"size:20;not null" json:"frequency"`
	Title                  string     `gorm:"size:500;not null;default:''" json:"title"`
	DueDate                time.Time  `gorm:"not null;index" json:"due_date"`
	FlushedDate            *time.Time `gorm:"index" json:"flushed_date,omitempty"`
	DeliveryNotificationID *uint      `json:"delivery_notification_id,omitempty"`
	Attempts               int        `gorm:"not null;default:0" json:"attempts"`
	FailureReason          string     `gorm:"size:500" json:"failure_reason,omitempty"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for GORM.
func (DigestEntry) TableName() string {
	return "notification_digest_entries"
}
