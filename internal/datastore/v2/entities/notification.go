package entities

import "time"

// Notification is one logical message instance. Only IsActive changes after
// creation.
type Notification struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	TemplateID       *uint      `gorm:"index" json:"template_id,omitempty"`
	Type             string     `gorm:"size:100;not null;index" json:"type"`
	Title            string     `gorm:"size:500;not null" json:"title"`
	Message          string     `gorm:"type:text;not null" json:"message"`
	Priority         Priority   `gorm:"not null" json:"priority"`
	SourceEntityType string     `gorm:"size:100;not null;default:'';index:idx_notification_source,priority:1" json:"source_entity_type"`
	SourceEntityID   string     `gorm:"size:100;not null;default:'';index:idx_notification_source,priority:2" json:"source_entity_id"`
	ScheduledDate    *time.Time `json:"scheduled_date,omitempty"`
	ExpiryDate       *time.Time `gorm:"index" json:"expiry_date,omitempty"`
	IsActive         bool       `gorm:"not null" json:"is_active"`
	CreatedBy        *uint      `json:"created_by,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime;index" json:"created_at"`

	Recipients []NotificationRecipient `gorm:"foreignKey:NotificationID;constraint:OnDelete:CASCADE" json:"recipients,omitempty"`
}

// TableName returns the table name for GORM.
func (Notification) TableName() string {
	return "notifications"
}

// IsExpired reports whether the notification's expiry has passed at now.
func (n *Notification) IsExpired(now time.Time) bool {
	return n.ExpiryDate != nil && !now.Before(*n.ExpiryDate)
}

// NotificationRecipient ties a user to a notification. A (notification,
// user) pair is stored at most once.
type NotificationRecipient struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	NotificationID uint       `gorm:"not null;uniqueIndex:idx_recipient_notification_user,priority:1" json:"notification_id"`
	UserID         uint       `gorm:"not null;uniqueIndex:idx_recipient_notification_user,priority:2;index" json:"user_id"`
	IsRead         bool       `gorm:"not null;default:false" json:"is_read"`
	ReadDate       *time.Time `json:"read_date,omitempty"`
	IsDismissed    bool       `gorm:"not null;default:false" json:"is_dismissed"`
	DismissedDate  *time.Time `json:"dismissed_date,omitempty"`
	IsActioned     bool       `gorm:"not null;default:false" json:"is_actioned"`
	ActionedDate   *time.Time `json:"actioned_date,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// TableName returns the table name for GORM.
func (NotificationRecipient) TableName() string {
	return "notification_recipients"
}
