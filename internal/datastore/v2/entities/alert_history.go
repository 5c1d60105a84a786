package entities

import (
	"time"

	"gorm.io/datatypes"
)

// AlertHistory records one firing of an alert definition and its
// acknowledge/resolve/escalate lifecycle.
type AlertHistory struct {
	ID                       uint              `gorm:"primaryKey" json:"id"`
	AlertID                  uint              `gorm:"not null;index:idx_alert_history_alert_status,priority:1" json:"alert_id"`
	Status                   AlertStatus       `gorm:"size:20;not null;index:idx_alert_history_alert_status,priority:2" json:"status"`
	TriggeredDate            time.Time         `gorm:"not null;index" json:"triggered_date"`
	TriggerDetails           datatypes.JSONMap `json:"trigger_details,omitempty"`
	NotificationID           *uint             `json:"notification_id,omitempty"`
	AcknowledgedBy           *uint             `json:"acknowledged_by,omitempty"`
	AcknowledgedDate         *time.Time        `json:"acknowledged_date,omitempty"`
	AcknowledgeNotes         string            `gorm:"size:2000;not null;default:''" json:"acknowledge_notes"`
	TimeToAcknowledgeMinutes *int              `json:"time_to_acknowledge_minutes,omitempty"`
	ResolvedBy               *uint             `json:"resolved_by,omitempty"`
	ResolvedDate             *time.Time        `json:"resolved_date,omitempty"`
	ResolutionNotes          string            `gorm:"size:2000;not null;default:''" json:"resolution_notes"`
	TimeToResolveMinutes     *int              `json:"time_to_resolve_minutes,omitempty"`
	IsEscalated              bool              `gorm:"not null;default:false" json:"is_escalated"`
	EscalatedDate            *time.Time        `json:"escalated_date,omitempty"`
	EscalationNotificationID *uint             `json:"escalation_notification_id,omitempty"`
	CancelledBy              *uint             `json:"cancelled_by,omitempty"`
	CancelledDate            *time.Time        `json:"cancelled_date,omitempty"`
	CreatedAt                time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time         `gorm:"autoUpdateTime" json:"updated_at"`

	Alert AlertDefinition `gorm:"foreignKey:AlertID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for GORM.
func (AlertHistory) TableName() string {
	return "alert_history"
}

// MinutesBetween returns whole minutes from start to end, never negative.
func MinutesBetween(start, end time.Time) int {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}
