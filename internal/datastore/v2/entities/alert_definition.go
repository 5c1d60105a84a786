package entities

import (
	"time"

	"gorm.io/datatypes"
)

// AlertDefinition is a monitoring rule: what to watch, how often, and who
// hears about it when it fires.
type AlertDefinition struct {
	ID                    uint                                `gorm:"primaryKey" json:"id"`
	Name                  string                              `gorm:"size:255;not null;uniqueIndex" json:"name"`
	Description           string                              `gorm:"size:1000;not null;default:''" json:"description"`
	TriggerCondition      datatypes.JSONType[ConditionSpec]   `gorm:"not null" json:"trigger_condition"`
	CheckFrequencyMinutes int                                 `gorm:"not null" json:"check_frequency_minutes"`
	Severity              Severity                            `gorm:"size:20;not null" json:"severity"`
	TemplateID            uint                                `gorm:"not null;index" json:"template_id"`
	Recipients            datatypes.JSONType[RecipientSpec]   `gorm:"not null" json:"recipients"`
	Channels              datatypes.JSONSlice[ChannelType]    `json:"channels"`
	CooldownMinutes       int                                 `gorm:"not null;default:0" json:"cooldown_minutes"`
	EscalationRules       datatypes.JSONType[EscalationRules] `gorm:"not null" json:"escalation_rules"`
	AutoResolveCondition  datatypes.JSONType[ConditionSpec]   `gorm:"not null" json:"auto_resolve_condition"`
	IsActive              bool                                `gorm:"not null;index" json:"is_active"`
	LastTriggeredDate     *time.Time                          `json:"last_triggered_date,omitempty"`
	LastCheckDate         *time.Time                          `json:"last_check_date,omitempty"`
	TriggerCount          int                                 `gorm:"not null;default:0" json:"trigger_count"`
	CreatedAt             time.Time                           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time                           `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for GORM.
func (AlertDefinition) TableName() string {
	return "alert_definitions"
}

// CooldownUntil returns the earliest time the alert may fire again, or the
// zero time when it has never fired or has no cooldown.
func (a *AlertDefinition) CooldownUntil() time.Time {
	if a.LastTriggeredDate == nil || a.CooldownMinutes <= 0 {
		return time.Time{}
	}
	return a.LastTriggeredDate.Add(time.Duration(a.CooldownMinutes) * time.Minute)
}

// InCooldown reports whether now falls inside the cooldown window.
func (a *AlertDefinition) InCooldown(now time.Time) bool {
	until := a.CooldownUntil()
	return !until.IsZero() && now.Before(until)
}

// DueForCheck reports whether CheckFrequencyMinutes has elapsed since the
// last check.
func (a *AlertDefinition) DueForCheck(now time.Time) bool {
	if a.LastCheckDate == nil || a.CheckFrequencyMinutes <= 0 {
		return true
	}
	return !now.Before(a.LastCheckDate.Add(time.Duration(a.CheckFrequencyMinutes) * time.Minute))
}

// ConditionSpec is the stored form of a condition tree. Kind selects which
// of the remaining fields apply; an empty Kind means no condition.
type ConditionSpec struct {
	Kind        string          `json:"kind,omitempty"`
	Conditions  []ConditionSpec `json:"conditions,omitempty"`
	Condition   *ConditionSpec  `json:"condition,omitempty"`
	Metric      string          `json:"metric,omitempty"`
	Property    string          `json:"property,omitempty"`
	Operator    string          `json:"operator,omitempty"`
	Value       string          `json:"value,omitempty"`
	DurationSec int             `json:"duration_sec,omitempty"`
}

// IsZero reports whether no condition is set.
func (c ConditionSpec) IsZero() bool {
	return c.Kind == ""
}

// Recipient target kinds.
const (
	TargetUser       = "user"
	TargetRole       = "role"
	TargetDepartment = "department"
)

// RecipientTarget is one abstract recipient.
type RecipientTarget struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// RecipientSpec lists abstract targets plus explicit user ids.
type RecipientSpec struct {
	Targets []RecipientTarget `json:"targets,omitempty"`
	UserIDs []uint            `json:"user_ids,omitempty"`
}

// IsEmpty reports whether no recipient is named.
func (r RecipientSpec) IsEmpty() bool {
	return len(r.Targets) == 0 && len(r.UserIDs) == 0
}

// EscalationRules configure the secondary notification for a firing left
// unacknowledged. AfterMinutes of zero disables escalation.
type EscalationRules struct {
	AfterMinutes int           `json:"after_minutes,omitempty"`
	Recipients   RecipientSpec `json:"recipients"`
	TemplateCode string        `json:"template_code,omitempty"`
	Channels     []ChannelType `json:"channels,omitempty"`
	Priority     string        `json:"priority,omitempty"`
}

// Enabled reports whether escalation is configured.
func (e EscalationRules) Enabled() bool {
	return e.AfterMinutes > 0
}
