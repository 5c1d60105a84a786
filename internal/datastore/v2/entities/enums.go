package entities

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Priority ranks a notification. Higher values are more important.
type Priority int

// Notification priorities.
const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
	PriorityUrgent Priority = 4
)

var priorityNames = map[Priority]string{
	PriorityLow:    "low",
	PriorityNormal: "normal",
	PriorityHigh:   "high",
	PriorityUrgent: "urgent",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Valid reports whether p is one of the defined priorities.
func (p Priority) Valid() bool {
	_, ok := priorityNames[p]
	return ok
}

// ParsePriority converts a case-insensitive name into a Priority.
func ParsePriority(s string) (Priority, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for p, name := range priorityNames {
		if name == needle {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// MarshalJSON encodes the priority as its lower-case name.
func (p Priority) MarshalJSON() ([]byte, error) {
	if !p.Valid() {
		return json.Marshal(int(p))
	}
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts either the name or the numeric rank.
func (p *Priority) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		parsed, err := ParsePriority(name)
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid priority %s", string(b))
	}
	if !Priority(n).Valid() {
		return fmt.Errorf("invalid priority %d", n)
	}
	*p = Priority(n)
	return nil
}

// ChannelType identifies a delivery medium.
type ChannelType string

// Channel types.
const (
	ChannelEmail   ChannelType = "email"
	ChannelSMS     ChannelType = "sms"
	ChannelPush    ChannelType = "push"
	ChannelInApp   ChannelType = "in_app"
	ChannelWebhook ChannelType = "webhook"
)

// AllChannelTypes lists every channel type in rank order.
var AllChannelTypes = []ChannelType{ChannelInApp, ChannelEmail, ChannelPush, ChannelSMS, ChannelWebhook}

// Valid reports whether c is a known channel type.
func (c ChannelType) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp, ChannelWebhook:
		return true
	}
	return false
}

// DeliveryStatus is the state of one delivery attempt chain.
type DeliveryStatus string

// Delivery statuses.
const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryBounced   DeliveryStatus = "bounced"
	DeliveryCancelled DeliveryStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed. A retryable
// failure is re-armed to pending immediately, so a failed row is final.
func (s DeliveryStatus) IsTerminal() bool {
	switch s {
	case DeliveryDelivered, DeliveryFailed, DeliveryBounced, DeliveryCancelled:
		return true
	}
	return false
}

// Cancel reasons recorded on deliveries.
const (
	CancelReasonCapExceeded     = "CapExceeded"
	CancelReasonChannelDisabled = "ChannelDisabled"
	CancelReasonExpired         = "Expired"
	CancelReasonInactive        = "NotificationInactive"
)

// Frequency controls how often a user wants to hear from a channel.
type Frequency string

// Delivery frequencies.
const (
	FrequencyImmediate Frequency = "immediate"
	FrequencyHourly    Frequency = "hourly"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyNever     Frequency = "never"
)

// Valid reports whether f is a known frequency.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyImmediate, FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyNever:
		return true
	}
	return false
}

// AlertStatus is the lifecycle state of one alert firing.
type AlertStatus string

// Alert history statuses.
const (
	AlertTriggered    AlertStatus = "triggered"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
	AlertAutoResolved AlertStatus = "auto_resolved"
	AlertCancelled    AlertStatus = "cancelled"
)

// IsTerminal reports whether the firing is closed.
func (s AlertStatus) IsTerminal() bool {
	switch s {
	case AlertResolved, AlertAutoResolved, AlertCancelled:
		return true
	}
	return false
}

// OpenAlertStatuses are the statuses a firing can be closed from.
var OpenAlertStatuses = []AlertStatus{AlertTriggered, AlertAcknowledged}

// Severity grades an alert definition.
type Severity string

// Alert severities.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Priority maps a severity to the notification priority used when the
// template does not dictate one.
func (s Severity) Priority() Priority {
	switch s {
	case SeverityCritical:
		return PriorityUrgent
	case SeverityWarning:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}
