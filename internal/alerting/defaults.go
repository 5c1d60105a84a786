package alerting

import (
	"gorm.io/datatypes"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
)

// DefaultAdminRole receives the built-in alerts.
const DefaultAdminRole = "admin"

// DefaultTemplates returns the notification templates alert firings and
// escalations render.
func DefaultTemplates() []entities.NotificationTemplate {
	return []entities.NotificationTemplate{
		{
			Code:             TemplateAlertTriggered,
			Name:             "Alert triggered",
			NotificationType: notificationTypeAlert,
			SubjectTemplate:  "[{{Severity}}] {{AlertName}}",
			BodyTemplate:     "Alert {{AlertName}} triggered at {{TriggeredAt}}.\n\n{{Details}}",
			SmsTemplate:      "[{{Severity}}] {{AlertName}} triggered at {{TriggeredAt}}",
			PushTemplate:     "{{AlertName}} triggered",
			Placeholders:     []string{DetailAlertName, DetailSeverity, DetailTriggeredAt, "Details"},
			DefaultPriority:  entities.PriorityHigh,
			DefaultChannels:  []entities.ChannelType{entities.ChannelInApp, entities.ChannelEmail},
			IsActive:         true,
			IsSystemTemplate: true,
		},
		{
			Code:             TemplateAlertEscalated,
			Name:             "Alert escalated",
			NotificationType: notificationTypeAlert,
			SubjectTemplate:  "[ESCALATED] {{AlertName}} unacknowledged for {{MinutesOpen}} min",
			BodyTemplate: "Alert {{AlertName}} ({{Severity}}) triggered at {{TriggeredAt}} " +
				"has not been acknowledged after {{MinutesOpen}} minutes.\n\n{{Details}}",
			SmsTemplate:      "ESCALATED: {{AlertName}} open {{MinutesOpen}} min",
			PushTemplate:     "Escalated: {{AlertName}}",
			Placeholders:     []string{DetailAlertName, DetailSeverity, DetailTriggeredAt, "MinutesOpen", "Details"},
			DefaultPriority:  entities.PriorityUrgent,
			DefaultChannels:  []entities.ChannelType{entities.ChannelInApp, entities.ChannelEmail, entities.ChannelSMS},
			IsActive:         true,
			IsSystemTemplate: true,
		},
	}
}

// DefaultDefinitions returns the built-in alert definitions. They notify
// the admin role through templateID and escalate after 30 minutes.
func DefaultDefinitions(templateID uint) []entities.AlertDefinition {
	admins := entities.RecipientSpec{
		Targets: []entities.RecipientTarget{{Type: entities.TargetRole, ID: DefaultAdminRole}},
	}
	escalation := entities.EscalationRules{
		AfterMinutes: 30,
		Recipients:   admins,
		TemplateCode: TemplateAlertEscalated,
		Priority:     "urgent",
	}
	sustained := func(metric, value string) entities.ConditionSpec {
		return entities.ConditionSpec{Kind: KindThreshold, Metric: metric, Operator: OperatorGreaterThan, Value: value, DurationSec: 300}
	}
	below := func(metric, value string) entities.ConditionSpec {
		return entities.ConditionSpec{Kind: KindThreshold, Metric: metric, Operator: OperatorLessThan, Value: value, DurationSec: 300}
	}

	def := func(name, description string, severity entities.Severity, trigger, resolve entities.ConditionSpec, cooldown int) entities.AlertDefinition {
		return entities.AlertDefinition{
			Name:                  name,
			Description:           description,
			TriggerCondition:      datatypes.NewJSONType(trigger),
			CheckFrequencyMinutes: 1,
			Severity:              severity,
			TemplateID:            templateID,
			Recipients:            datatypes.NewJSONType(admins),
			CooldownMinutes:       cooldown,
			EscalationRules:       datatypes.NewJSONType(escalation),
			AutoResolveCondition:  datatypes.NewJSONType(resolve),
			IsActive:              true,
		}
	}

	return []entities.AlertDefinition{
		def("High CPU usage", "CPU usage above 90% for 5 minutes",
			entities.SeverityWarning, sustained(MetricCPUUsage, "90"), below(MetricCPUUsage, "70"), 15),
		def("High memory usage", "Memory usage above 90% for 5 minutes",
			entities.SeverityWarning, sustained(MetricMemoryUsage, "90"), below(MetricMemoryUsage, "75"), 15),
		def("Low disk space", "Disk usage above 85% for 5 minutes",
			entities.SeverityCritical, sustained(MetricDiskUsage, "85"), below(MetricDiskUsage, "80"), 30),
		def("Overdue reports", "One or more reports are past their due date",
			entities.SeverityWarning,
			entities.ConditionSpec{Kind: KindThreshold, Metric: MetricOverdueReports, Operator: OperatorGreaterThan, Value: "0"},
			entities.ConditionSpec{Kind: KindThreshold, Metric: MetricOverdueReports, Operator: OperatorIs, Value: "0"},
			60),
	}
}
