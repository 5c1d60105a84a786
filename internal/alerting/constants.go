// Package alerting evaluates alert definitions against live metrics, records
// each firing and drives its acknowledge, resolve and escalation lifecycle.
package alerting

// Condition node kinds.
const (
	KindAll       = "all"
	KindAny       = "any"
	KindNot       = "not"
	KindThreshold = "threshold"
	KindProperty  = "property"
	KindConstant  = "constant"
)

// Metric names published by the built-in sources.
const (
	MetricCPUUsage    = "system.cpu_usage"
	MetricMemoryUsage = "system.memory_usage"
	MetricDiskUsage   = "system.disk_usage"

	MetricOverdueReports    = "reports.overdue_count"
	MetricPendingApprovals  = "reports.pending_approvals"
	MetricFailedSubmissions = "reports.failed_submissions"
)

// Condition operators define how values are compared.
const (
	OperatorIs             = "is"
	OperatorIsNot          = "is_not"
	OperatorContains       = "contains"
	OperatorNotContains    = "not_contains"
	OperatorGreaterThan    = "greater_than"
	OperatorLessThan       = "less_than"
	OperatorGreaterOrEqual = "greater_or_equal"
	OperatorLessOrEqual    = "less_or_equal"
)

// Properties carried by metric samples.
const (
	PropertyValue  = "value"
	PropertyHost   = "host"
	PropertyPath   = "path"
	PropertySource = "source"
)

// Detail keys every firing carries in addition to the metric values.
const (
	DetailAlertName   = "AlertName"
	DetailSeverity    = "Severity"
	DetailTriggeredAt = "TriggeredAt"
)

// Notification templates owned by the alerting package.
const (
	TemplateAlertTriggered = "ALERT_TRIGGERED"
	TemplateAlertEscalated = "ALERT_ESCALATED"
)

// SourceEntityAlertHistory is the source entity type of alert notifications.
const SourceEntityAlertHistory = "alert_history"

const componentAlerting = "alerting"
