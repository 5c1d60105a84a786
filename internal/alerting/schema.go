package alerting

// Schema describes what alert conditions can reference, for condition
// builders in the UI.
type Schema struct {
	Kinds     []KindSchema     `json:"kinds"`
	Metrics   []MetricSchema   `json:"metrics"`
	Operators []OperatorSchema `json:"operators"`
}

// KindSchema describes one condition node kind.
type KindSchema struct {
	Name   string   `json:"name"`
	Label  string   `json:"label"`
	Fields []string `json:"fields"`
}

// MetricSchema describes a metric and the properties its samples carry.
type MetricSchema struct {
	Name       string           `json:"name"`
	Label      string           `json:"label"`
	Unit       string           `json:"unit"`
	Source     string           `json:"source"`
	Properties []PropertySchema `json:"properties"`
}

// PropertySchema describes a property available for condition building.
type PropertySchema struct {
	Name      string   `json:"name"`
	Label     string   `json:"label"`
	Type      string   `json:"type"` // "string" or "number"
	Operators []string `json:"operators"`
}

// OperatorSchema describes an operator for the UI.
type OperatorSchema struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Type  string `json:"type"` // "string" or "number"
}

// stringOperators are operators valid for string properties.
var stringOperators = []string{OperatorIs, OperatorIsNot, OperatorContains, OperatorNotContains}

// numericOperators are operators valid for numeric properties.
var numericOperators = []string{OperatorGreaterThan, OperatorLessThan, OperatorGreaterOrEqual, OperatorLessOrEqual}

// GetSchema returns the alert condition catalogue.
func GetSchema() Schema {
	return Schema{
		Kinds: []KindSchema{
			{Name: KindAll, Label: "All of", Fields: []string{"conditions"}},
			{Name: KindAny, Label: "Any of", Fields: []string{"conditions"}},
			{Name: KindNot, Label: "Not", Fields: []string{"condition"}},
			{Name: KindThreshold, Label: "Metric threshold", Fields: []string{"metric", "operator", "value", "duration_sec"}},
			{Name: KindProperty, Label: "Metric property", Fields: []string{"metric", "property", "operator", "value"}},
			{Name: KindConstant, Label: "Constant", Fields: []string{"value"}},
		},
		Metrics: []MetricSchema{
			{Name: MetricCPUUsage, Label: "CPU Usage", Unit: "%", Source: "system", Properties: hostProperties()},
			{Name: MetricMemoryUsage, Label: "Memory Usage", Unit: "%", Source: "system", Properties: hostProperties()},
			{Name: MetricDiskUsage, Label: "Disk Usage", Unit: "%", Source: "system", Properties: diskProperties()},
			{Name: MetricOverdueReports, Label: "Overdue Reports", Unit: "count", Source: "mqtt", Properties: reportProperties()},
			{Name: MetricPendingApprovals, Label: "Pending Approvals", Unit: "count", Source: "mqtt", Properties: reportProperties()},
			{Name: MetricFailedSubmissions, Label: "Failed Submissions", Unit: "count", Source: "mqtt", Properties: reportProperties()},
		},
		Operators: []OperatorSchema{
			{Name: OperatorIs, Label: "is", Type: "string"},
			{Name: OperatorIsNot, Label: "is not", Type: "string"},
			{Name: OperatorContains, Label: "contains", Type: "string"},
			{Name: OperatorNotContains, Label: "does not contain", Type: "string"},
			{Name: OperatorGreaterThan, Label: "greater than", Type: "number"},
			{Name: OperatorLessThan, Label: "less than", Type: "number"},
			{Name: OperatorGreaterOrEqual, Label: "greater or equal", Type: "number"},
			{Name: OperatorLessOrEqual, Label: "less or equal", Type: "number"},
		},
	}
}

func valueProperty() PropertySchema {
	return PropertySchema{Name: PropertyValue, Label: "Value", Type: "number", Operators: numericOperators}
}

func hostProperties() []PropertySchema {
	return []PropertySchema{
		valueProperty(),
		{Name: PropertyHost, Label: "Host", Type: "string", Operators: stringOperators},
	}
}

func diskProperties() []PropertySchema {
	return append(hostProperties(),
		PropertySchema{Name: PropertyPath, Label: "Mount Path", Type: "string", Operators: stringOperators},
	)
}

func reportProperties() []PropertySchema {
	return []PropertySchema{
		valueProperty(),
		{Name: PropertySource, Label: "Source", Type: "string", Operators: stringOperators},
	}
}
