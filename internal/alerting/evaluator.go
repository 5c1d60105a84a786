package alerting

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxSampleAge is how old a metric's latest sample may be before
// conditions on it report ErrMetricUnavailable.
const DefaultMaxSampleAge = 15 * time.Minute

var allOperators = []string{
	OperatorIs, OperatorIsNot, OperatorContains, OperatorNotContains,
	OperatorGreaterThan, OperatorLessThan, OperatorGreaterOrEqual, OperatorLessOrEqual,
}

// RuleEvaluator decides whether a parsed condition holds now. The detail
// payload is stored on the alert history and fed to the notification
// template as placeholders.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, cond Condition, now time.Time) (bool, map[string]any, error)
}

// MetricEvaluator evaluates conditions against a MetricSource.
type MetricEvaluator struct {
	source MetricSource
	maxAge time.Duration
}

// NewMetricEvaluator creates an evaluator reading source. A non-positive
// maxAge disables the staleness check.
func NewMetricEvaluator(source MetricSource, maxAge time.Duration) *MetricEvaluator {
	return &MetricEvaluator{source: source, maxAge: maxAge}
}

// Evaluate implements RuleEvaluator. A nil condition is never true.
func (e *MetricEvaluator) Evaluate(ctx context.Context, cond Condition, now time.Time) (bool, map[string]any, error) {
	if cond == nil {
		return false, nil, nil
	}
	if err := ctx.Err(); err != nil {
		return false, nil, err
	}
	env := &evalEnv{source: e.source, now: now, maxAge: e.maxAge}
	ok, err := cond.eval(env)
	if err != nil {
		return false, nil, err
	}
	return ok, e.detail(cond), nil
}

// detail collects the value and referenced properties of every metric the
// condition reads, keyed by name with dots replaced by underscores.
func (e *MetricEvaluator) detail(cond Condition) map[string]any {
	var refs references
	cond.collect(&refs)

	detail := make(map[string]any, len(refs.metrics))
	for _, name := range refs.metrics {
		s, ok := e.source.Latest(name)
		if !ok {
			continue
		}
		key := PlaceholderKey(name)
		detail[key] = formatNumber(s.Value)
		for _, prop := range refs.properties[name] {
			if v, ok := sampleProperty(s, prop); ok {
				detail[key+"_"+PlaceholderKey(prop)] = v
			}
		}
	}
	return detail
}

// PlaceholderKey maps a metric or property name onto a template placeholder
// name.
func PlaceholderKey(name string) string {
	return strings.NewReplacer(".", "_", "-", "_", " ", "_").Replace(name)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// evaluateProperty compares a property value with the configured value.
// String operators are case-insensitive.
func evaluateProperty(operator string, actual any, expected string) bool {
	actualStr := fmt.Sprintf("%v", actual)

	switch operator {
	case OperatorIs:
		if a, err := toFloat64(actual); err == nil {
			if b, err := strconv.ParseFloat(expected, 64); err == nil {
				return a == b
			}
		}
		return strings.EqualFold(actualStr, expected)
	case OperatorIsNot:
		return !evaluateProperty(OperatorIs, actual, expected)
	case OperatorContains:
		return strings.Contains(strings.ToLower(actualStr), strings.ToLower(expected))
	case OperatorNotContains:
		return !strings.Contains(strings.ToLower(actualStr), strings.ToLower(expected))
	case OperatorGreaterThan, OperatorLessThan, OperatorGreaterOrEqual, OperatorLessOrEqual:
		a, err := toFloat64(actual)
		if err != nil {
			return false
		}
		b, err := strconv.ParseFloat(strings.TrimSpace(expected), 64)
		if err != nil {
			return false
		}
		return compareFloat(a, operator, b)
	default:
		return false
	}
}

func toFloat64(val any) (float64, error) {
	switch v := val.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", val)
	}
}
