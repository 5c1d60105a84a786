package alerting

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
)

// maxConditionDepth bounds nesting of all/any/not nodes.
const maxConditionDepth = 8

var (
	// ErrInvalidCondition is returned when a condition spec cannot be parsed.
	ErrInvalidCondition = errors.NewStd("invalid alert condition")
	// ErrMetricUnavailable means a referenced metric has no usable sample.
	ErrMetricUnavailable = errors.NewStd("metric unavailable")
)

// MetricSource supplies metric samples to condition evaluation.
type MetricSource interface {
	Latest(name string) (MetricSample, bool)
	IsSustained(name, operator string, threshold float64, duration time.Duration, now time.Time) bool
}

// Condition is a parsed condition tree node.
type Condition interface {
	// Kind returns the node kind, e.g. "threshold".
	Kind() string
	eval(env *evalEnv) (bool, error)
	collect(refs *references)
}

type evalEnv struct {
	source MetricSource
	now    time.Time
	maxAge time.Duration
}

// sample returns the latest sample of name, or ErrMetricUnavailable when
// there is none or it is older than maxAge.
func (e *evalEnv) sample(name string) (MetricSample, error) {
	s, ok := e.source.Latest(name)
	if !ok {
		return MetricSample{}, fmt.Errorf("%w: %s has no samples", ErrMetricUnavailable, name)
	}
	if e.maxAge > 0 && e.now.Sub(s.Timestamp) > e.maxAge {
		return MetricSample{}, fmt.Errorf("%w: %s last sampled at %s", ErrMetricUnavailable, name, s.Timestamp.Format(time.RFC3339))
	}
	return s, nil
}

// references lists the metrics and properties a tree reads.
type references struct {
	metrics    []string
	properties map[string][]string
}

func (r *references) addMetric(name string) {
	if !slices.Contains(r.metrics, name) {
		r.metrics = append(r.metrics, name)
	}
}

func (r *references) addProperty(metric, property string) {
	r.addMetric(metric)
	if r.properties == nil {
		r.properties = make(map[string][]string)
	}
	if !slices.Contains(r.properties[metric], property) {
		r.properties[metric] = append(r.properties[metric], property)
	}
}

// AllCondition is true when every child is true.
type AllCondition struct{ Conditions []Condition }

// AnyCondition is true when at least one child is true.
type AnyCondition struct{ Conditions []Condition }

// NotCondition negates its child.
type NotCondition struct{ Condition Condition }

// ThresholdCondition compares a metric value with a number, optionally
// requiring the comparison to hold for Duration.
type ThresholdCondition struct {
	Metric    string
	Operator  string
	Threshold float64
	Duration  time.Duration
}

// PropertyCondition compares one property of a metric's latest sample.
type PropertyCondition struct {
	Metric   string
	Property string
	Operator string
	Value    string
}

// ConstantCondition always evaluates to Value.
type ConstantCondition struct{ Value bool }

func (AllCondition) Kind() string       { return KindAll }
func (AnyCondition) Kind() string       { return KindAny }
func (NotCondition) Kind() string       { return KindNot }
func (ThresholdCondition) Kind() string { return KindThreshold }
func (PropertyCondition) Kind() string  { return KindProperty }
func (ConstantCondition) Kind() string  { return KindConstant }

func (c AllCondition) eval(env *evalEnv) (bool, error) {
	for _, child := range c.Conditions {
		ok, err := child.eval(env)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (c AnyCondition) eval(env *evalEnv) (bool, error) {
	var errs []error
	for _, child := range c.Conditions {
		ok, err := child.eval(env)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return true, nil
		}
	}
	// Only an error when no branch could be evaluated at all.
	if len(errs) == len(c.Conditions) {
		return false, errors.Join(errs...)
	}
	return false, nil
}

func (c NotCondition) eval(env *evalEnv) (bool, error) {
	ok, err := c.Condition.eval(env)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (c ThresholdCondition) eval(env *evalEnv) (bool, error) {
	s, err := env.sample(c.Metric)
	if err != nil {
		return false, err
	}
	if c.Duration > 0 {
		return env.source.IsSustained(c.Metric, c.Operator, c.Threshold, c.Duration, env.now), nil
	}
	return compareFloat(s.Value, c.Operator, c.Threshold), nil
}

func (c PropertyCondition) eval(env *evalEnv) (bool, error) {
	s, err := env.sample(c.Metric)
	if err != nil {
		return false, err
	}
	v, ok := sampleProperty(s, c.Property)
	if !ok {
		return false, nil
	}
	return evaluateProperty(c.Operator, v, c.Value), nil
}

func (c ConstantCondition) eval(*evalEnv) (bool, error) { return c.Value, nil }

func (c AllCondition) collect(refs *references) {
	for _, child := range c.Conditions {
		child.collect(refs)
	}
}

func (c AnyCondition) collect(refs *references) {
	for _, child := range c.Conditions {
		child.collect(refs)
	}
}

func (c NotCondition) collect(refs *references)       { c.Condition.collect(refs) }
func (c ThresholdCondition) collect(refs *references) { refs.addMetric(c.Metric) }
func (c PropertyCondition) collect(refs *references)  { refs.addProperty(c.Metric, c.Property) }
func (ConstantCondition) collect(*references)         {}

// sampleProperty returns a property of s; "value" is the sample value.
func sampleProperty(s MetricSample, property string) (any, bool) {
	if property == PropertyValue {
		return s.Value, true
	}
	v, ok := s.Properties[property]
	return v, ok
}

// ParseCondition turns a stored spec into a condition tree. A zero spec
// yields a nil Condition and no error.
func ParseCondition(spec entities.ConditionSpec) (Condition, error) {
	if spec.IsZero() {
		return nil, nil
	}
	return parseNode(spec, "$", 0)
}

func parseNode(spec entities.ConditionSpec, path string, depth int) (Condition, error) {
	if depth > maxConditionDepth {
		return nil, invalidCondition(path, "nesting deeper than %d levels", maxConditionDepth)
	}

	switch strings.ToLower(spec.Kind) {
	case KindAll, KindAny:
		if len(spec.Conditions) == 0 {
			return nil, invalidCondition(path, "%q needs at least one condition", spec.Kind)
		}
		children := make([]Condition, 0, len(spec.Conditions))
		for i, child := range spec.Conditions {
			c, err := parseNode(child, fmt.Sprintf("%s.conditions[%d]", path, i), depth+1)
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		}
		if strings.EqualFold(spec.Kind, KindAll) {
			return AllCondition{Conditions: children}, nil
		}
		return AnyCondition{Conditions: children}, nil

	case KindNot:
		if spec.Condition == nil {
			return nil, invalidCondition(path, "\"not\" needs a condition")
		}
		child, err := parseNode(*spec.Condition, path+".condition", depth+1)
		if err != nil {
			return nil, err
		}
		return NotCondition{Condition: child}, nil

	case KindThreshold:
		if spec.Metric == "" {
			return nil, invalidCondition(path, "threshold needs a metric")
		}
		if !slices.Contains(numericOperators, spec.Operator) && spec.Operator != OperatorIs && spec.Operator != OperatorIsNot {
			return nil, invalidCondition(path, "operator %q is not numeric", spec.Operator)
		}
		threshold, err := strconv.ParseFloat(strings.TrimSpace(spec.Value), 64)
		if err != nil {
			return nil, invalidCondition(path, "threshold value %q is not a number", spec.Value)
		}
		if spec.DurationSec < 0 {
			return nil, invalidCondition(path, "duration_sec must not be negative")
		}
		return ThresholdCondition{
			Metric:    spec.Metric,
			Operator:  spec.Operator,
			Threshold: threshold,
			Duration:  time.Duration(spec.DurationSec) * time.Second,
		}, nil

	case KindProperty:
		if spec.Metric == "" || spec.Property == "" {
			return nil, invalidCondition(path, "property condition needs metric and property")
		}
		if !slices.Contains(allOperators, spec.Operator) {
			return nil, invalidCondition(path, "unknown operator %q", spec.Operator)
		}
		if slices.Contains(numericOperators, spec.Operator) {
			if _, err := strconv.ParseFloat(strings.TrimSpace(spec.Value), 64); err != nil {
				return nil, invalidCondition(path, "value %q is not a number", spec.Value)
			}
		}
		return PropertyCondition{
			Metric:   spec.Metric,
			Property: spec.Property,
			Operator: spec.Operator,
			Value:    spec.Value,
		}, nil

	case KindConstant:
		v, err := strconv.ParseBool(strings.TrimSpace(spec.Value))
		if err != nil {
			return nil, invalidCondition(path, "constant value %q is not a boolean", spec.Value)
		}
		return ConstantCondition{Value: v}, nil

	default:
		return nil, invalidCondition(path, "unknown kind %q", spec.Kind)
	}
}

func invalidCondition(path, format string, args ...any) error {
	return errors.Newf("%w at %s: %s", ErrInvalidCondition, path, fmt.Sprintf(format, args...)).
		Component(componentAlerting).
		Category(errors.CategoryValidation).
		Context("path", path).
		Build()
}

// ValidateCondition parses spec and discards the result.
func ValidateCondition(spec entities.ConditionSpec) error {
	_, err := ParseCondition(spec)
	return err
}
