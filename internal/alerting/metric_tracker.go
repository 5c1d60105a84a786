package alerting

import (
	"maps"
	"sync"
	"time"
)

const (
	// maxSamplesPerMetric is the maximum number of samples retained per metric.
	maxSamplesPerMetric = 240
	// maxSampleAge is the maximum age of a sample before eviction.
	maxSampleAge = 2 * time.Hour
)

// MetricSample is one observation of a named metric. Properties carry
// string or numeric attributes of the observation, e.g. the host or the
// mount path.
type MetricSample struct {
	Name       string         `json:"name"`
	Value      float64        `json:"value"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

type metricPoint struct {
	value     float64
	timestamp time.Time
}

// MetricTracker keeps the latest sample of every metric plus a bounded
// window of recent values for sustained threshold conditions.
type MetricTracker struct {
	mu      sync.RWMutex
	latest  map[string]MetricSample
	buffers map[string][]metricPoint
}

// NewMetricTracker creates an empty tracker.
func NewMetricTracker() *MetricTracker {
	return &MetricTracker{
		latest:  make(map[string]MetricSample),
		buffers: make(map[string][]metricPoint),
	}
}

// Record stores s as the metric's latest sample and appends its value to the
// window. Samples older than the current latest replace nothing.
func (t *MetricTracker) Record(s MetricSample) {
	if s.Name == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.latest[s.Name]; !ok || !s.Timestamp.Before(cur.Timestamp) {
		s.Properties = maps.Clone(s.Properties)
		t.latest[s.Name] = s
	}

	points := append(t.buffers[s.Name], metricPoint{value: s.Value, timestamp: s.Timestamp})
	cutoff := s.Timestamp.Add(-maxSampleAge)
	start := 0
	for start < len(points) && points[start].timestamp.Before(cutoff) {
		start++
	}
	points = points[start:]
	if len(points) > maxSamplesPerMetric {
		points = points[len(points)-maxSamplesPerMetric:]
	}
	t.buffers[s.Name] = points
}

// Latest returns the most recent sample of name.
func (t *MetricTracker) Latest(name string) (MetricSample, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.latest[name]
	return s, ok
}

// Names returns every metric that has a sample.
func (t *MetricTracker) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.latest))
	for name := range t.latest {
		names = append(names, name)
	}
	return names
}

// IsSustained reports whether every sample of name in (now-duration, now]
// satisfies operator against threshold, and the window is covered: the
// earliest sample must fall within a 20% grace of the window start.
func (t *MetricTracker) IsSustained(name, operator string, threshold float64, duration time.Duration, now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	points := t.buffers[name]
	if len(points) == 0 {
		return false
	}

	windowStart := now.Add(-duration)
	var inWindow []metricPoint
	for _, p := range points {
		if !p.timestamp.Before(windowStart) && !p.timestamp.After(now) {
			inWindow = append(inWindow, p)
		}
	}
	if len(inWindow) == 0 {
		return false
	}

	grace := duration / 5
	if inWindow[0].timestamp.After(windowStart.Add(grace)) {
		return false
	}
	for _, p := range inWindow {
		if !compareFloat(p.value, operator, threshold) {
			return false
		}
	}
	return true
}

func compareFloat(value float64, operator string, threshold float64) bool {
	switch operator {
	case OperatorGreaterThan:
		return value > threshold
	case OperatorLessThan:
		return value < threshold
	case OperatorGreaterOrEqual:
		return value >= threshold
	case OperatorLessOrEqual:
		return value <= threshold
	case OperatorIs:
		return value == threshold
	case OperatorIsNot:
		return value != threshold
	default:
		return false
	}
}
