// Package metrics exposes Prometheus collectors for the delivery and alerting
// subsystems.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "notify"

// Metrics groups every collector. A nil *Metrics is valid and records nothing,
// so components can be built without a registry in tests.
type Metrics struct {
	Deliveries       *prometheus.CounterVec
	DeliveryAttempts *prometheus.CounterVec
	SendDuration     *prometheus.HistogramVec
	ChannelSends     *prometheus.GaugeVec
	AlertEvaluations *prometheus.CounterVec
	AlertTriggers    prometheus.Counter
	Escalations      prometheus.Counter
	SweepDuration    *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Deliveries that reached a status, by channel type.",
		}, []string{"channel", "status"}),
		DeliveryAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Send attempts by channel type and outcome.",
		}, []string{"channel", "outcome"}),
		SendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Latency of channel sender calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		ChannelSends: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channel_daily_sends",
			Help:      "Sends counted against each channel's daily cap.",
		}, []string{"channel"}),
		AlertEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_evaluations_total",
			Help:      "Alert definition evaluations by outcome.",
		}, []string{"outcome"}),
		AlertTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_triggers_total",
			Help:      "Alert firings recorded.",
		}),
		Escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Escalation notifications sent.",
		}),
		SweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of scheduled tasks.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"task"}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Deliveries,
		m.DeliveryAttempts,
		m.SendDuration,
		m.ChannelSends,
		m.AlertEvaluations,
		m.AlertTriggers,
		m.Escalations,
		m.SweepDuration,
	}
}

// DeliveryStatus counts a delivery reaching status.
func (m *Metrics) DeliveryStatus(channel, status string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(channel, status).Inc()
}

// SendAttempt records one sender call.
func (m *Metrics) SendAttempt(channel, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.DeliveryAttempts.WithLabelValues(channel, outcome).Inc()
	m.SendDuration.WithLabelValues(channel).Observe(took.Seconds())
}

// ChannelCount publishes the current daily count of a channel.
func (m *Metrics) ChannelCount(channel string, count int64) {
	if m == nil {
		return
	}
	m.ChannelSends.WithLabelValues(channel).Set(float64(count))
}

// Evaluation counts one alert evaluation outcome.
func (m *Metrics) Evaluation(outcome string) {
	if m == nil {
		return
	}
	m.AlertEvaluations.WithLabelValues(outcome).Inc()
}

// Trigger counts one alert firing.
func (m *Metrics) Trigger() {
	if m == nil {
		return
	}
	m.AlertTriggers.Inc()
}

// Escalation counts one escalation notification.
func (m *Metrics) Escalation() {
	if m == nil {
		return
	}
	m.Escalations.Inc()
}

// Sweep observes the duration of a scheduled task run.
func (m *Metrics) Sweep(task string, took time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.WithLabelValues(task).Observe(took.Seconds())
}
