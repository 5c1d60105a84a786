package alerting

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/MochamaB/FormReporting-sub006/internal/clock"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
	"github.com/MochamaB/FormReporting-sub006/internal/mqtt"
)

// ErrInvalidPayload is returned for metric messages that cannot be parsed.
var ErrInvalidPayload = errors.NewStd("invalid metric payload")

// MetricBridge subscribes to an MQTT topic and publishes every metric it
// receives to the event bus. Accepted payloads:
//
//	{"metric":"reports.overdue_count","value":3,"properties":{"source":"erp"}}
//	{"metrics":{"reports.overdue_count":3,"reports.pending_approvals":12}}
//	3   (bare number; the metric name is the last topic segment)
type MetricBridge struct {
	client mqtt.Client
	topic  string
	bus    *EventBus
	clock  clock.Clock
	log    logger.Logger
}

// NewMetricBridge creates a bridge from client to bus.
func NewMetricBridge(client mqtt.Client, topic string, bus *EventBus, clk clock.Clock, log logger.Logger) *MetricBridge {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &MetricBridge{
		client: client,
		topic:  topic,
		bus:    bus,
		clock:  clk,
		log:    log.With(logger.String("component", "mqtt_bridge"), logger.String("topic", topic)),
	}
}

// Start connects and subscribes.
func (b *MetricBridge) Start(ctx context.Context) error {
	if err := b.client.Subscribe(ctx, b.topic, 1, b.HandleMessage); err != nil {
		return err
	}
	return b.client.Connect(ctx)
}

// Stop disconnects from the broker.
func (b *MetricBridge) Stop() {
	b.client.Disconnect()
}

// HandleMessage parses one message and publishes its samples.
func (b *MetricBridge) HandleMessage(topic string, payload []byte) {
	samples, err := ParseMetricPayload(topic, payload, b.clock.Now())
	if err != nil {
		b.log.Warn("dropping unparseable metric message",
			logger.String("message_topic", topic),
			logger.Error(err))
		return
	}
	for _, s := range samples {
		b.bus.Publish(s)
	}
}

// ParseMetricPayload decodes a metric message. now stamps samples without a
// timestamp of their own.
func ParseMetricPayload(topic string, payload []byte, now time.Time) ([]MetricSample, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, errors.Newf("%w: empty payload", ErrInvalidPayload).Category(errors.CategoryValidation).Build()
	}

	if trimmed[0] != '{' {
		v, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil {
			return nil, errors.Newf("%w: %q is neither an object nor a number", ErrInvalidPayload, truncate(string(trimmed), 64)).
				Category(errors.CategoryValidation).
				Build()
		}
		name := topicMetricName(topic)
		if name == "" {
			return nil, errors.Newf("%w: no metric name in topic %q", ErrInvalidPayload, topic).
				Category(errors.CategoryValidation).
				Build()
		}
		return []MetricSample{{Name: name, Value: v, Timestamp: now}}, nil
	}

	obj, err := jason.NewObjectFromBytes(trimmed)
	if err != nil {
		return nil, errors.Newf("%w: %w", ErrInvalidPayload, err).Category(errors.CategoryValidation).Build()
	}

	ts := now
	if raw, err := obj.GetString("timestamp"); err == nil && raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, errors.Newf("%w: timestamp %q is not RFC3339", ErrInvalidPayload, raw).
				Category(errors.CategoryValidation).
				Build()
		}
		ts = parsed.UTC()
	}
	props := properties(obj)

	if metrics, err := obj.GetObject("metrics"); err == nil {
		var samples []MetricSample
		for name, v := range metrics.Map() {
			f, ok := numberValue(v)
			if !ok {
				return nil, errors.Newf("%w: metric %q is not numeric", ErrInvalidPayload, name).
					Category(errors.CategoryValidation).
					Build()
			}
			samples = append(samples, MetricSample{Name: name, Value: f, Properties: props, Timestamp: ts})
		}
		return samples, nil
	}

	name, err := obj.GetString("metric")
	if err != nil || name == "" {
		name = topicMetricName(topic)
	}
	if name == "" {
		return nil, errors.Newf("%w: missing metric name", ErrInvalidPayload).Category(errors.CategoryValidation).Build()
	}
	raw, err := obj.GetValue("value")
	if err != nil {
		return nil, errors.Newf("%w: missing value", ErrInvalidPayload).Category(errors.CategoryValidation).Build()
	}
	f, ok := numberValue(raw)
	if !ok {
		return nil, errors.Newf("%w: value of %q is not numeric", ErrInvalidPayload, name).
			Category(errors.CategoryValidation).
			Build()
	}
	return []MetricSample{{Name: name, Value: f, Properties: props, Timestamp: ts}}, nil
}

func properties(obj *jason.Object) map[string]any {
	p, err := obj.GetObject("properties")
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	for k, v := range p.Map() {
		if f, err := v.Float64(); err == nil {
			out[k] = f
			continue
		}
		if s, err := v.String(); err == nil {
			out[k] = s
			continue
		}
		if bv, err := v.Boolean(); err == nil {
			out[k] = bv
		}
	}
	return out
}

// numberValue accepts JSON numbers and numeric strings.
func numberValue(v *jason.Value) (float64, bool) {
	if f, err := v.Float64(); err == nil {
		return f, true
	}
	if s, err := v.String(); err == nil {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}

func topicMetricName(topic string) string {
	topic = strings.TrimRight(topic, "/")
	if i := strings.LastIndex(topic, "/"); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
