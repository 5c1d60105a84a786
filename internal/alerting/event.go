package alerting

import (
	"fmt"
	"sync"
	"time"

	"github.com/MochamaB/FormReporting-sub006/internal/logger"
)

// eventBusBufferSize is the capacity of the async sample channel.
const eventBusBufferSize = 1000

// SampleHandler processes one metric sample.
type SampleHandler func(sample MetricSample)

// EventBus is an async pub/sub for metric samples. Publish never blocks:
// samples go to a buffered channel drained by one worker goroutine, so the
// MQTT callback and the system collector are never held up by handlers.
type EventBus struct {
	handlers []SampleHandler
	mu       sync.RWMutex
	sampleCh chan MetricSample
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	dropped  uint64
	log      logger.Logger
}

// NewEventBus creates a bus and starts its worker.
func NewEventBus(log logger.Logger) *EventBus {
	if log == nil {
		log = logger.Discard()
	}
	b := &EventBus{
		sampleCh: make(chan MetricSample, eventBusBufferSize),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		log:      log.With(logger.String("component", "alert_event_bus")),
	}
	go b.processLoop()
	return b
}

// Subscribe registers a handler.
func (b *EventBus) Subscribe(handler SampleHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish enqueues a sample. It reports false when the bus is stopped or the
// buffer is full and the sample was dropped.
func (b *EventBus) Publish(sample MetricSample) bool {
	select {
	case <-b.stopCh:
		return false
	default:
	}

	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now().UTC()
	}

	select {
	case b.sampleCh <- sample:
		return true
	default:
		b.mu.Lock()
		b.dropped++
		dropped := b.dropped
		b.mu.Unlock()
		if dropped%100 == 1 {
			b.log.Warn("metric sample buffer full, dropping samples",
				logger.String("metric", sample.Name),
				logger.Uint64("dropped_total", dropped))
		}
		return false
	}
}

// Stop drains queued samples and waits for the worker to exit. Safe to call
// more than once.
func (b *EventBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	<-b.done
}

func (b *EventBus) processLoop() {
	defer close(b.done)
	for {
		select {
		case sample := <-b.sampleCh:
			b.dispatch(sample)
		case <-b.stopCh:
			for {
				select {
				case sample := <-b.sampleCh:
					b.dispatch(sample)
				default:
					return
				}
			}
		}
	}
}

func (b *EventBus) dispatch(sample MetricSample) {
	b.mu.RLock()
	handlers := make([]SampleHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.safeCall(handler, sample)
	}
}

// safeCall keeps a panicking handler from killing the worker.
func (b *EventBus) safeCall(handler SampleHandler, sample MetricSample) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("metric sample handler panicked",
				logger.String("metric", sample.Name),
				logger.String("panic", fmt.Sprint(r)))
		}
	}()
	handler(sample)
}
