package alerting

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/MochamaB/FormReporting-sub006/internal/logger"
)

func TestEventBus_SubscribeAndPublish(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewEventBus(logger.Discard())
	var received atomic.Pointer[MetricSample]
	bus.Subscribe(func(s MetricSample) { received.Store(&s) })

	require.True(t, bus.Publish(MetricSample{Name: MetricDiskUsage, Value: 81, Properties: map[string]any{PropertyPath: "/"}}))

	require.Eventually(t, func() bool { return received.Load() != nil }, time.Second, 5*time.Millisecond)
	got := received.Load()
	assert.Equal(t, MetricDiskUsage, got.Name)
	assert.Equal(t, "/", got.Properties[PropertyPath])
	assert.False(t, got.Timestamp.IsZero(), "publish stamps samples without a timestamp")
	bus.Stop()
}

func TestEventBus_MultipleHandlers(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewEventBus(logger.Discard())
	var count atomic.Int32
	for range 3 {
		bus.Subscribe(func(MetricSample) { count.Add(1) })
	}
	bus.Publish(MetricSample{Name: MetricCPUUsage})

	assert.Eventually(t, func() bool { return count.Load() == 3 }, time.Second, 5*time.Millisecond)
	bus.Stop()
}

func TestEventBus_PanickingHandlerIsIsolated(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewEventBus(logger.Discard())
	var after atomic.Int32
	bus.Subscribe(func(MetricSample) { panic("boom") })
	bus.Subscribe(func(MetricSample) { after.Add(1) })

	bus.Publish(MetricSample{Name: MetricCPUUsage})
	bus.Publish(MetricSample{Name: MetricCPUUsage})

	assert.Eventually(t, func() bool { return after.Load() == 2 }, time.Second, 5*time.Millisecond)
	bus.Stop()
}

func TestEventBus_StopDrainsQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewEventBus(logger.Discard())
	release := make(chan struct{})
	var handled atomic.Int32
	bus.Subscribe(func(MetricSample) {
		<-release
		handled.Add(1)
	})
	for range 10 {
		require.True(t, bus.Publish(MetricSample{Name: MetricCPUUsage}))
	}
	close(release)
	bus.Stop()

	assert.Equal(t, int32(10), handled.Load())
	assert.False(t, bus.Publish(MetricSample{Name: MetricCPUUsage}), "publish after stop is rejected")
	bus.Stop()
}

func TestEventBus_DropsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewEventBus(logger.Discard())
	release := make(chan struct{})
	bus.Subscribe(func(MetricSample) { <-release })

	accepted := 0
	for range eventBusBufferSize + 10 {
		if bus.Publish(MetricSample{Name: MetricCPUUsage}) {
			accepted++
		}
	}
	assert.Less(t, accepted, eventBusBufferSize+10)
	close(release)
	bus.Stop()
}
