package alerting

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/MochamaB/FormReporting-sub006/internal/clock"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
)

// hostStats is the part of gopsutil the collector reads.
type hostStats interface {
	CPUPercent(ctx context.Context) (float64, error)
	MemoryPercent(ctx context.Context) (float64, error)
	DiskPercent(ctx context.Context, path string) (float64, error)
}

type gopsutilStats struct{}

func (gopsutilStats) CPUPercent(ctx context.Context) (float64, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, nil
	}
	return percents[0], nil
}

func (gopsutilStats) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

func (gopsutilStats) DiskPercent(ctx context.Context, path string) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent, nil
}

// SystemCollector samples host CPU, memory and disk usage onto the bus.
type SystemCollector struct {
	stats    hostStats
	bus      *EventBus
	diskPath string
	host     string
	clock    clock.Clock
	log      logger.Logger
}

// NewSystemCollector creates a collector publishing to bus.
func NewSystemCollector(bus *EventBus, diskPath string, clk clock.Clock, log logger.Logger) *SystemCollector {
	if diskPath == "" {
		diskPath = "/"
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	host, _ := os.Hostname()
	return &SystemCollector{
		stats:    gopsutilStats{},
		bus:      bus,
		diskPath: diskPath,
		host:     host,
		clock:    clk,
		log:      log.With(logger.String("component", "system_collector")),
	}
}

// Collect takes one sample of every metric. A failing metric is logged and
// skipped; the others are still published.
func (c *SystemCollector) Collect(ctx context.Context) int {
	now := c.clock.Now()
	hostProps := map[string]any{PropertyHost: c.host}

	type reading struct {
		metric string
		read   func() (float64, error)
		props  map[string]any
	}
	readings := []reading{
		{MetricCPUUsage, func() (float64, error) { return c.stats.CPUPercent(ctx) }, hostProps},
		{MetricMemoryUsage, func() (float64, error) { return c.stats.MemoryPercent(ctx) }, hostProps},
		{MetricDiskUsage, func() (float64, error) { return c.stats.DiskPercent(ctx, c.diskPath) },
			map[string]any{PropertyHost: c.host, PropertyPath: c.diskPath}},
	}

	published := 0
	for _, r := range readings {
		v, err := r.read()
		if err != nil {
			c.log.Warn("failed to read system metric", logger.String("metric", r.metric), logger.Error(err))
			continue
		}
		if c.bus.Publish(MetricSample{Name: r.metric, Value: v, Properties: r.props, Timestamp: now}) {
			published++
		}
	}
	return published
}

// Run collects every interval until ctx is done.
func (c *SystemCollector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.Collect(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}
