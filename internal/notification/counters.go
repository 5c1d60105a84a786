package notification

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/repository"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
	"github.com/MochamaB/FormReporting-sub006/internal/observability/metrics"
)

type channelCounter struct {
	count atomic.Int64
	limit atomic.Int64
	name  string
}

// SendCounters is an arena of per-channel daily send counters. Increments
// are lock-free compare-and-swap loops bounded by the channel limit; only
// Reset zeroes them.
type SendCounters struct {
	mu       sync.RWMutex
	counters map[uint]*channelCounter
	day      time.Time

	resetMu sync.Mutex
	repo    repository.ChannelRepository
	metrics *metrics.Metrics
	log     logger.Logger
}

// NewSendCounters creates an empty arena.
func NewSendCounters(repo repository.ChannelRepository, m *metrics.Metrics, log logger.Logger) *SendCounters {
	return &SendCounters{
		counters: make(map[uint]*channelCounter),
		repo:     repo,
		metrics:  m,
		log:      log,
	}
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Load seeds the arena from the channel rows, first zeroing rows whose last
// reset was before today.
func (c *SendCounters) Load(ctx context.Context, now time.Time) error {
	today := dayOf(now)
	if err := c.repo.ResetDailyCounts(ctx, today); err != nil {
		return err
	}
	channels, err := c.repo.List(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.day = today
	for i := range channels {
		counter := c.counterLocked(&channels[i])
		counter.count.Store(int64(channels[i].DailySendCount))
	}
	return nil
}

func (c *SendCounters) counterLocked(ch *entities.NotificationChannel) *channelCounter {
	counter, ok := c.counters[ch.ID]
	if !ok {
		counter = &channelCounter{name: ch.Name}
		counter.count.Store(int64(ch.DailySendCount))
		c.counters[ch.ID] = counter
	}
	counter.limit.Store(int64(ch.DailySendLimit))
	return counter
}

func (c *SendCounters) counter(ch *entities.NotificationChannel) *channelCounter {
	c.mu.RLock()
	counter, ok := c.counters[ch.ID]
	c.mu.RUnlock()
	if ok {
		counter.limit.Store(int64(ch.DailySendLimit))
		return counter
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counterLocked(ch)
}

// TryAcquire takes one send from the channel's daily allowance. It returns
// false, leaving the counter untouched, when the cap is reached. A limit of
// zero means unlimited.
func (c *SendCounters) TryAcquire(ctx context.Context, ch *entities.NotificationChannel) bool {
	counter := c.counter(ch)
	for {
		current := counter.count.Load()
		limit := counter.limit.Load()
		if limit > 0 && current >= limit {
			return false
		}
		if counter.count.CompareAndSwap(current, current+1) {
			c.metrics.ChannelCount(counter.name, current+1)
			if err := c.repo.SaveDailyCount(ctx, ch.ID, int(current+1)); err != nil {
				c.log.Warn("failed to persist daily send count",
					logger.Uint64("channel_id", uint64(ch.ID)),
					logger.Error(err))
			}
			return true
		}
	}
}

// Count returns the current count for a channel id.
func (c *SendCounters) Count(channelID uint) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if counter, ok := c.counters[channelID]; ok {
		return counter.count.Load()
	}
	return 0
}

// Reset zeroes every counter when the calendar date of now differs from the
// arena's current day. It reports whether a reset happened.
func (c *SendCounters) Reset(ctx context.Context, now time.Time) (bool, error) {
	c.resetMu.Lock()
	defer c.resetMu.Unlock()

	today := dayOf(now)
	c.mu.RLock()
	same := c.day.Equal(today)
	c.mu.RUnlock()
	if same {
		return false, nil
	}

	if err := c.repo.ResetDailyCounts(ctx, today); err != nil {
		return false, err
	}

	c.mu.Lock()
	c.day = today
	for _, counter := range c.counters {
		counter.count.Store(0)
		c.metrics.ChannelCount(counter.name, 0)
	}
	c.mu.Unlock()

	c.log.Info("daily send counters reset", logger.Time("date", today))
	return true, nil
}
