package notification

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/MochamaB/FormReporting-sub006/internal/clock"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/repository"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
	"github.com/MochamaB/FormReporting-sub006/internal/observability/metrics"
)

const maxErrorMessageLen = 2000

// DispatcherConfig bounds concurrency and provider pressure.
type DispatcherConfig struct {
	Workers        int
	RatePerSecond  float64 // per channel; zero disables limiting
	Burst          int
	SendTimeout    time.Duration
	RetryBatchSize int
	ClaimLease     time.Duration
}

// DefaultDispatcherConfig returns the values used when none are configured.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:        8,
		RatePerSecond:  10,
		Burst:          20,
		SendTimeout:    30 * time.Second,
		RetryBatchSize: 100,
		ClaimLease:     2 * time.Minute,
	}
}

// Dispatcher creates delivery rows, sends them through the channel senders
// and drives each row's state machine. Failures are recorded on the row and
// never returned to the caller.
type Dispatcher struct {
	cfg           DispatcherConfig
	deliveries    repository.DeliveryRepository
	notifications repository.NotificationRepository
	channels      repository.ChannelRepository
	counters      *SendCounters
	clock         clock.Clock
	metrics       *metrics.Metrics
	log           logger.Logger

	sendersMu sync.RWMutex
	senders   map[entities.ChannelType]ChannelSender

	limitersMu sync.Mutex
	limiters   map[uint]*rate.Limiter
}

// NewDispatcher creates a Dispatcher with no senders registered.
func NewDispatcher(
	cfg DispatcherConfig,
	repos *repository.Repositories,
	counters *SendCounters,
	clk clock.Clock,
	m *metrics.Metrics,
	log logger.Logger,
) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.RetryBatchSize <= 0 {
		cfg.RetryBatchSize = DefaultDispatcherConfig().RetryBatchSize
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = DefaultDispatcherConfig().ClaimLease
	}
	return &Dispatcher{
		cfg:           cfg,
		deliveries:    repos.Deliveries,
		notifications: repos.Notifications,
		channels:      repos.Channels,
		counters:      counters,
		clock:         clk,
		metrics:       m,
		log:           log.With(logger.String("component", "dispatcher")),
		senders:       make(map[entities.ChannelType]ChannelSender),
		limiters:      make(map[uint]*rate.Limiter),
	}
}

// Register installs the sender for a channel type, replacing any previous one.
func (d *Dispatcher) Register(channel entities.ChannelType, sender ChannelSender) {
	d.sendersMu.Lock()
	defer d.sendersMu.Unlock()
	d.senders[channel] = sender
}

func (d *Dispatcher) sender(channel entities.ChannelType) (ChannelSender, bool) {
	d.sendersMu.RLock()
	defer d.sendersMu.RUnlock()
	s, ok := d.senders[channel]
	return s, ok
}

func (d *Dispatcher) limiter(channelID uint) *rate.Limiter {
	d.limitersMu.Lock()
	defer d.limitersMu.Unlock()
	l, ok := d.limiters[channelID]
	if !ok {
		limit := rate.Inf
		if d.cfg.RatePerSecond > 0 {
			limit = rate.Limit(d.cfg.RatePerSecond)
		}
		burst := max(d.cfg.Burst, 1)
		l = rate.NewLimiter(limit, burst)
		d.limiters[channelID] = l
	}
	return l
}

// Dispatch creates a pending delivery for every target and attempts the ones
// that are due now. Targets deferred to the future are left for the retry
// sweep. The returned records reflect each row's state after the attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, n *entities.Notification, targets []DeliveryTarget, contents ContentSet) []entities.NotificationDelivery {
	records := make([]entities.NotificationDelivery, len(targets))
	g := &errgroup.Group{}
	g.SetLimit(d.cfg.Workers)
	for i := range targets {
		g.Go(func() error {
			records[i] = d.dispatchOne(ctx, n, &targets[i], contents)
			return nil
		})
	}
	_ = g.Wait()
	return records
}

func (d *Dispatcher) dispatchOne(ctx context.Context, n *entities.Notification, target *DeliveryTarget, contents ContentSet) entities.NotificationDelivery {
	content := contents[target.Channel.Type]
	row := &entities.NotificationDelivery{
		NotificationID:   n.ID,
		UserID:           target.UserID,
		ChannelID:        target.Channel.ID,
		ChannelType:      target.Channel.Type,
		RecipientAddress: target.Address,
		Subject:          content.Subject,
		Body:             content.Body,
		ScheduledFor:     target.EffectiveSendTime,
	}
	created, err := d.deliveries.CreatePending(ctx, row)
	if err != nil {
		d.log.Error("failed to create delivery",
			logger.Uint64("notification_id", uint64(n.ID)),
			logger.Uint64("user_id", uint64(target.UserID)),
			logger.Uint64("channel_id", uint64(target.Channel.ID)),
			logger.Error(err))
		return *row
	}
	if !created {
		return *row
	}
	d.metrics.DeliveryStatus(string(row.ChannelType), string(entities.DeliveryPending))

	now := d.clock.Now()
	if row.ScheduledFor.After(now) {
		return *row
	}
	claimed, err := d.deliveries.Claim(ctx, row.ID, now, d.cfg.ClaimLease)
	if err != nil || !claimed {
		if err != nil {
			d.log.Warn("failed to claim delivery", logger.Uint64("delivery_id", uint64(row.ID)), logger.Error(err))
		}
		return *row
	}
	d.attempt(ctx, row, n, target.Channel)
	return *row
}

// attempt sends one claimed pending delivery and records the outcome on
// row, both in the store and in memory.
func (d *Dispatcher) attempt(ctx context.Context, row *entities.NotificationDelivery, n *entities.Notification, ch *entities.NotificationChannel) {
	now := d.clock.Now()
	switch {
	case !n.IsActive:
		d.cancel(ctx, row, entities.CancelReasonInactive)
		return
	case n.IsExpired(now):
		d.cancel(ctx, row, entities.CancelReasonExpired)
		return
	case !ch.IsEnabled:
		d.cancel(ctx, row, entities.CancelReasonChannelDisabled)
		return
	}

	sender, ok := d.sender(ch.Type)
	if !ok {
		d.fail(ctx, row, ch, entities.DeliveryPending, Permanent(string(ch.Type), ErrNoSender))
		return
	}
	if err := d.limiter(ch.ID).Wait(ctx); err != nil {
		// Claim lease expires and the sweep picks the row up again.
		d.log.Debug("rate limiter wait aborted", logger.Uint64("delivery_id", uint64(row.ID)), logger.Error(err))
		return
	}
	if !d.counters.TryAcquire(ctx, ch) {
		d.cancel(ctx, row, entities.CancelReasonCapExceeded)
		return
	}

	sendCtx := ctx
	if d.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
	}
	start := time.Now()
	externalID, err := sender.Send(sendCtx, Message{
		DeliveryID:     row.ID,
		NotificationID: n.ID,
		UserID:         row.UserID,
		Priority:       n.Priority,
		Channel:        ch,
		Address:        row.RecipientAddress,
		Subject:        row.Subject,
		Body:           row.Body,
	})
	took := time.Since(start)

	if n.IsExpired(d.clock.Now()) {
		d.metrics.SendAttempt(string(ch.Type), "discarded", took)
		d.cancel(ctx, row, entities.CancelReasonExpired)
		return
	}
	if err != nil {
		outcome := "transient"
		if IsPermanent(err) {
			outcome = "permanent"
		}
		d.metrics.SendAttempt(string(ch.Type), outcome, took)
		d.fail(ctx, row, ch, entities.DeliveryPending, err)
		return
	}
	d.metrics.SendAttempt(string(ch.Type), "ok", took)
	d.markSent(ctx, row, ch, externalID)
}

func (d *Dispatcher) markSent(ctx context.Context, row *entities.NotificationDelivery, ch *entities.NotificationChannel, externalID string) {
	now := d.clock.Now()
	updates := map[string]any{
		"status":              entities.DeliverySent,
		"sent_date":           now,
		"external_message_id": externalID,
		"error_message":       "",
		"claimed_until":       nil,
	}
	if !d.transition(ctx, row, []entities.DeliveryStatus{entities.DeliveryPending}, updates) {
		return
	}
	row.Status = entities.DeliverySent
	row.SentDate = &now
	row.ExternalMessageID = externalID
	row.ErrorMessage = ""
	row.ClaimedUntil = nil

	if ch.ConfirmsDelivery {
		return
	}
	d.markDelivered(ctx, row)
}

func (d *Dispatcher) markDelivered(ctx context.Context, row *entities.NotificationDelivery) {
	now := d.clock.Now()
	updates := map[string]any{
		"status":         entities.DeliveryDelivered,
		"delivered_date": now,
	}
	if d.transition(ctx, row, []entities.DeliveryStatus{entities.DeliverySent}, updates) {
		row.Status = entities.DeliveryDelivered
		row.DeliveredDate = &now
	}
}

// fail records a failed attempt of a row currently in from. Permanent errors
// end the row; transient ones re-arm it with exponential backoff until the
// channel's retry budget is spent.
func (d *Dispatcher) fail(ctx context.Context, row *entities.NotificationDelivery, ch *entities.NotificationChannel, from entities.DeliveryStatus, cause error) {
	message := truncateError(cause)
	log := d.log.With(
		logger.Uint64("delivery_id", uint64(row.ID)),
		logger.String("channel", ch.Name),
		logger.Int("retry_count", row.RetryCount))

	if IsPermanent(cause) {
		status := entities.DeliveryFailed
		if from == entities.DeliverySent {
			status = entities.DeliveryBounced
		}
		if d.transition(ctx, row, []entities.DeliveryStatus{from}, map[string]any{
			"status":        status,
			"error_message": message,
			"claimed_until": nil,
		}) {
			row.Status = status
			row.ErrorMessage = message
			log.Warn("delivery failed permanently", logger.String("status", string(status)), logger.Error(cause))
		}
		return
	}

	if row.RetryCount >= ch.MaxRetries {
		if d.transition(ctx, row, []entities.DeliveryStatus{from}, map[string]any{
			"status":          entities.DeliveryFailed,
			"error_message":   message,
			"next_retry_date": nil,
			"claimed_until":   nil,
		}) {
			row.Status = entities.DeliveryFailed
			row.ErrorMessage = message
			row.NextRetryDate = nil
			log.Warn("delivery retries exhausted", logger.Error(cause))
		}
		return
	}

	retryCount := row.RetryCount + 1
	next := d.clock.Now().Add(Backoff(ch.RetryDelayMinutes, retryCount))
	if d.transition(ctx, row, []entities.DeliveryStatus{from}, map[string]any{
		"status":          entities.DeliveryPending,
		"retry_count":     retryCount,
		"next_retry_date": next,
		"error_message":   message,
		"claimed_until":   nil,
	}) {
		row.Status = entities.DeliveryPending
		row.RetryCount = retryCount
		row.NextRetryDate = &next
		row.ErrorMessage = message
		row.ClaimedUntil = nil
		log.Info("delivery scheduled for retry", logger.Time("next_retry", next), logger.Error(cause))
	}
}

func (d *Dispatcher) cancel(ctx context.Context, row *entities.NotificationDelivery, reason string) {
	if d.transition(ctx, row, []entities.DeliveryStatus{entities.DeliveryPending}, map[string]any{
		"status":        entities.DeliveryCancelled,
		"cancel_reason": reason,
		"claimed_until": nil,
	}) {
		row.Status = entities.DeliveryCancelled
		row.CancelReason = reason
		row.ClaimedUntil = nil
		d.log.Info("delivery cancelled",
			logger.Uint64("delivery_id", uint64(row.ID)),
			logger.String("reason", reason))
	}
}

// transition applies updates when the row is still in one of from. A stale
// row means another worker already moved it; that is logged, not an error.
func (d *Dispatcher) transition(ctx context.Context, row *entities.NotificationDelivery, from []entities.DeliveryStatus, updates map[string]any) bool {
	err := d.deliveries.Transition(ctx, row.ID, from, updates)
	if err == nil {
		if status, ok := updates["status"].(entities.DeliveryStatus); ok {
			d.metrics.DeliveryStatus(string(row.ChannelType), string(status))
		}
		return true
	}
	if errors.Is(err, repository.ErrStaleTransition) {
		d.log.Debug("delivery moved concurrently", logger.Uint64("delivery_id", uint64(row.ID)))
	} else {
		d.log.Error("failed to update delivery", logger.Uint64("delivery_id", uint64(row.ID)), logger.Error(err))
	}
	return false
}

// ProcessDue is the retry sweep: it cancels pending deliveries of expired
// notifications, then claims and attempts every pending row whose scheduled
// or retry time has passed. It returns how many rows were attempted.
func (d *Dispatcher) ProcessDue(ctx context.Context) (int, error) {
	now := d.clock.Now()
	if cancelled, err := d.deliveries.CancelExpired(ctx, now); err != nil {
		return 0, err
	} else if cancelled > 0 {
		d.log.Info("cancelled deliveries of expired notifications", logger.Int64("count", cancelled))
	}

	rows, err := d.deliveries.ClaimDue(ctx, now, d.cfg.ClaimLease, d.cfg.RetryBatchSize)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	channels, err := d.channelIndex(ctx)
	if err != nil {
		return 0, err
	}
	notifications := make(map[uint]*entities.Notification)
	for i := range rows {
		id := rows[i].NotificationID
		if _, ok := notifications[id]; ok {
			continue
		}
		n, err := d.notifications.Get(ctx, id)
		if err != nil && !errors.Is(err, repository.ErrNotificationNotFound) {
			return 0, err
		}
		notifications[id] = n
	}

	g := &errgroup.Group{}
	g.SetLimit(d.cfg.Workers)
	for i := range rows {
		row := &rows[i]
		g.Go(func() error {
			n := notifications[row.NotificationID]
			if n == nil {
				d.cancel(ctx, row, entities.CancelReasonInactive)
				return nil
			}
			ch, ok := channels[row.ChannelID]
			if !ok {
				d.fail(ctx, row, &entities.NotificationChannel{ID: row.ChannelID, Name: "unknown"}, entities.DeliveryPending,
					Permanent("channel missing", repository.ErrChannelNotFound))
				return nil
			}
			d.attempt(ctx, row, n, ch)
			return nil
		})
	}
	_ = g.Wait()
	return len(rows), nil
}

func (d *Dispatcher) channelIndex(ctx context.Context) (map[uint]*entities.NotificationChannel, error) {
	list, err := d.channels.List(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[uint]*entities.NotificationChannel, len(list))
	for i := range list {
		index[list[i].ID] = &list[i]
	}
	return index, nil
}

// Confirm applies a provider receipt for a sent delivery. A positive receipt
// delivers it; a permanent negative one bounces it; a transient negative one
// goes through the normal retry policy.
func (d *Dispatcher) Confirm(ctx context.Context, externalID string, delivered bool, reason string, permanent bool) (*entities.NotificationDelivery, error) {
	row, err := d.deliveries.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if row.Status != entities.DeliverySent {
		return row, errors.Newf("delivery %d is %s, not sent", row.ID, row.Status).
			Component(componentNotification).
			Category(errors.CategoryStateTransition).
			Context("delivery_id", row.ID).
			Build()
	}

	if delivered {
		d.markDelivered(ctx, row)
		return row, nil
	}

	ch, err := d.channels.Get(ctx, row.ChannelID)
	if err != nil {
		return nil, err
	}
	var cause error
	if permanent {
		cause = Permanent(reason, nil)
	} else {
		cause = Transient(reason, nil)
	}
	d.fail(ctx, row, ch, entities.DeliverySent, cause)
	return row, nil
}

// MaxBackoff caps the delay between two delivery attempts.
const MaxBackoff = 24 * time.Hour

// Backoff returns delayMinutes * 2^(retryCount-1), capped at MaxBackoff.
func Backoff(delayMinutes, retryCount int) time.Duration {
	if delayMinutes <= 0 || retryCount <= 0 {
		return 0
	}
	if delayMinutes >= int(MaxBackoff/time.Minute) {
		return MaxBackoff
	}
	d := time.Duration(delayMinutes) * time.Minute
	for range retryCount - 1 {
		d *= 2
		if d >= MaxBackoff {
			return MaxBackoff
		}
	}
	return d
}

func truncateError(err error) string {
	return truncateRunes(err.Error(), maxErrorMessageLen)
}
