package notification

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
)

const (
	digestBatchSize = 500
	// maxDigestAttempts bounds how often a failing group is retried before
	// its entries are retired.
	maxDigestAttempts = 5
)

// errDigestUndeliverable marks a group that no retry can send.
var errDigestUndeliverable = errors.NewStd("digest undeliverable")

// NextDigestDue returns when an entry queued at t for frequency is flushed:
// the next hour boundary, the next midnight, or the next Monday midnight.
func NextDigestDue(frequency entities.Frequency, t time.Time) time.Time {
	t = t.UTC()
	switch frequency {
	case entities.FrequencyHourly:
		return t.Truncate(time.Hour).Add(time.Hour)
	case entities.FrequencyDaily:
		return dayOf(t).AddDate(0, 0, 1)
	case entities.FrequencyWeekly:
		days := (int(time.Monday) - int(t.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		return dayOf(t).AddDate(0, 0, days)
	default:
		return t
	}
}

func (s *Service) enqueueDigest(ctx context.Context, n *entities.Notification, target DeliveryTarget) error {
	return s.repos.Digests.Enqueue(ctx, &entities.DigestEntry{
		UserID:         target.UserID,
		ChannelID:      target.Channel.ID,
		NotificationID: n.ID,
		Frequency:      target.Frequency,
		Title:          n.Title,
		DueDate:        NextDigestDue(target.Frequency, target.EffectiveSendTime),
	})
}

type digestKey struct {
	userID    uint
	channelID uint
	frequency entities.Frequency
}

// FlushDigests sends one combined notification per (user, channel,
// frequency) group of due entries and marks them flushed. It returns the
// number of digests sent.
func (s *Service) FlushDigests(ctx context.Context) (int, error) {
	now := s.clock.Now()
	entries, err := s.repos.Digests.ListDue(ctx, now, digestBatchSize)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	groups := make(map[digestKey][]entities.DigestEntry)
	var order []digestKey
	for _, e := range entries {
		key := digestKey{userID: e.UserID, channelID: e.ChannelID, frequency: e.Frequency}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], e)
	}

	tmpl, err := s.Template(ctx, TemplateDigest)
	if err != nil {
		return 0, err
	}
	channels, err := s.dispatcher.channelIndex(ctx)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, key := range order {
		group := groups[key]
		ch, ok := channels[key.channelID]
		if !ok {
			s.failGroup(ctx, key, group, fmt.Errorf("%w: channel %d no longer exists", errDigestUndeliverable, key.channelID))
			continue
		}
		if err := s.flushGroup(ctx, tmpl, ch, key, group); err != nil {
			s.failGroup(ctx, key, group, err)
			continue
		}
		sent++
	}
	return sent, nil
}

// failGroup records a failed flush. Undeliverable groups and groups out of
// attempts are retired so they stop occupying the due batch.
func (s *Service) failGroup(ctx context.Context, key digestKey, group []entities.DigestEntry, cause error) {
	ids := make([]uint, 0, len(group))
	attempts := 0
	for _, e := range group {
		ids = append(ids, e.ID)
		attempts = max(attempts, e.Attempts)
	}
	attempts++

	reason := truncateError(cause)
	fields := []logger.Field{
		logger.Uint64("user_id", uint64(key.userID)),
		logger.Uint64("channel_id", uint64(key.channelID)),
		logger.Int("entries", len(ids)),
		logger.Int("attempts", attempts),
		logger.Error(cause),
	}

	if errors.Is(cause, errDigestUndeliverable) || attempts >= maxDigestAttempts {
		if _, err := s.repos.Digests.MarkFailed(ctx, ids, s.clock.Now(), reason); err != nil {
			s.log.Error("failed to retire digest entries", append(fields, logger.String("retire_error", err.Error()))...)
			return
		}
		s.log.Warn("digest entries retired without delivery", fields...)
		return
	}
	if err := s.repos.Digests.RecordAttempt(ctx, ids, reason); err != nil {
		s.log.Error("failed to record digest attempt", append(fields, logger.String("record_error", err.Error()))...)
		return
	}
	s.log.Error("failed to flush digest", fields...)
}

func (s *Service) flushGroup(ctx context.Context, tmpl *entities.NotificationTemplate, ch *entities.NotificationChannel, key digestKey, group []entities.DigestEntry) error {
	items := make([]string, 0, len(group))
	ids := make([]uint, 0, len(group))
	for _, e := range group {
		items = append(items, "- "+e.Title)
		ids = append(ids, e.ID)
	}
	slices.Sort(ids)

	placeholders := map[string]string{
		"Count":     strconv.Itoa(len(group)),
		"Items":     strings.Join(items, "\n"),
		"Frequency": string(key.frequency),
	}
	contents, err := s.renderer.RenderAll(tmpl, placeholders, []entities.ChannelType{entities.ChannelInApp, ch.Type})
	if err != nil {
		return err
	}

	pref, err := s.resolver.Preference(ctx, key.userID, ch.ID, tmpl.NotificationType)
	if err != nil {
		return err
	}
	address, err := s.resolver.AddressFor(ctx, key.userID, ch, pref)
	if err != nil {
		return err
	}
	if address == "" {
		return fmt.Errorf("%w: no %s address for user %d", errDigestUndeliverable, ch.Type, key.userID)
	}

	inApp := contents[entities.ChannelInApp]
	templateID := tmpl.ID
	n := &entities.Notification{
		TemplateID:       &templateID,
		Type:             tmpl.NotificationType,
		Title:            inApp.Subject,
		Message:          inApp.Body,
		Priority:         entities.PriorityNormal,
		SourceEntityType: "digest",
		SourceEntityID:   fmt.Sprintf("%d:%d:%s:%d", key.userID, key.channelID, key.frequency, ids[0]),
		IsActive:         true,
	}
	if err := s.repos.Notifications.CreateWithRecipients(ctx, n, []uint{key.userID}); err != nil {
		return err
	}

	s.dispatcher.Dispatch(ctx, n, []DeliveryTarget{{
		UserID:            key.userID,
		Channel:           ch,
		Address:           address,
		EffectiveSendTime: s.clock.Now(),
		Frequency:         entities.FrequencyImmediate,
	}}, contents)

	_, err = s.repos.Digests.MarkFlushed(ctx, ids, s.clock.Now(), n.ID)
	return err
}
