package alerting

import (
	"context"
	"slices"

	"github.com/MochamaB/FormReporting-sub006/internal/clock"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/repository"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
	"github.com/MochamaB/FormReporting-sub006/internal/observability/metrics"
)

// autoResolveNote is stored as the resolution note of auto-resolved rows.
const autoResolveNote = "Automatically resolved: resolve condition met"

// ErrInvalidStateTransition is returned when a history row is not in a state
// the requested operation may leave from.
var ErrInvalidStateTransition = errors.NewStd("invalid alert state transition")

// Manager owns the acknowledge/resolve lifecycle of alert history rows and
// the escalation sweep.
type Manager struct {
	alerts   repository.AlertRepository
	notifier *ActionDispatcher
	clock    clock.Clock
	metrics  *metrics.Metrics
	log      logger.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(alerts repository.AlertRepository, notifier *ActionDispatcher, clk clock.Clock, m *metrics.Metrics, log logger.Logger) *Manager {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Manager{alerts: alerts, notifier: notifier, clock: clk, metrics: m, log: log}
}

// Acknowledge moves a triggered row to acknowledged.
func (m *Manager) Acknowledge(ctx context.Context, historyID, userID uint, notes string) (*entities.AlertHistory, error) {
	return m.transition(ctx, historyID, entities.AlertAcknowledged, []entities.AlertStatus{entities.AlertTriggered},
		func(h *entities.AlertHistory, updates map[string]any) {
			now := m.clock.Now()
			updates["acknowledged_by"] = userID
			updates["acknowledged_date"] = now
			updates["acknowledge_notes"] = notes
			updates["time_to_acknowledge_minutes"] = entities.MinutesBetween(h.TriggeredDate, now)
		})
}

// Resolve closes a triggered or acknowledged row on behalf of userID.
func (m *Manager) Resolve(ctx context.Context, historyID, userID uint, notes string) (*entities.AlertHistory, error) {
	return m.transition(ctx, historyID, entities.AlertResolved, entities.OpenAlertStatuses,
		func(h *entities.AlertHistory, updates map[string]any) {
			now := m.clock.Now()
			updates["resolved_by"] = userID
			updates["resolved_date"] = now
			updates["resolution_notes"] = notes
			updates["time_to_resolve_minutes"] = entities.MinutesBetween(h.TriggeredDate, now)
		})
}

// AutoResolve closes an open row without an actor.
func (m *Manager) AutoResolve(ctx context.Context, historyID uint) (*entities.AlertHistory, error) {
	return m.transition(ctx, historyID, entities.AlertAutoResolved, entities.OpenAlertStatuses,
		func(h *entities.AlertHistory, updates map[string]any) {
			now := m.clock.Now()
			updates["resolved_date"] = now
			updates["resolution_notes"] = autoResolveNote
			updates["time_to_resolve_minutes"] = entities.MinutesBetween(h.TriggeredDate, now)
		})
}

// Cancel withdraws a triggered or acknowledged row, e.g. a false positive.
func (m *Manager) Cancel(ctx context.Context, historyID, userID uint, notes string) (*entities.AlertHistory, error) {
	return m.transition(ctx, historyID, entities.AlertCancelled, entities.OpenAlertStatuses,
		func(_ *entities.AlertHistory, updates map[string]any) {
			updates["cancelled_by"] = userID
			updates["cancelled_date"] = m.clock.Now()
			updates["resolution_notes"] = notes
		})
}

func (m *Manager) transition(
	ctx context.Context,
	historyID uint,
	to entities.AlertStatus,
	from []entities.AlertStatus,
	fill func(h *entities.AlertHistory, updates map[string]any),
) (*entities.AlertHistory, error) {
	h, err := m.history(ctx, historyID)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(from, h.Status) {
		return nil, invalidTransition(h, to)
	}

	updates := map[string]any{"status": to}
	fill(h, updates)
	if err := m.alerts.TransitionHistory(ctx, historyID, from, updates); err != nil {
		if errors.Is(err, repository.ErrStaleTransition) {
			// Lost a race; report against the state that won.
			if current, gerr := m.history(ctx, historyID); gerr == nil {
				return nil, invalidTransition(current, to)
			}
			return nil, invalidTransition(h, to)
		}
		return nil, errors.New(err).
			Component(componentAlerting).
			Category(errors.CategoryDatabase).
			Context("history_id", historyID).
			Build()
	}

	m.log.Info("alert history transitioned",
		logger.Uint64("history_id", uint64(historyID)),
		logger.Uint64("alert_id", uint64(h.AlertID)),
		logger.String("from", string(h.Status)),
		logger.String("to", string(to)))
	return m.history(ctx, historyID)
}

func (m *Manager) history(ctx context.Context, id uint) (*entities.AlertHistory, error) {
	h, err := m.alerts.GetHistory(ctx, id)
	if err != nil {
		category := errors.CategoryDatabase
		if errors.Is(err, repository.ErrAlertHistoryNotFound) {
			category = errors.CategoryNotFound
		}
		return nil, errors.New(err).
			Component(componentAlerting).
			Category(category).
			Context("history_id", id).
			Build()
	}
	return h, nil
}

func invalidTransition(h *entities.AlertHistory, to entities.AlertStatus) error {
	return errors.Newf("%w: %s -> %s", ErrInvalidStateTransition, h.Status, to).
		Component(componentAlerting).
		Category(errors.CategoryStateTransition).
		Context("history_id", h.ID).
		Context("status", string(h.Status)).
		Build()
}

// EscalateDue sends the escalation notification for every triggered row
// left unacknowledged past its definition's escalation delay. The
// IsEscalated flag is claimed before sending, so re-running the sweep
// never escalates a row twice.
func (m *Manager) EscalateDue(ctx context.Context) (int, error) {
	now := m.clock.Now()
	candidates, err := m.alerts.ListEscalationCandidates(ctx, 0)
	if err != nil {
		return 0, errors.New(err).
			Component(componentAlerting).
			Category(errors.CategoryDatabase).
			Build()
	}

	escalated := 0
	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return escalated, err
		}
		h := &candidates[i]
		def := &h.Alert
		rules := def.EscalationRules.Data()
		if !rules.Enabled() {
			continue
		}
		if now.Sub(h.TriggeredDate) <= minutes(rules.AfterMinutes) {
			continue
		}

		claimed, err := m.alerts.MarkEscalated(ctx, h.ID, now)
		if err != nil {
			m.log.Error("failed to mark alert history escalated",
				logger.Uint64("history_id", uint64(h.ID)),
				logger.Error(err))
			continue
		}
		if !claimed {
			continue
		}

		notificationID, err := m.notifier.NotifyEscalated(ctx, def, h, now)
		if err != nil {
			m.log.Error("failed to send escalation notification",
				logger.Uint64("history_id", uint64(h.ID)),
				logger.Uint64("alert_id", uint64(def.ID)),
				logger.Error(err))
			continue
		}
		if notificationID != 0 {
			if err := m.alerts.SetEscalationNotification(ctx, h.ID, notificationID); err != nil {
				m.log.Warn("failed to link escalation notification",
					logger.Uint64("history_id", uint64(h.ID)),
					logger.Error(err))
			}
		}

		m.metrics.Escalation()
		escalated++
		m.log.Info("alert escalated",
			logger.Uint64("history_id", uint64(h.ID)),
			logger.Uint64("alert_id", uint64(def.ID)),
			logger.Uint64("notification_id", uint64(notificationID)),
			logger.Int("minutes_open", entities.MinutesBetween(h.TriggeredDate, now)))
	}
	return escalated, nil
}
