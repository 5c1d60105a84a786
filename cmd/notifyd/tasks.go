package main

import (
	"context"

	"github.com/MochamaB/FormReporting-sub006/internal/logger"
)

// Scheduler task names, also used as metric labels.
const (
	taskAlertTick      = "alert_tick"
	taskRetrySweep     = "retry_sweep"
	taskEscalation     = "escalation_sweep"
	taskDigestFlush    = "digest_flush"
	taskCounterReset   = "counter_reset"
	taskHistoryCleanup = "history_cleanup"
)

func (a *app) runAlertTick(ctx context.Context) error {
	res, err := a.alerts.Engine.Tick(ctx)
	if err != nil {
		return err
	}
	if res.Triggered() > 0 {
		a.log.Info("alert tick completed",
			logger.Int("evaluated", res.Evaluated),
			logger.Int("triggered", res.Triggered()))
	}
	return nil
}

func (a *app) runRetrySweep(ctx context.Context) error {
	n, err := a.notifications.ProcessDue(ctx)
	if n > 0 {
		a.log.Debug("retry sweep completed", logger.Int("processed", n))
	}
	return err
}

func (a *app) runEscalation(ctx context.Context) error {
	_, err := a.alerts.Manager.EscalateDue(ctx)
	return err
}

func (a *app) runDigestFlush(ctx context.Context) error {
	_, err := a.notifications.FlushDigests(ctx)
	return err
}

func (a *app) runCounterReset(ctx context.Context) error {
	reset, err := a.notifications.ResetCounters(ctx)
	if reset {
		a.log.Info("daily send counters reset")
	}
	return err
}

func (a *app) runHistoryCleanup(ctx context.Context) error {
	_, err := a.alerts.Engine.CleanupHistory(ctx, a.settings.Scheduler.HistoryRetentionDays)
	return err
}
