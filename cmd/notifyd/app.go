package main

import (
	"context"
	"io"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/MochamaB/FormReporting-sub006/internal/alerting"
	"github.com/MochamaB/FormReporting-sub006/internal/conf"
	datastore "github.com/MochamaB/FormReporting-sub006/internal/datastore/v2"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/repository"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
	"github.com/MochamaB/FormReporting-sub006/internal/notification"
	"github.com/MochamaB/FormReporting-sub006/internal/notification/providers"
	"github.com/MochamaB/FormReporting-sub006/internal/observability/metrics"
	"github.com/MochamaB/FormReporting-sub006/internal/scheduler"
)

const telemetryFlushTimeout = 2 * time.Second

// app holds everything a command needs. Commands build only the parts they
// use: migrate stops after the datastore, serve builds it all.
type app struct {
	settings *conf.Settings
	log      logger.Logger
	store    *datastore.Manager
	repos    *repository.Repositories

	registry      *prometheus.Registry
	metrics       *metrics.Metrics
	notifications *notification.Service
	senders       *providers.Senders
	nats          *nats.Conn
	alerts        *alerting.System
}

// newApp loads settings, sets up logging and telemetry and opens the
// datastore.
func newApp(configPath string, out io.Writer) (*app, error) {
	settings, err := conf.Load(configPath)
	if err != nil {
		return nil, err
	}
	level, err := logger.ParseLevel(settings.Log.Level)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(out, settings.Log.Format, level)
	if err != nil {
		return nil, err
	}

	if err := errors.InitTelemetry(errors.TelemetryConfig{
		DSN:         settings.Telemetry.SentryDSN,
		Environment: settings.Telemetry.Environment,
		Release:     "notifyd@" + version,
	}); err != nil {
		log.Warn("telemetry disabled", logger.Error(err))
	}

	store, err := datastore.Open(datastore.Config{
		Driver:          settings.Database.Driver,
		Path:            settings.Database.Path,
		DSN:             settings.Database.DSN,
		MaxOpenConns:    settings.Database.MaxOpenConns,
		MaxIdleConns:    settings.Database.MaxIdleConns,
		ConnMaxLifetime: settings.Database.ConnMaxLifetime.Std(),
		Debug:           settings.Database.Debug,
		Logger:          log,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		settings: settings,
		log:      log,
		store:    store,
		repos:    repository.New(store.DB()),
	}, nil
}

func (a *app) migrate() error {
	return a.store.Initialize()
}

// seed inserts the notification and alerting defaults. Both are idempotent.
func (a *app) seed(ctx context.Context) error {
	return alerting.SeedDefaults(ctx, a.repos, a.log)
}

// buildServices wires metrics, the notification service with its senders
// and the alerting system.
func (a *app) buildServices() error {
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(a.registry)
	if err != nil {
		return err
	}
	a.metrics = m

	if url := a.settings.Providers.NatsURL; url != "" {
		nc, err := nats.Connect(url,
			nats.Name("notifyd"),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if err != nil {
					a.log.Warn("nats disconnected", logger.Error(err))
				}
			}))
		if err != nil {
			// Webhooks fall back to HTTP without NATS.
			a.log.Warn("nats unavailable, webhooks will use http",
				logger.String("url", url),
				logger.Error(err))
		} else {
			a.nats = nc
		}
	}

	directory := notification.NewStaticDirectory(a.settings.Directory.Users)
	d := a.settings.Dispatcher
	a.notifications = notification.Initialize(&notification.ServiceConfig{
		Repos:     a.repos,
		Members:   directory,
		Addresses: directory,
		Dispatcher: notification.DispatcherConfig{
			Workers:        d.Workers,
			RatePerSecond:  d.RatePerSecond,
			Burst:          d.Burst,
			SendTimeout:    d.SendTimeout.Std(),
			RetryBatchSize: d.RetryBatchSize,
			ClaimLease:     d.ClaimLease.Std(),
		},
		Metrics: m,
		Logger:  a.log,
	})

	a.senders = providers.New(a.settings.Providers, d.SendTimeout, a.nats, a.log)
	a.senders.RegisterAll(a.notifications.Dispatcher())

	a.alerts = alerting.New(alerting.Config{
		Repos:   a.repos,
		Metrics: m,
		Logger:  a.log,
	})
	return nil
}

// newScheduler registers every periodic sweep.
func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	s := a.settings.Scheduler
	sched := scheduler.New(a.metrics, a.log)
	tasks := []scheduler.Task{
		{Name: taskAlertTick, Interval: s.AlertTick.Std(), Run: a.runAlertTick},
		{Name: taskRetrySweep, Interval: s.RetrySweep.Std(), Run: a.runRetrySweep},
		{Name: taskEscalation, Interval: s.EscalationSweep.Std(), Run: a.runEscalation},
		{Name: taskDigestFlush, Interval: s.DigestFlush.Std(), Run: a.runDigestFlush},
		{Name: taskCounterReset, Interval: s.CounterReset.Std(), Run: a.runCounterReset, RunOnStart: true},
		{Name: taskHistoryCleanup, Interval: s.HistoryCleanup.Std(), Run: a.runHistoryCleanup},
	}
	for _, t := range tasks {
		if err := sched.Add(t); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	if a.alerts != nil {
		a.alerts.Stop()
	}
	if a.nats != nil {
		a.nats.Close()
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("failed to close datastore", logger.Error(err))
	}
	errors.FlushTelemetry(telemetryFlushTimeout)
}
