package alerting

import (
	"context"
	"time"

	"github.com/MochamaB/FormReporting-sub006/internal/clock"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/repository"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
	"github.com/MochamaB/FormReporting-sub006/internal/notification"
	"github.com/MochamaB/FormReporting-sub006/internal/observability/metrics"
)

// Config wires the alerting subsystem. A nil Notifications uses the
// process-wide notification service.
type Config struct {
	Repos         *repository.Repositories
	Notifications NotificationCreator
	Clock         clock.Clock
	Metrics       *metrics.Metrics
	Logger        logger.Logger
	Concurrency   int
	MaxSampleAge  time.Duration
}

// System bundles the alerting components built by New.
type System struct {
	Bus        *EventBus
	Tracker    *MetricTracker
	Dispatcher *ActionDispatcher
	Manager    *Manager
	Engine     *Engine
}

// New builds the alerting components. The tracker is subscribed to the bus
// so every published sample becomes visible to the evaluator.
func New(cfg Config) *System {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	log = log.With(logger.String("component", componentAlerting))

	maxAge := cfg.MaxSampleAge
	if maxAge <= 0 {
		maxAge = DefaultMaxSampleAge
	}

	creator := cfg.Notifications
	if creator == nil {
		if svc := notification.GetService(); svc != nil {
			creator = svc
		} else {
			log.Warn("no notification service installed, alert notifications will fail")
		}
	}

	bus := NewEventBus(log)
	tracker := NewMetricTracker()
	bus.Subscribe(tracker.Record)

	dispatcher := NewActionDispatcher(creator, cfg.Repos.Templates, log)
	manager := NewManager(cfg.Repos.Alerts, dispatcher, clk, cfg.Metrics, log)
	engine := NewEngine(EngineConfig{
		Alerts:      cfg.Repos.Alerts,
		Evaluator:   NewMetricEvaluator(tracker, maxAge),
		Notifier:    dispatcher,
		Lifecycle:   manager,
		Clock:       clk,
		Metrics:     cfg.Metrics,
		Logger:      log,
		Concurrency: cfg.Concurrency,
	})

	return &System{
		Bus:        bus,
		Tracker:    tracker,
		Dispatcher: dispatcher,
		Manager:    manager,
		Engine:     engine,
	}
}

// Stop drains the event bus.
func (s *System) Stop() {
	s.Bus.Stop()
}

// SeedDefaults ensures the alert templates and built-in definitions exist.
// Definitions are matched by name, so a partial seed from an earlier run
// completes on restart and user edits to seeded definitions survive.
func SeedDefaults(ctx context.Context, repos *repository.Repositories, log logger.Logger) error {
	if err := notification.SeedDefaults(ctx, repos, log, DefaultTemplates()...); err != nil {
		return err
	}

	tmpl, err := repos.Templates.GetByCode(ctx, TemplateAlertTriggered)
	if err != nil {
		return errors.New(err).
			Component(componentAlerting).
			Category(errors.CategoryConfiguration).
			Context("template", TemplateAlertTriggered).
			Build()
	}

	created := 0
	defaults := DefaultDefinitions(tmpl.ID)
	for i := range defaults {
		n, err := repos.Alerts.CountDefinitionsByName(ctx, defaults[i].Name)
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		if err := repos.Alerts.CreateDefinition(ctx, &defaults[i]); err != nil {
			return err
		}
		created++
	}
	if created > 0 {
		log.Info("seeded default alert definitions", logger.Int("created", created))
	}
	return nil
}
