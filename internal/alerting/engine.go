package alerting

import (
	"context"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/MochamaB/FormReporting-sub006/internal/clock"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/repository"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
	"github.com/MochamaB/FormReporting-sub006/internal/observability/metrics"
)

const (
	defaultConcurrency = 4

	parsedCacheTTL     = 30 * time.Minute
	parsedCacheCleanup = time.Hour
)

// Outcome is what one evaluation of one definition did.
type Outcome string

// Evaluation outcomes, also used as the metrics label.
const (
	OutcomeInactive     Outcome = "inactive"
	OutcomeNotDue       Outcome = "not_due"
	OutcomeCooldown     Outcome = "cooldown"
	OutcomeFalse        Outcome = "false"
	OutcomeTriggered    Outcome = "triggered"
	OutcomeAutoResolved Outcome = "auto_resolved"
	OutcomeUnavailable  Outcome = "unavailable"
	OutcomeInvalid      Outcome = "invalid"
	OutcomeError        Outcome = "error"
	OutcomeRaced        Outcome = "raced"
)

// TickResult counts outcomes of one evaluation tick.
type TickResult struct {
	Evaluated int             `json:"evaluated"`
	Outcomes  map[Outcome]int `json:"outcomes"`
}

// Triggered returns how many definitions fired.
func (r TickResult) Triggered() int { return r.Outcomes[OutcomeTriggered] }

type parsedConditions struct {
	triggerSpec     entities.ConditionSpec
	autoResolveSpec entities.ConditionSpec
	trigger         Condition
	autoResolve     Condition
}

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Alerts      repository.AlertRepository
	Evaluator   RuleEvaluator
	Notifier    *ActionDispatcher
	Lifecycle   *Manager
	Clock       clock.Clock
	Metrics     *metrics.Metrics
	Logger      logger.Logger
	Concurrency int
}

// Engine evaluates alert definitions on each tick.
type Engine struct {
	alerts      repository.AlertRepository
	evaluator   RuleEvaluator
	notifier    *ActionDispatcher
	lifecycle   *Manager
	clock       clock.Clock
	metrics     *metrics.Metrics
	log         logger.Logger
	concurrency int

	// Parsed conditions by definition id, reparsed when the stored spec changes.
	parsed *cache.Cache
}

// NewEngine creates an alert evaluation engine.
func NewEngine(cfg EngineConfig) *Engine {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Engine{
		alerts:      cfg.Alerts,
		evaluator:   cfg.Evaluator,
		notifier:    cfg.Notifier,
		lifecycle:   cfg.Lifecycle,
		clock:       clk,
		metrics:     cfg.Metrics,
		log:         log,
		concurrency: concurrency,
		parsed:      cache.New(parsedCacheTTL, parsedCacheCleanup),
	}
}

// Tick evaluates every active definition once. Definitions are evaluated
// concurrently and independently: one failing definition never affects the
// others, and only a failure to list definitions is returned.
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	result := TickResult{Outcomes: make(map[Outcome]int)}
	defs, err := e.alerts.ListActive(ctx)
	if err != nil {
		return result, errors.New(err).
			Component(componentAlerting).
			Category(errors.CategoryDatabase).
			Build()
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i := range defs {
		def := &defs[i]
		g.Go(func() error {
			outcome := e.Evaluate(gctx, def)
			mu.Lock()
			result.Evaluated++
			result.Outcomes[outcome]++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if n := result.Triggered(); n > 0 {
		e.log.Info("alert tick complete",
			logger.Int("evaluated", result.Evaluated),
			logger.Int("triggered", n),
			logger.Int("auto_resolved", result.Outcomes[OutcomeAutoResolved]))
	}
	return result, nil
}

// Evaluate runs the evaluation algorithm for one definition at the current
// clock time.
func (e *Engine) Evaluate(ctx context.Context, def *entities.AlertDefinition) Outcome {
	outcome := e.evaluate(ctx, def, e.clock.Now())
	e.metrics.Evaluation(string(outcome))
	return outcome
}

func (e *Engine) evaluate(ctx context.Context, def *entities.AlertDefinition, now time.Time) Outcome {
	if !def.IsActive {
		return OutcomeInactive
	}
	if !def.DueForCheck(now) {
		return OutcomeNotDue
	}
	log := e.log.With(logger.Uint64("alert_id", uint64(def.ID)), logger.String("alert", def.Name))

	conds, err := e.conditions(def)
	if err != nil {
		log.Error("alert condition cannot be parsed", logger.Error(err))
		e.markChecked(ctx, def, now)
		return OutcomeInvalid
	}

	if conds.autoResolve != nil {
		if resolved, ok := e.tryAutoResolve(ctx, def, conds.autoResolve, now, log); ok {
			e.markChecked(ctx, def, now)
			if resolved > 0 {
				return OutcomeAutoResolved
			}
		}
	}

	if def.InCooldown(now) {
		return OutcomeCooldown
	}
	defer e.markChecked(ctx, def, now)

	fired, detail, err := e.evaluator.Evaluate(ctx, conds.trigger, now)
	if err != nil {
		if errors.Is(err, ErrMetricUnavailable) {
			log.Debug("alert condition skipped", logger.Error(err))
			return OutcomeUnavailable
		}
		log.Warn("alert condition evaluation failed", logger.Error(err))
		return OutcomeError
	}
	if !fired {
		return OutcomeFalse
	}

	return e.fire(ctx, def, detail, now, log)
}

// tryAutoResolve evaluates the resolve condition when the definition has
// open rows. ok is false when nothing was attempted.
func (e *Engine) tryAutoResolve(ctx context.Context, def *entities.AlertDefinition, cond Condition, now time.Time, log logger.Logger) (resolved int, ok bool) {
	open, err := e.alerts.ListOpenHistory(ctx, def.ID)
	if err != nil {
		log.Error("failed to list open alert history", logger.Error(err))
		return 0, false
	}
	if len(open) == 0 {
		return 0, false
	}

	met, _, err := e.evaluator.Evaluate(ctx, cond, now)
	if err != nil {
		log.Debug("auto-resolve condition not evaluated", logger.Error(err))
		return 0, false
	}
	if !met {
		return 0, false
	}

	for i := range open {
		if _, err := e.lifecycle.AutoResolve(ctx, open[i].ID); err != nil {
			log.Warn("failed to auto-resolve alert history",
				logger.Uint64("history_id", uint64(open[i].ID)),
				logger.Error(err))
			continue
		}
		resolved++
	}
	return resolved, true
}

func (e *Engine) fire(ctx context.Context, def *entities.AlertDefinition, detail map[string]any, now time.Time, log logger.Logger) Outcome {
	if detail == nil {
		detail = make(map[string]any)
	}
	detail[DetailAlertName] = def.Name
	detail[DetailSeverity] = string(def.Severity)
	detail[DetailTriggeredAt] = now.UTC().Format(time.RFC3339)

	history := &entities.AlertHistory{
		TriggeredDate:  now,
		TriggerDetails: datatypes.JSONMap(detail),
	}
	if err := e.alerts.RecordTrigger(ctx, def, history); err != nil {
		if errors.Is(err, repository.ErrConcurrentTrigger) {
			log.Debug("alert already triggered by a concurrent evaluation")
			return OutcomeRaced
		}
		log.Error("failed to record alert trigger", logger.Error(err))
		return OutcomeError
	}
	e.metrics.Trigger()

	notificationID, err := e.notifier.NotifyTriggered(ctx, def, history)
	if err != nil {
		// The firing stands; only its notification is missing.
		log.Error("failed to send alert notification",
			logger.Uint64("history_id", uint64(history.ID)),
			logger.Error(err))
		return OutcomeTriggered
	}
	if notificationID != 0 {
		if err := e.alerts.LinkNotification(ctx, history.ID, notificationID); err != nil {
			log.Warn("failed to link alert notification",
				logger.Uint64("history_id", uint64(history.ID)),
				logger.Error(err))
		}
	}

	log.Info("alert triggered",
		logger.Uint64("history_id", uint64(history.ID)),
		logger.Uint64("notification_id", uint64(notificationID)),
		logger.String("severity", string(def.Severity)),
		logger.Int("trigger_count", def.TriggerCount))
	return OutcomeTriggered
}

func (e *Engine) markChecked(ctx context.Context, def *entities.AlertDefinition, now time.Time) {
	if err := e.alerts.MarkChecked(ctx, def.ID, now); err != nil {
		e.log.Warn("failed to update alert check time",
			logger.Uint64("alert_id", uint64(def.ID)),
			logger.Error(err))
		return
	}
	def.LastCheckDate = &now
}

// conditions returns the parsed trigger and auto-resolve trees of def.
func (e *Engine) conditions(def *entities.AlertDefinition) (*parsedConditions, error) {
	key := strconv.FormatUint(uint64(def.ID), 10)
	triggerSpec := def.TriggerCondition.Data()
	autoSpec := def.AutoResolveCondition.Data()

	if v, ok := e.parsed.Get(key); ok {
		p := v.(*parsedConditions)
		if reflect.DeepEqual(p.triggerSpec, triggerSpec) && reflect.DeepEqual(p.autoResolveSpec, autoSpec) {
			return p, nil
		}
	}

	if triggerSpec.IsZero() {
		return nil, errors.Newf("%w: trigger condition is empty", ErrInvalidCondition).
			Component(componentAlerting).
			Category(errors.CategoryValidation).
			Build()
	}
	trigger, err := ParseCondition(triggerSpec)
	if err != nil {
		return nil, err
	}
	autoResolve, err := ParseCondition(autoSpec)
	if err != nil {
		return nil, err
	}

	p := &parsedConditions{
		triggerSpec:     triggerSpec,
		autoResolveSpec: autoSpec,
		trigger:         trigger,
		autoResolve:     autoResolve,
	}
	e.parsed.SetDefault(key, p)
	return p, nil
}

// Invalidate drops the parsed conditions of a definition.
func (e *Engine) Invalidate(alertID uint) {
	e.parsed.Delete(strconv.FormatUint(uint64(alertID), 10))
}

// TestFire sends a definition's notification directly, bypassing condition
// evaluation and cooldown. No history is recorded.
func (e *Engine) TestFire(ctx context.Context, alertID uint) (uint, error) {
	def, err := e.alerts.GetDefinition(ctx, alertID)
	if err != nil {
		category := errors.CategoryDatabase
		if errors.Is(err, repository.ErrAlertNotFound) {
			category = errors.CategoryNotFound
		}
		return 0, errors.New(err).
			Component(componentAlerting).
			Category(category).
			Context("alert_id", alertID).
			Build()
	}

	now := e.clock.Now()
	history := &entities.AlertHistory{
		AlertID:       def.ID,
		TriggeredDate: now,
		TriggerDetails: datatypes.JSONMap{
			"Test":            "true",
			DetailAlertName:   def.Name,
			DetailSeverity:    string(def.Severity),
			DetailTriggeredAt: now.UTC().Format(time.RFC3339),
		},
	}
	// The test message references metric placeholders the template may
	// declare; fill them from the latest samples when available.
	if conds, err := e.conditions(def); err == nil {
		if _, detail, err := e.evaluator.Evaluate(ctx, conds.trigger, now); err == nil {
			for k, v := range detail {
				history.TriggerDetails[k] = v
			}
		}
	}

	id, err := e.notifier.NotifyTriggered(ctx, def, history)
	if err != nil {
		return 0, err
	}
	e.log.Info("alert test-fired",
		logger.Uint64("alert_id", uint64(def.ID)),
		logger.Uint64("notification_id", uint64(id)))
	return id, nil
}

// CleanupHistory deletes closed history older than retentionDays. A
// non-positive retention keeps everything.
func (e *Engine) CleanupHistory(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := e.clock.Now().AddDate(0, 0, -retentionDays)
	deleted, err := e.alerts.DeleteHistoryBefore(ctx, cutoff)
	if err != nil {
		return 0, errors.New(err).
			Component(componentAlerting).
			Category(errors.CategoryDatabase).
			Build()
	}
	if deleted > 0 {
		e.log.Info("alert history cleanup completed",
			logger.Int64("deleted", deleted),
			logger.Int("retention_days", retentionDays))
	}
	return deleted, nil
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
