package errors

import (
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

var telemetryEnabled atomic.Bool

// TelemetryConfig configures Sentry reporting.
type TelemetryConfig struct {
	DSN         string
	Environment string
	Release     string
}

// InitTelemetry initializes the Sentry client. An empty DSN leaves telemetry off.
func InitTelemetry(cfg TelemetryConfig) error {
	if cfg.DSN == "" {
		telemetryEnabled.Store(false)
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
	}); err != nil {
		return Newf("failed to initialize sentry: %w", err).
			Component("telemetry").
			Category(CategoryConfiguration).
			Build()
	}
	telemetryEnabled.Store(true)
	return nil
}

// FlushTelemetry waits for buffered events to be sent.
func FlushTelemetry(timeout time.Duration) {
	if telemetryEnabled.Load() {
		sentry.Flush(timeout)
	}
}

// reportable reports whether a category describes an unexpected failure.
// Caller mistakes and expected capacity limits are not sent.
func reportable(category ErrorCategory) bool {
	switch category {
	case CategoryValidation, CategoryNotFound, CategoryStateTransition, CategoryCapacity:
		return false
	default:
		return true
	}
}

func report(ee *EnhancedError) {
	if !telemetryEnabled.Load() || !reportable(ee.category) {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.component)
		scope.SetTag("category", string(ee.category))
		if len(ee.context) > 0 {
			scope.SetContext("error_context", sentry.Context(ee.GetContext()))
		}
		sentry.CaptureException(ee)
	})
}
