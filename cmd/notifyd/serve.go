package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MochamaB/FormReporting-sub006/internal/alerting"
	api "github.com/MochamaB/FormReporting-sub006/internal/api/v2"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
	"github.com/MochamaB/FormReporting-sub006/internal/mqtt"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the dispatcher and the periodic sweeps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(opts.configPath, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	if err := a.migrate(); err != nil {
		return err
	}
	if err := a.seed(ctx); err != nil {
		return err
	}
	if err := a.buildServices(); err != nil {
		return err
	}
	if err := a.notifications.Start(ctx); err != nil {
		return err
	}

	if a.settings.MQTT.Enabled {
		bridge, err := a.startMetricBridge(ctx)
		if err != nil {
			return err
		}
		defer bridge.Stop()
	}

	sched, err := a.newScheduler()
	if err != nil {
		return err
	}

	e := a.newEcho(ctx)

	g, gctx := errgroup.WithContext(ctx)
	if sm := a.settings.SystemMetrics; sm.Enabled {
		collector := alerting.NewSystemCollector(a.alerts.Bus, sm.DiskPath, nil, a.log)
		g.Go(func() error {
			collector.Run(gctx, sm.Interval.Std())
			return nil
		})
	}
	g.Go(func() error {
		sched.Start(gctx)
		<-gctx.Done()
		sched.Stop()
		return nil
	})
	g.Go(func() error {
		a.log.Info("http server listening", logger.String("address", a.settings.HTTP.Listen))
		if err := e.Start(a.settings.HTTP.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.New(err).
				Component("notifyd").
				Category(errors.CategoryNetwork).
				Context("address", a.settings.HTTP.Listen).
				Build()
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("http server shutdown incomplete", logger.Error(err))
		}
		return nil
	})

	err = g.Wait()
	a.log.Info("notifyd stopped")
	return err
}

func (a *app) startMetricBridge(ctx context.Context) (*alerting.MetricBridge, error) {
	cfg := a.settings.MQTT
	client, err := mqtt.NewClient(mqtt.Config{
		Broker:   cfg.Broker,
		ClientID: cfg.ClientID,
		Username: cfg.Username,
		Password: cfg.Password,
	}, a.log)
	if err != nil {
		return nil, err
	}
	bridge := alerting.NewMetricBridge(client, cfg.Topic, a.alerts.Bus, nil, a.log)
	if err := bridge.Start(ctx); err != nil {
		// The client keeps reconnecting in the background.
		a.log.Warn("mqtt broker unreachable at startup",
			logger.String("broker", cfg.Broker),
			logger.Error(err))
	}
	return bridge, nil
}

func (a *app) newEcho(ctx context.Context) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:   true,
		LogURI:      true,
		LogMethod:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				a.log.Warn("request failed", append(fields, logger.Error(v.Error))...)
				return nil
			}
			a.log.Debug("request", fields...)
			return nil
		},
	}))

	api.New(ctx, e, api.Config{
		Repos:         a.repos,
		Notifications: a.notifications,
		Alerts:        a.alerts,
		Hub:           a.senders.Hub,
		Gatherer:      a.registry,
		APIKey:        a.settings.HTTP.APIKey,
		Logger:        a.log,
	})
	return e
}
