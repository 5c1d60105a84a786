// Package api exposes the notification and alerting services over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MochamaB/FormReporting-sub006/internal/alerting"
	"github.com/MochamaB/FormReporting-sub006/internal/clock"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/repository"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
	"github.com/MochamaB/FormReporting-sub006/internal/notification"
	"github.com/MochamaB/FormReporting-sub006/internal/notification/providers"
)

// BasePath is where the API group is mounted.
const BasePath = "/api/v2"

// Config carries the controller dependencies.
type Config struct {
	Repos         *repository.Repositories
	Notifications *notification.Service
	Alerts        *alerting.System
	// Hub serves the in-app stream; nil disables the stream endpoint.
	Hub *providers.Hub
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
	// APIKey protects mutating routes when non-empty.
	APIKey string
	Clock  clock.Clock
	Logger logger.Logger
}

// Controller owns the /api/v2 routes.
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	ctx           context.Context
	repos         *repository.Repositories
	notifications *notification.Service
	alerts        *alerting.System
	hub           *providers.Hub
	apiKey        string
	clock         clock.Clock
	log           logger.Logger
}

// New registers every route on e. ctx bounds long-lived connections such as
// the notification stream.
func New(ctx context.Context, e *echo.Echo, cfg Config) *Controller {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}
	c := &Controller{
		Echo:          e,
		Group:         e.Group(BasePath),
		ctx:           ctx,
		repos:         cfg.Repos,
		notifications: cfg.Notifications,
		alerts:        cfg.Alerts,
		hub:           cfg.Hub,
		apiKey:        cfg.APIKey,
		clock:         clk,
		log:           log.With(logger.String("component", "api")),
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	c.initNotificationRoutes()
	c.initStreamRoutes()
	c.initAlertRoutes()
	return c
}

// authMiddleware guards mutating routes. Without a configured key every
// request passes.
func (c *Controller) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	if c.apiKey == "" {
		return next
	}
	return middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:" + echo.HeaderAuthorization + ":Bearer ,header:X-API-Key",
		Validator: func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(c.apiKey)) == 1, nil
		},
		ErrorHandler: func(err error, ctx echo.Context) error {
			return ctx.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid or missing API key"})
		},
	})(next)
}

// notFoundErrors are repository sentinels that mean the addressed row does
// not exist.
var notFoundErrors = []error{
	repository.ErrTemplateNotFound,
	repository.ErrNotificationNotFound,
	repository.ErrRecipientNotFound,
	repository.ErrChannelNotFound,
	repository.ErrDeliveryNotFound,
	repository.ErrPreferenceNotFound,
	repository.ErrAlertNotFound,
	repository.ErrAlertHistoryNotFound,
}

// statusFor maps an error onto an HTTP status code.
func statusFor(err error) int {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return http.StatusNotFound
		}
	}
	switch {
	case errors.Is(err, alerting.ErrInvalidStateTransition),
		errors.Is(err, repository.ErrStaleTransition),
		errors.Is(err, repository.ErrSystemTemplate):
		return http.StatusConflict
	}
	switch errors.CategoryOf(err) {
	case errors.CategoryValidation:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryStateTransition, errors.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// HandleError writes err as a JSON error response. Server-side failures are
// logged and their detail is withheld from the client.
func (c *Controller) HandleError(ctx echo.Context, err error, message string) error {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		c.log.Error(message,
			logger.String("path", ctx.Path()),
			logger.Error(err))
		return ctx.JSON(code, map[string]string{"error": message})
	}
	return ctx.JSON(code, map[string]string{"error": message, "detail": err.Error()})
}

func badRequest(ctx echo.Context, message string) error {
	return ctx.JSON(http.StatusBadRequest, map[string]string{"error": message})
}

// parseUintParam parses a uint route parameter.
func parseUintParam(ctx echo.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(ctx.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, errors.Newf("invalid %s %q", name, ctx.Param(name)).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return uint(v), nil
}

// parseUintQuery parses an optional uint query parameter; absent yields 0.
func parseUintQuery(ctx echo.Context, name string) (uint, error) {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.Newf("invalid %s %q", name, raw).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return uint(v), nil
}

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// pagination reads limit and offset, clamping limit to maxPageSize.
func pagination(ctx echo.Context) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(ctx.QueryParam("limit")); err == nil && v > 0 {
		limit = min(v, maxPageSize)
	}
	if v, err := strconv.Atoi(ctx.QueryParam("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
