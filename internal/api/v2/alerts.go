package api

import (
	"context"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/MochamaB/FormReporting-sub006/internal/alerting"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/repository"
	"github.com/MochamaB/FormReporting-sub006/internal/errors"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
)

// maxMetricPayload bounds POST /alerts/metrics bodies.
const maxMetricPayload = 64 * 1024

// initAlertRoutes registers alert definition and history endpoints.
func (c *Controller) initAlertRoutes() {
	if c.alerts == nil {
		return
	}

	alerts := c.Group.Group("/alerts")

	alerts.GET("/schema", c.GetAlertSchema)
	alerts.GET("/definitions", c.ListAlertDefinitions)
	alerts.GET("/definitions/:id", c.GetAlertDefinition)
	alerts.GET("/history", c.ListAlertHistory)
	alerts.GET("/history/:id", c.GetAlertHistory)

	protected := alerts.Group("", c.authMiddleware)
	protected.POST("/definitions", c.CreateAlertDefinition)
	protected.PUT("/definitions/:id", c.UpdateAlertDefinition)
	protected.DELETE("/definitions/:id", c.DeleteAlertDefinition)
	protected.PATCH("/definitions/:id/toggle", c.ToggleAlertDefinition)
	protected.POST("/definitions/:id/test", c.TestAlertDefinition)
	protected.POST("/metrics", c.PublishMetrics)
	protected.POST("/history/:id/acknowledge", c.lifecycleAction("acknowledge", c.alerts.Manager.Acknowledge))
	protected.POST("/history/:id/resolve", c.lifecycleAction("resolve", c.alerts.Manager.Resolve))
	protected.POST("/history/:id/cancel", c.lifecycleAction("cancel", c.alerts.Manager.Cancel))
}

// GetAlertSchema returns the condition catalogue for condition builders.
func (c *Controller) GetAlertSchema(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, alerting.GetSchema())
}

// ListAlertDefinitions returns definitions, optionally filtered by
// ?active= and ?severity=.
func (c *Controller) ListAlertDefinitions(ctx echo.Context) error {
	var filter repository.AlertDefinitionFilter
	if raw := ctx.QueryParam("active"); raw != "" {
		v := raw == "true"
		filter.Active = &v
	}
	if raw := ctx.QueryParam("severity"); raw != "" {
		filter.Severity = entities.Severity(raw)
		if !filter.Severity.Valid() {
			return badRequest(ctx, "Unknown severity")
		}
	}

	defs, err := c.repos.Alerts.ListDefinitions(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list alert definitions")
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"definitions": defs,
		"count":       len(defs),
	})
}

// GetAlertDefinition returns one definition.
func (c *Controller) GetAlertDefinition(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid definition ID")
	}
	def, err := c.repos.Alerts.GetDefinition(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get alert definition")
	}
	return ctx.JSON(http.StatusOK, def)
}

// resetBookkeeping clears fields only the engine may write.
func resetBookkeeping(def *entities.AlertDefinition) {
	def.LastTriggeredDate = nil
	def.LastCheckDate = nil
	def.TriggerCount = 0
}

// checkTemplate reports an unknown template as a validation failure.
func (c *Controller) checkTemplate(ctx context.Context, def *entities.AlertDefinition) error {
	_, err := c.repos.Templates.GetByID(ctx, def.TemplateID)
	if errors.Is(err, repository.ErrTemplateNotFound) {
		return errors.Newf("template %d does not exist", def.TemplateID).
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return err
}

// CreateAlertDefinition validates and stores a new definition.
func (c *Controller) CreateAlertDefinition(ctx echo.Context) error {
	var def entities.AlertDefinition
	if err := ctx.Bind(&def); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	def.ID = 0
	resetBookkeeping(&def)

	if err := alerting.ValidateDefinition(&def); err != nil {
		return c.HandleError(ctx, err, "Invalid alert definition")
	}
	reqCtx := ctx.Request().Context()
	if err := c.checkTemplate(reqCtx, &def); err != nil {
		return c.HandleError(ctx, err, "Unknown template")
	}

	count, err := c.repos.Alerts.CountDefinitionsByName(reqCtx, def.Name)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to create alert definition")
	}
	if count > 0 {
		return ctx.JSON(http.StatusConflict, map[string]string{"error": "A definition with this name already exists"})
	}

	if err := c.repos.Alerts.CreateDefinition(reqCtx, &def); err != nil {
		return c.HandleError(ctx, err, "Failed to create alert definition")
	}

	c.log.Info("alert definition created",
		logger.String("name", def.Name),
		logger.Uint64("id", uint64(def.ID)))
	return ctx.JSON(http.StatusCreated, def)
}

// UpdateAlertDefinition replaces the editable fields of a definition.
func (c *Controller) UpdateAlertDefinition(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid definition ID")
	}
	reqCtx := ctx.Request().Context()
	existing, err := c.repos.Alerts.GetDefinition(reqCtx, id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get alert definition")
	}

	var def entities.AlertDefinition
	if err := ctx.Bind(&def); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	def.ID = existing.ID
	def.CreatedAt = existing.CreatedAt

	if err := alerting.ValidateDefinition(&def); err != nil {
		return c.HandleError(ctx, err, "Invalid alert definition")
	}
	if err := c.checkTemplate(reqCtx, &def); err != nil {
		return c.HandleError(ctx, err, "Unknown template")
	}
	if def.Name != existing.Name {
		count, err := c.repos.Alerts.CountDefinitionsByName(reqCtx, def.Name)
		if err != nil {
			return c.HandleError(ctx, err, "Failed to update alert definition")
		}
		if count > 0 {
			return ctx.JSON(http.StatusConflict, map[string]string{"error": "A definition with this name already exists"})
		}
	}

	if err := c.repos.Alerts.UpdateDefinition(reqCtx, &def); err != nil {
		return c.HandleError(ctx, err, "Failed to update alert definition")
	}
	c.alerts.Engine.Invalidate(id)

	updated, err := c.repos.Alerts.GetDefinition(reqCtx, id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get alert definition")
	}
	return ctx.JSON(http.StatusOK, updated)
}

// DeleteAlertDefinition deletes a definition together with its history.
func (c *Controller) DeleteAlertDefinition(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid definition ID")
	}
	if err := c.repos.Alerts.DeleteDefinition(ctx.Request().Context(), id); err != nil {
		return c.HandleError(ctx, err, "Failed to delete alert definition")
	}
	c.alerts.Engine.Invalidate(id)
	return ctx.NoContent(http.StatusNoContent)
}

// ToggleAlertDefinition activates or deactivates a definition.
func (c *Controller) ToggleAlertDefinition(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid definition ID")
	}
	var body struct {
		IsActive *bool `json:"is_active"`
	}
	if err := ctx.Bind(&body); err != nil || body.IsActive == nil {
		return badRequest(ctx, "is_active is required")
	}
	if err := c.repos.Alerts.ToggleDefinition(ctx.Request().Context(), id, *body.IsActive); err != nil {
		return c.HandleError(ctx, err, "Failed to toggle alert definition")
	}
	return ctx.JSON(http.StatusOK, map[string]any{"id": id, "is_active": *body.IsActive})
}

// TestAlertDefinition sends the definition's notification without
// evaluating it or recording history.
func (c *Controller) TestAlertDefinition(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid definition ID")
	}
	notificationID, err := c.alerts.Engine.TestFire(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to test alert definition")
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"status":          "test fired",
		"notification_id": notificationID,
	})
}

// PublishMetrics accepts metric samples in the same formats as the MQTT
// bridge and publishes them to the evaluator.
func (c *Controller) PublishMetrics(ctx echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxMetricPayload+1))
	if err != nil {
		return badRequest(ctx, "Failed to read request body")
	}
	if len(body) > maxMetricPayload {
		return ctx.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
	}

	samples, err := alerting.ParseMetricPayload(ctx.QueryParam("metric"), body, c.clock.Now())
	if err != nil {
		return c.HandleError(ctx, err, "Invalid metric payload")
	}

	accepted := 0
	for _, s := range samples {
		if c.alerts.Bus.Publish(s) {
			accepted++
		}
	}
	return ctx.JSON(http.StatusAccepted, map[string]int{
		"accepted": accepted,
		"dropped":  len(samples) - accepted,
	})
}

// ListAlertHistory returns firings, newest first.
func (c *Controller) ListAlertHistory(ctx echo.Context) error {
	alertID, err := parseUintQuery(ctx, "alert_id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid alert_id")
	}
	limit, offset := pagination(ctx)
	filter := repository.AlertHistoryFilter{
		AlertID: alertID,
		Status:  entities.AlertStatus(ctx.QueryParam("status")),
		Limit:   limit,
		Offset:  offset,
	}

	items, total, err := c.repos.Alerts.ListHistory(ctx.Request().Context(), filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list alert history")
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"history": items,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// GetAlertHistory returns one firing.
func (c *Controller) GetAlertHistory(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid history ID")
	}
	h, err := c.repos.Alerts.GetHistory(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to get alert history")
	}
	return ctx.JSON(http.StatusOK, h)
}

type lifecycleRequest struct {
	UserID uint   `json:"user_id"`
	Notes  string `json:"notes"`
}

type lifecycleOp func(ctx context.Context, historyID, userID uint, notes string) (*entities.AlertHistory, error)

// lifecycleAction builds the acknowledge, resolve and cancel handlers.
func (c *Controller) lifecycleAction(name string, op lifecycleOp) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		id, err := parseUintParam(ctx, "id")
		if err != nil {
			return c.HandleError(ctx, err, "Invalid history ID")
		}
		var body lifecycleRequest
		if err := ctx.Bind(&body); err != nil || body.UserID == 0 {
			return badRequest(ctx, "user_id is required")
		}
		h, err := op(ctx.Request().Context(), id, body.UserID, body.Notes)
		if err != nil {
			return c.HandleError(ctx, err, "Failed to "+name+" alert")
		}
		c.log.Info("alert lifecycle updated",
			logger.String("action", name),
			logger.Uint64("history_id", uint64(id)),
			logger.Uint64("user_id", uint64(body.UserID)))
		return ctx.JSON(http.StatusOK, h)
	}
}
