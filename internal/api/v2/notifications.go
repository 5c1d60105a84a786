package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/repository"
	"github.com/MochamaB/FormReporting-sub006/internal/logger"
	"github.com/MochamaB/FormReporting-sub006/internal/notification"
)

// initNotificationRoutes registers notification, delivery, preference and
// channel endpoints.
func (c *Controller) initNotificationRoutes() {
	if c.notifications == nil {
		return
	}

	c.Group.GET("/notifications/users/:user_id", c.ListUserNotifications)
	c.Group.GET("/notifications/stats", c.GetNotificationStats)
	c.Group.GET("/notifications/:id/deliveries", c.ListDeliveries)
	c.Group.GET("/preferences/:user_id", c.GetPreferences)
	c.Group.GET("/channels", c.ListChannels)

	protected := c.Group.Group("", c.authMiddleware)
	protected.POST("/notifications", c.CreateNotification)
	protected.POST("/notifications/:id/read", c.recipientAction("read", c.notifications.MarkRead))
	protected.POST("/notifications/:id/dismiss", c.recipientAction("dismiss", c.notifications.MarkDismissed))
	protected.POST("/notifications/:id/action", c.recipientAction("action", c.notifications.MarkActioned))
	protected.DELETE("/notifications/:id", c.DeactivateNotification)
	protected.POST("/deliveries/confirm", c.ConfirmDelivery)
	protected.PUT("/preferences/:user_id", c.SavePreferences)
	protected.PATCH("/channels/:id/toggle", c.ToggleChannel)
}

// CreateNotification renders a template and dispatches it to its recipients.
func (c *Controller) CreateNotification(ctx echo.Context) error {
	var req notification.CreateRequest
	if err := ctx.Bind(&req); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	if req.TemplateCode == "" {
		return badRequest(ctx, "template_code is required")
	}

	res, err := c.notifications.CreateNotification(ctx.Request().Context(), req)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to create notification")
	}

	c.log.Info("notification created",
		logger.String("template", req.TemplateCode),
		logger.Uint64("notification_id", uint64(res.NotificationID)),
		logger.Int("recipients", res.Recipients))
	return ctx.JSON(http.StatusCreated, res)
}

// ListUserNotifications returns a user's inbox, newest first.
func (c *Controller) ListUserNotifications(ctx echo.Context) error {
	userID, err := parseUintParam(ctx, "user_id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid user ID")
	}
	limit, offset := pagination(ctx)
	filter := repository.InboxFilter{
		UnreadOnly:       ctx.QueryParam("unread") == "true",
		IncludeDismissed: ctx.QueryParam("include_dismissed") == "true",
		Limit:            limit,
		Offset:           offset,
	}

	items, total, err := c.notifications.Inbox(ctx.Request().Context(), userID, filter)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list notifications")
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"notifications": items,
		"total":         total,
		"limit":         limit,
		"offset":        offset,
	})
}

// GetNotificationStats returns inbox counters for ?user_id=.
func (c *Controller) GetNotificationStats(ctx echo.Context) error {
	userID, err := parseUintQuery(ctx, "user_id")
	if err != nil || userID == 0 {
		return badRequest(ctx, "user_id is required")
	}
	stats, err := c.notifications.Stats(ctx.Request().Context(), userID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load notification stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

// ListDeliveries returns every delivery attempt of a notification.
func (c *Controller) ListDeliveries(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid notification ID")
	}
	deliveries, err := c.notifications.Deliveries(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list deliveries")
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"deliveries": deliveries,
		"count":      len(deliveries),
	})
}

type recipientRequest struct {
	UserID uint `json:"user_id"`
}

// recipientAction builds a handler for the per-recipient state changes.
func (c *Controller) recipientAction(name string, op func(ctx context.Context, notificationID, userID uint) error) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		id, err := parseUintParam(ctx, "id")
		if err != nil {
			return c.HandleError(ctx, err, "Invalid notification ID")
		}
		var body recipientRequest
		if err := ctx.Bind(&body); err != nil || body.UserID == 0 {
			return badRequest(ctx, "user_id is required")
		}
		if err := op(ctx.Request().Context(), id, body.UserID); err != nil {
			return c.HandleError(ctx, err, "Failed to "+name+" notification")
		}
		return ctx.JSON(http.StatusOK, map[string]any{"id": id, "user_id": body.UserID, "status": name})
	}
}

// DeactivateNotification hides a notification and cancels pending deliveries.
func (c *Controller) DeactivateNotification(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid notification ID")
	}
	if err := c.notifications.Deactivate(ctx.Request().Context(), id); err != nil {
		return c.HandleError(ctx, err, "Failed to deactivate notification")
	}
	return ctx.NoContent(http.StatusNoContent)
}

type confirmRequest struct {
	ExternalID string `json:"external_id"`
	Delivered  bool   `json:"delivered"`
	Reason     string `json:"reason"`
	Permanent  bool   `json:"permanent"`
}

// ConfirmDelivery applies a provider's delivery receipt.
func (c *Controller) ConfirmDelivery(ctx echo.Context) error {
	var body confirmRequest
	if err := ctx.Bind(&body); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	if body.ExternalID == "" {
		return badRequest(ctx, "external_id is required")
	}
	d, err := c.notifications.Dispatcher().Confirm(ctx.Request().Context(), body.ExternalID, body.Delivered, body.Reason, body.Permanent)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to confirm delivery")
	}
	return ctx.JSON(http.StatusOK, d)
}

// GetPreferences lists a user's stored channel preferences.
func (c *Controller) GetPreferences(ctx echo.Context) error {
	userID, err := parseUintParam(ctx, "user_id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid user ID")
	}
	prefs, err := c.notifications.Preferences(ctx.Request().Context(), userID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load preferences")
	}
	return ctx.JSON(http.StatusOK, map[string]any{"preferences": prefs})
}

// SavePreferences upserts the given preferences for the user in the path.
func (c *Controller) SavePreferences(ctx echo.Context) error {
	userID, err := parseUintParam(ctx, "user_id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid user ID")
	}
	var body struct {
		Preferences []entities.UserNotificationPreference `json:"preferences"`
	}
	if err := ctx.Bind(&body); err != nil {
		return badRequest(ctx, "Invalid request body")
	}
	if len(body.Preferences) == 0 {
		return badRequest(ctx, "preferences must not be empty")
	}

	reqCtx := ctx.Request().Context()
	for i := range body.Preferences {
		pref := &body.Preferences[i]
		pref.ID = 0
		pref.UserID = userID
		if err := c.notifications.SavePreference(reqCtx, pref); err != nil {
			return c.HandleError(ctx, err, "Failed to save preferences")
		}
	}

	prefs, err := c.notifications.Preferences(reqCtx, userID)
	if err != nil {
		return c.HandleError(ctx, err, "Failed to load preferences")
	}
	return ctx.JSON(http.StatusOK, map[string]any{"preferences": prefs})
}

// ListChannels returns every notification channel.
func (c *Controller) ListChannels(ctx echo.Context) error {
	channels, err := c.notifications.Channels(ctx.Request().Context())
	if err != nil {
		return c.HandleError(ctx, err, "Failed to list channels")
	}
	return ctx.JSON(http.StatusOK, map[string]any{"channels": channels})
}

// ToggleChannel enables or disables a channel.
func (c *Controller) ToggleChannel(ctx echo.Context) error {
	id, err := parseUintParam(ctx, "id")
	if err != nil {
		return c.HandleError(ctx, err, "Invalid channel ID")
	}
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := ctx.Bind(&body); err != nil || body.Enabled == nil {
		return badRequest(ctx, "enabled is required")
	}
	if err := c.notifications.SetChannelEnabled(ctx.Request().Context(), id, *body.Enabled); err != nil {
		return c.HandleError(ctx, err, "Failed to toggle channel")
	}
	c.log.Info("notification channel toggled",
		logger.Uint64("channel_id", uint64(id)),
		logger.Bool("enabled", *body.Enabled))
	return ctx.JSON(http.StatusOK, map[string]any{"id": id, "enabled": *body.Enabled})
}
