package api

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/MochamaB/FormReporting-sub006/internal/logger"
)

const (
	streamRateLimitWindow = time.Minute
	streamRateLimit       = 10
	streamRateBurst       = 15
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Browsers always send Origin on upgrade; it must match the host to
		// prevent cross-site websocket hijacking. Non-browser clients omit it.
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

// initStreamRoutes registers the in-app websocket stream.
func (c *Controller) initStreamRoutes() {
	if c.hub == nil {
		return
	}
	limiter := middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      streamRateLimit,
			Burst:     streamRateBurst,
			ExpiresIn: streamRateLimitWindow,
		}),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, err error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{"error": "Too many stream connection attempts"})
		},
		DenyHandler: func(ctx echo.Context, _ string, _ error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{"error": "Too many stream connection attempts"})
		},
	})
	c.Group.GET("/notifications/stream", c.StreamNotifications, limiter)
}

// StreamNotifications upgrades to a websocket and pushes the user's in-app
// notifications until either side disconnects.
func (c *Controller) StreamNotifications(ctx echo.Context) error {
	userID, err := parseUintQuery(ctx, "user_id")
	if err != nil || userID == 0 {
		return badRequest(ctx, "user_id is required")
	}

	conn, err := streamUpgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		c.log.Warn("failed to upgrade notification stream", logger.Error(err))
		// Upgrade has already written the HTTP error.
		return nil
	}

	c.hub.Serve(c.ctx, userID, conn)
	// The connection is hijacked; echo must not write a response.
	return nil
}
