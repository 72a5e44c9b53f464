package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/smallworld/internal/app"
	"github.com/charlesng35/smallworld/internal/handlers"
	"github.com/charlesng35/smallworld/internal/middleware"
)

const (
	defaultDeliveredLimit  = 60
	defaultDeliveredWindow = time.Minute
)

func registerPushRoutes(api *gin.RouterGroup, handler *handlers.PushHandler) {
	// Anonymous subscriptions are accepted and attributed later by correlation.
	api.POST("/push/subscriptions", handler.Subscribe)
}

func registerNotificationRoutes(r *gin.Engine, api *gin.RouterGroup, handler *handlers.NotificationHandler, store middleware.RateStore, cfg app.TransportConfig) {
	notifications := api.Group("/notifications", middleware.RequireIdentity())
	{
		notifications.GET("", handler.List)
		notifications.GET("/stream", handler.Stream)
	}

	limit := cfg.DeliveredRateLimit
	if limit <= 0 {
		limit = defaultDeliveredLimit
	}
	window := cfg.DeliveredWindow
	if window <= 0 {
		window = defaultDeliveredWindow
	}
	r.POST("/notifications/delivered/:token", middleware.RateLimit(store, limit, window), handler.Delivered)
}
