package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/smallworld/internal/handlers"
	"github.com/charlesng35/smallworld/internal/middleware"
)

// Polled by the push and SMS workers that own the wire protocols.
func registerTransportRoutes(r *gin.Engine, handler *handlers.TransportHandler, apiKey string) {
	transport := r.Group("/internal/transport", middleware.RequireTransportKey(apiKey))
	{
		transport.GET("/pushes", handler.PendingPushes)
		transport.POST("/pushes/:id/pushed", handler.MarkPushed)
		transport.GET("/text-blasts", handler.PendingTextBlasts)
		transport.POST("/text-blasts/:id/sent", handler.MarkTextBlastSent)
	}
}
