package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/smallworld/internal/handlers"
	"github.com/charlesng35/smallworld/internal/middleware"
)

func registerPostRoutes(api *gin.RouterGroup, handler *handlers.PostHandler) {
	posts := api.Group("/posts")
	{
		posts.GET("/:id", handler.Get)

		posts.POST("", middleware.RequireOwner(), handler.Create)
		posts.PATCH("/:id", middleware.RequireOwner(), handler.Update)
		posts.DELETE("/:id", middleware.RequireOwner(), handler.Delete)
		posts.POST("/:id/notify", middleware.RequireOwner(), handler.Notify)

		posts.POST("/:id/seen", middleware.RequireIdentity(), handler.Seen)
		posts.POST("/:id/reactions", middleware.RequireIdentity(), handler.React)
		posts.DELETE("/:id/reactions/:emoji", middleware.RequireIdentity(), handler.Unreact)
		posts.POST("/:id/replies", middleware.RequireIdentity(), handler.Reply)
	}
}
