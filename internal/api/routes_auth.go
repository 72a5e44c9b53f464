package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/smallworld/internal/handlers"
	"github.com/charlesng35/smallworld/internal/middleware"
)

func registerAuthRoutes(api *gin.RouterGroup, handler *handlers.AuthHandler) {
	auth := api.Group("/auth")
	{
		auth.POST("/register", handler.Register)
		auth.POST("/login", handler.Login)
	}

	world := api.Group("/world", middleware.RequireOwner())
	{
		world.GET("", handler.World)
		world.PATCH("", handler.UpdateWorld)
	}
}
