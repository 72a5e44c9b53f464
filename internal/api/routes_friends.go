package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/smallworld/internal/handlers"
	"github.com/charlesng35/smallworld/internal/middleware"
)

func registerFriendRoutes(api *gin.RouterGroup, handler *handlers.FriendHandler) {
	friends := api.Group("/friends", middleware.RequireOwner())
	{
		friends.GET("", handler.List)
		friends.POST("", handler.Create)
		friends.PATCH("/:id", handler.Update)
		friends.POST("/:id/pause", handler.Pause)
		friends.POST("/:id/unpause", handler.Unpause)
		friends.DELETE("/:id", handler.Remove)
	}

	me := api.Group("/me", middleware.RequireFriend())
	{
		me.GET("", handler.Me)
		me.PATCH("", handler.UpdatePreferences)
	}
}
