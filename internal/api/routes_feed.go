package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/smallworld/internal/handlers"
)

// Feeds are readable anonymously; visibility narrows what each viewer sees.
func registerFeedRoutes(api *gin.RouterGroup, handler *handlers.FeedHandler) {
	api.GET("/feed", handler.Universe)
	api.GET("/worlds/:handle/posts", handler.World)
}
