package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/smallworld/internal/audience"
	"github.com/charlesng35/smallworld/internal/middleware"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

func viewerOf(c *gin.Context) audience.Viewer {
	return middleware.ViewerFrom(c)
}
