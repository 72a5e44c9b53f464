package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/smallworld/internal/services"
	"github.com/charlesng35/smallworld/pkg/response"
)

// FeedHandler serves keyset-paginated feeds.
type FeedHandler struct {
	feed *services.FeedService
}

func NewFeedHandler(feed *services.FeedService) *FeedHandler {
	return &FeedHandler{feed: feed}
}

// GET /api/feed?cursor=&limit=
func (h *FeedHandler) Universe(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 0)
	page, err := h.feed.Page(requestContext(c), viewerOf(c), c.Query("cursor"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	writePage(c, page, limit)
}

// GET /api/worlds/:handle/posts?cursor=&limit=
func (h *FeedHandler) World(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 0)
	page, err := h.feed.WorldPage(requestContext(c), viewerOf(c), c.Param("handle"), c.Query("cursor"), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	writePage(c, page, limit)
}

func writePage(c *gin.Context, page *services.FeedPage, limit int) {
	data := gin.H{"posts": page.Posts}
	if len(page.Pinned) > 0 {
		data["pinned"] = page.Pinned
	}
	response.SuccessWithMeta(c, http.StatusOK, data, &response.Meta{
		Limit:      limit,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
	})
}
