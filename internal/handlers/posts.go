package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/smallworld/internal/models"
	"github.com/charlesng35/smallworld/internal/services"
	"github.com/charlesng35/smallworld/pkg/response"
)

// PostHandler exposes post authoring and the engagement writes gated by visibility.
type PostHandler struct {
	posts      *services.PostService
	feed       *services.FeedService
	engagement *services.EngagementService
}

func NewPostHandler(posts *services.PostService, feed *services.FeedService, engagement *services.EngagementService) *PostHandler {
	return &PostHandler{posts: posts, feed: feed, engagement: engagement}
}

type createPostRequest struct {
	Type            string     `json:"type" validate:"required"`
	Visibility      string     `json:"visibility" validate:"required"`
	Body            string     `json:"body" validate:"max=20000"`
	PinnedUntil     *time.Time `json:"pinned_until"`
	QuotedPostID    *string    `json:"quoted_post_id"`
	HiddenFromIDs   []string   `json:"hidden_from_ids"`
	VisibleToIDs    []string   `json:"visible_to_ids"`
	NotifyAll       bool       `json:"notify_all"`
	NotifyFriendIDs []string   `json:"notify_friend_ids"`
}

type updatePostRequest struct {
	Type          *string    `json:"type"`
	Visibility    *string    `json:"visibility"`
	Body          *string    `json:"body" validate:"omitempty,max=20000"`
	PinnedUntil   *time.Time `json:"pinned_until"`
	Unpin         bool       `json:"unpin"`
	HiddenFromIDs *[]string  `json:"hidden_from_ids"`
	VisibleToIDs  *[]string  `json:"visible_to_ids"`
}

type notifyRequest struct {
	NotifyAll bool     `json:"notify_all"`
	FriendIDs []string `json:"friend_ids"`
}

type reactionRequest struct {
	Emoji string `json:"emoji" validate:"required,max=16"`
}

type replyRequest struct {
	Body string `json:"body" validate:"required,max=5000"`
}

// POST /api/posts
func (h *PostHandler) Create(c *gin.Context) {
	var req createPostRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.posts.Create(requestContext(c), viewerOf(c), services.CreatePostInput{
		Type:            models.PostType(req.Type),
		Visibility:      models.Visibility(req.Visibility),
		Body:            req.Body,
		PinnedUntil:     req.PinnedUntil,
		QuotedPostID:    req.QuotedPostID,
		HiddenFromIDs:   req.HiddenFromIDs,
		VisibleToIDs:    req.VisibleToIDs,
		NotifyAll:       req.NotifyAll,
		NotifyFriendIDs: req.NotifyFriendIDs,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, result)
}

// GET /api/posts/:id
func (h *PostHandler) Get(c *gin.Context) {
	post, err := h.feed.Post(requestContext(c), viewerOf(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, post)
}

// PATCH /api/posts/:id
func (h *PostHandler) Update(c *gin.Context) {
	var req updatePostRequest
	if !bindAndValidate(c, &req) {
		return
	}

	input := services.UpdatePostInput{
		Body:          req.Body,
		PinnedUntil:   req.PinnedUntil,
		Unpin:         req.Unpin,
		HiddenFromIDs: req.HiddenFromIDs,
		VisibleToIDs:  req.VisibleToIDs,
	}
	if req.Type != nil {
		postType := models.PostType(*req.Type)
		input.Type = &postType
	}
	if req.Visibility != nil {
		visibility := models.Visibility(*req.Visibility)
		input.Visibility = &visibility
	}

	post, err := h.posts.Update(requestContext(c), viewerOf(c), c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, post)
}

// DELETE /api/posts/:id
func (h *PostHandler) Delete(c *gin.Context) {
	if err := h.posts.Delete(requestContext(c), viewerOf(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/posts/:id/notify
func (h *PostHandler) Notify(c *gin.Context) {
	var req notifyRequest
	if !bindAndValidate(c, &req) {
		return
	}

	notified, err := h.posts.Notify(requestContext(c), viewerOf(c), c.Param("id"), services.NotifyInput{
		NotifyAll: req.NotifyAll,
		FriendIDs: req.FriendIDs,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if notified == nil {
		notified = []string{}
	}
	response.Success(c, http.StatusOK, gin.H{"notified_friend_ids": notified})
}

// POST /api/posts/:id/seen
func (h *PostHandler) Seen(c *gin.Context) {
	if err := h.engagement.MarkSeen(requestContext(c), viewerOf(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/posts/:id/reactions
func (h *PostHandler) React(c *gin.Context) {
	var req reactionRequest
	if !bindAndValidate(c, &req) {
		return
	}
	reaction, err := h.engagement.React(requestContext(c), viewerOf(c), c.Param("id"), req.Emoji)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, reaction)
}

// DELETE /api/posts/:id/reactions/:emoji
func (h *PostHandler) Unreact(c *gin.Context) {
	if err := h.engagement.Unreact(requestContext(c), viewerOf(c), c.Param("id"), c.Param("emoji")); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /api/posts/:id/replies
func (h *PostHandler) Reply(c *gin.Context) {
	var req replyRequest
	if !bindAndValidate(c, &req) {
		return
	}
	reply, err := h.engagement.Reply(requestContext(c), viewerOf(c), c.Param("id"), req.Body)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, reply)
}
