package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/smallworld/internal/realtime"
	"github.com/charlesng35/smallworld/internal/services"
	"github.com/charlesng35/smallworld/pkg/errors"
	"github.com/charlesng35/smallworld/pkg/logger"
	"github.com/charlesng35/smallworld/pkg/response"
)

// NotificationHandler exposes a recipient's notifications, their realtime stream and the
// device delivery callback.
type NotificationHandler struct {
	service *services.NotificationService
	hub     *realtime.Hub
}

// NewNotificationHandler constructs a notification handler. A nil hub disables the stream.
func NewNotificationHandler(service *services.NotificationService, hub *realtime.Hub) *NotificationHandler {
	return &NotificationHandler{service: service, hub: hub}
}

// GET /api/notifications
func (h *NotificationHandler) List(c *gin.Context) {
	identity := viewerOf(c).Identity()
	items, err := h.service.ListForRecipient(requestContext(c), identity, parseIntQuery(c, "limit", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, items)
}

// GET /api/notifications/stream?streams=notifications,deliveries
func (h *NotificationHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}
	identity := viewerOf(c).Identity()
	if !identity.Valid() {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	h.hub.Serve(identity, gatherStreams(c), c.Writer, c.Request)
}

// POST /notifications/delivered/:token
//
// Always answers 204 so the callback cannot be used to probe tokens.
func (h *NotificationHandler) Delivered(c *gin.Context) {
	if err := h.service.MarkDelivered(requestContext(c), c.Param("token")); err != nil {
		logger.WithModule("dispatcher").Error("mark delivered failed", zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}

func gatherStreams(c *gin.Context) []string {
	var streams []string
	for _, queryStream := range c.QueryArray("stream") {
		streams = append(streams, queryStream)
	}
	if raw := c.Query("streams"); raw != "" {
		streams = append(streams, strings.Split(raw, ",")...)
	}

	out := make([]string, 0, len(streams))
	for _, stream := range streams {
		if stream = strings.ToLower(strings.TrimSpace(stream)); stream != "" {
			out = append(out, stream)
		}
	}
	return out
}
