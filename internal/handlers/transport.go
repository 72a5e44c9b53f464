package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/smallworld/internal/services"
	"github.com/charlesng35/smallworld/pkg/response"
)

// TransportHandler is polled by the external push and SMS senders.
type TransportHandler struct {
	notifications *services.NotificationService
}

func NewTransportHandler(notifications *services.NotificationService) *TransportHandler {
	return &TransportHandler{notifications: notifications}
}

// GET /internal/transport/pushes?limit=
func (h *TransportHandler) PendingPushes(c *gin.Context) {
	deliveries, err := h.notifications.PendingPushes(requestContext(c), parseIntQuery(c, "limit", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, deliveries)
}

// POST /internal/transport/pushes/:id/pushed
func (h *TransportHandler) MarkPushed(c *gin.Context) {
	if err := h.notifications.MarkPushed(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /internal/transport/text-blasts?limit=
func (h *TransportHandler) PendingTextBlasts(c *gin.Context) {
	blasts, err := h.notifications.PendingTextBlasts(requestContext(c), parseIntQuery(c, "limit", 0))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, blasts)
}

// POST /internal/transport/text-blasts/:id/sent
func (h *TransportHandler) MarkTextBlastSent(c *gin.Context) {
	if err := h.notifications.MarkTextBlastSent(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
