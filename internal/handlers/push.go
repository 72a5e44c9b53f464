package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/smallworld/internal/correlation"
	"github.com/charlesng35/smallworld/pkg/response"
)

// PushHandler registers browser push subscriptions for the current viewer.
type PushHandler struct {
	correlator *correlation.Correlator
}

func NewPushHandler(correlator *correlation.Correlator) *PushHandler {
	return &PushHandler{correlator: correlator}
}

type pushKeys struct {
	P256dh string `json:"p256dh" validate:"required"`
	Auth   string `json:"auth" validate:"required"`
}

type subscribeRequest struct {
	Endpoint                    string   `json:"endpoint" validate:"required,url,max=512"`
	Keys                        pushKeys `json:"keys"`
	ServiceWorkerVersion        int      `json:"service_worker_version" validate:"gte=0"`
	DeviceID                    string   `json:"device_id" validate:"max=64"`
	DeviceFingerprint           string   `json:"device_fingerprint" validate:"max=128"`
	DeviceFingerprintConfidence float64  `json:"device_fingerprint_confidence" validate:"gte=0,lte=1"`
}

// POST /api/push/subscriptions
//
// Anonymous callers create an unattributed registration that later correlates with an owner.
func (h *PushHandler) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	registration, err := h.correlator.AttachOrCreate(requestContext(c), correlation.AttachInput{
		Endpoint:                    req.Endpoint,
		P256dhKey:                   req.Keys.P256dh,
		AuthKey:                     req.Keys.Auth,
		ServiceWorkerVersion:        req.ServiceWorkerVersion,
		Owner:                       viewerOf(c).Identity(),
		DeviceID:                    req.DeviceID,
		DeviceFingerprint:           req.DeviceFingerprint,
		DeviceFingerprintConfidence: req.DeviceFingerprintConfidence,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, registration)
}
