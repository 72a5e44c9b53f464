package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/smallworld/internal/monitoring"
	"github.com/charlesng35/smallworld/pkg/response"
)

// HealthHandler exposes liveness and readiness probes.
type HealthHandler struct {
	manager *monitoring.HealthManager
}

// NewHealthHandler constructs a health handler.
func NewHealthHandler(manager *monitoring.HealthManager) *HealthHandler {
	if manager == nil {
		manager = monitoring.NewHealthManager()
	}
	return &HealthHandler{manager: manager}
}

// Summary reports the overall readiness status without per-check detail.
func (h *HealthHandler) Summary(c *gin.Context) {
	report := h.manager.EvaluateReadiness(requestContext(c))
	writeReport(c, report, gin.H{
		"status":     report.Status,
		"checked_at": report.CheckedAt,
	})
}

// Live evaluates the liveness probes.
func (h *HealthHandler) Live(c *gin.Context) {
	report := h.manager.EvaluateLiveness(requestContext(c))
	writeReport(c, report, report)
}

// Ready evaluates the readiness probes.
func (h *HealthHandler) Ready(c *gin.Context) {
	report := h.manager.EvaluateReadiness(requestContext(c))
	writeReport(c, report, report)
}

// A degraded dependency still serves traffic.
func writeReport(c *gin.Context, report monitoring.HealthReport, data any) {
	code := http.StatusOK
	if report.Status == monitoring.StatusDown {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, response.Response{Success: code == http.StatusOK, Data: data})
}
