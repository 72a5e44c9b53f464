package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/smallworld/pkg/crypto"
	"github.com/charlesng35/smallworld/pkg/errors"
	"github.com/charlesng35/smallworld/pkg/metrics"
	"github.com/charlesng35/smallworld/pkg/response"
)

// TransportKeyHeader carries the shared key of the external push/SMS sender.
const TransportKeyHeader = "X-Transport-Key"

// RequireTransportKey guards the endpoints polled by the delivery transport.
// An empty configured key rejects every request.
func RequireTransportKey(apiKey string) gin.HandlerFunc {
	apiKey = strings.TrimSpace(apiKey)
	return func(c *gin.Context) {
		presented := strings.TrimSpace(c.GetHeader(TransportKeyHeader))
		if !crypto.EqualTokens(apiKey, presented) {
			metrics.TransportChecks.WithLabelValues("denied").Inc()
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		metrics.TransportChecks.WithLabelValues("allowed").Inc()
		c.Next()
	}
}
