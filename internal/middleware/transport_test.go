package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestRequireTransportKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	serve := func(configured, presented string) int {
		r := gin.New()
		r.GET("/internal", RequireTransportKey(configured), func(c *gin.Context) { c.Status(http.StatusOK) })
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/internal", nil)
		if presented != "" {
			req.Header.Set(TransportKeyHeader, presented)
		}
		r.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusOK, serve("k3y", "k3y"))
	require.Equal(t, http.StatusUnauthorized, serve("k3y", ""))
	require.Equal(t, http.StatusUnauthorized, serve("k3y", "other"))
	require.Equal(t, http.StatusUnauthorized, serve("", ""))
}
