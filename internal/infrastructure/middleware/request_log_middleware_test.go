package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"meshcall/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLogMiddleware(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestLogMiddleware(logger.NewContextLogger(zap.New(core))))
	router.GET("/api/v1/call", func(c *gin.Context) {
		c.Set(RoomKey, "room-1")
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/call", nil))

	id := w.Header().Get(RequestIDHeader)
	assert.True(t, strings.HasPrefix(id, "req_"))
	assert.Equal(t, id, w.Body.String())

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, id, fields["request_id"])
	assert.Equal(t, "room-1", fields["room_id"])
	assert.Equal(t, int64(http.StatusOK), fields["status_code"])

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/call", nil)
	req.Header.Set(RequestIDHeader, "caller-42")
	router.ServeHTTP(w, req)
	assert.Equal(t, "caller-42", w.Header().Get(RequestIDHeader))
}
