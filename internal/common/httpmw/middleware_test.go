package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/agentswarm/agentswarm/internal/common/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(mw...)
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func doGet(router *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestBearerAuthDisabled(t *testing.T) {
	router := newRouter(BearerAuth(""))

	assert.Equal(t, http.StatusOK, doGet(router, "").Code)
}

func TestBearerAuth(t *testing.T) {
	router := newRouter(BearerAuth("sekrit"))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic sekrit", http.StatusUnauthorized},
		{"lowercase scheme", "bearer sekrit", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer sekrit", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doGet(router, tt.header)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error": "invalid or missing bearer token"}`, w.Body.String())
			}
		})
	}
}

func TestRequestPipeline(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	assert.NoError(t, err)

	// Tracing falls back to a noop tracer when no exporter is configured, so
	// the full middleware chain runs in tests.
	router := newRouter(RequestLogger(log, "test"), OtelTracing("test"), BearerAuth("sekrit"))

	assert.Equal(t, http.StatusOK, doGet(router, "Bearer sekrit").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(router, "").Code)
}
