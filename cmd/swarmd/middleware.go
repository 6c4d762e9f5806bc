package main

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// corsMiddleware permits cross-origin browser clients, including the
// WebSocket upgrade preflight and the custom kernel headers.
func corsMiddleware() gin.HandlerFunc {
	allowHeaders := strings.Join([]string{
		"Origin", "Content-Type", "Authorization",
		"X-Agent-ID", "X-Idempotency-Key",
		"Upgrade", "Connection",
		"Sec-WebSocket-Key", "Sec-WebSocket-Version", "Sec-WebSocket-Protocol",
	}, ", ")

	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", allowHeaders)
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
