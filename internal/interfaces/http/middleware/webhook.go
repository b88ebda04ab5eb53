package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WebhookTokenHeader carries the shared secret the exchange provider sends
// with every notification.
const WebhookTokenHeader = "X-Webhook-Token"

// WebhookAuth authenticates inbound exchange notifications against a shared
// token. An empty configured token disables the check, which is only
// acceptable outside production; config validation enforces that.
func WebhookAuth(token string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		presented := c.GetHeader(WebhookTokenHeader)
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			if logger != nil {
				logger.Warn("Webhook authentication failed",
					zap.String("path", c.Request.URL.Path),
					zap.String("client_ip", c.ClientIP()),
				)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "ERR_UNAUTHORIZED",
					"message": "Invalid webhook token",
				},
			})
			return
		}

		c.Next()
	}
}
