package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Gin context keys set by APIKeyMiddleware.
const (
	clientCtxKey = "client_name"
	loggerCtxKey = "client_logger"
)

// APIKeyMiddleware maps X-API-Key to a client name (a terminal, a gate
// controller, an upstream sync job) and rejects unknown keys. Accepted
// requests carry a logger tagged with the client and request id.
func APIKeyMiddleware(keys map[string]string, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		client, ok := keys[strings.TrimSpace(c.GetHeader("X-API-Key"))]
		if !ok {
			log.Debug("rejected api key", zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(clientCtxKey, client)
		c.Set(loggerCtxKey, log.With(
			zap.String("client", client),
			zap.String("request_id", c.GetString("request_id")),
		))
		c.Next()
	}
}

// ClientName returns the authenticated client from the request context.
func ClientName(c *gin.Context) string {
	v, _ := c.Get(clientCtxKey)
	s, _ := v.(string)
	return s
}

// Logger returns the client-scoped logger, or fallback outside the auth group.
func Logger(c *gin.Context, fallback *zap.Logger) *zap.Logger {
	if v, ok := c.Get(loggerCtxKey); ok {
		if l, ok := v.(*zap.Logger); ok {
			return l
		}
	}
	if fallback == nil {
		return zap.NewNop()
	}
	return fallback
}
