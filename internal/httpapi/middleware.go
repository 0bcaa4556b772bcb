package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// tokenFromRequest extracts the shared secret from the Authorization bearer
// header, the X-Api-Key header, or the token query parameter, in that order.
func tokenFromRequest(ctx *gin.Context) string {
	header := ctx.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if key := ctx.GetHeader("X-Api-Key"); key != "" {
		return key
	}
	return ctx.Query("token")
}

func secretMatches(provided string, expected string) bool {
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// requireSharedSecret guards mutating API routes with the static shared
// secret the site builder embeds in its requests.
func requireSharedSecret(secret string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !secretMatches(tokenFromRequest(ctx), secret) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errorCodeAuth, "missing or invalid shared secret"))
			return
		}
		ctx.Next()
	}
}

// requestLogger emits one structured line per request.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		started := time.Now()
		ctx.Next()
		logger.Info("request",
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.Request.URL.Path),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("duration", time.Since(started)),
		)
	}
}
