package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(context *gin.Context) {
		start := time.Now()
		context.Next()
		logger.Info("http",
			zap.String("method", context.Request.Method),
			zap.String("path", context.Request.URL.Path),
			zap.Int("status", context.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("ip", context.ClientIP()),
			zap.String("ua", context.Request.UserAgent()),
		)
	}
}

// AdminAuthMiddleware requires "Authorization: Bearer <token>". An empty
// configured token disables the protected routes.
func AdminAuthMiddleware(adminBearerToken string) gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(adminBearerToken))
	return func(context *gin.Context) {
		if len(expected) == 0 {
			abortWithError(context, http.StatusServiceUnavailable, errorValueAdminDisabled)
			return
		}
		authorizationHeader := strings.TrimSpace(context.GetHeader("Authorization"))
		if !strings.HasPrefix(authorizationHeader, bearerPrefix) {
			abortWithError(context, http.StatusUnauthorized, errorValueMissingBearer)
			return
		}
		provided := []byte(strings.TrimSpace(strings.TrimPrefix(authorizationHeader, bearerPrefix)))
		if subtle.ConstantTimeCompare(provided, expected) != 1 {
			abortWithError(context, http.StatusForbidden, errorValueForbidden)
			return
		}
		context.Next()
	}
}
