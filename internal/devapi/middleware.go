package devapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	headerRequestID = "X-Request-ID"
	claimsKey       = "auth_claims"
)

// RequestLogger logs one line per request and echoes or assigns X-Request-ID.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		requestID := contextGin.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		contextGin.Header(headerRequestID, requestID)
		contextGin.Next()
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("request_id", requestID),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", time.Since(startTime)),
		)
	}
}

// RequireAccessToken validates the bearer access token and injects its claims.
func RequireAccessToken(validator *TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		claims, err := validator.ValidateRequest(contextGin.Request)
		if err != nil {
			message := "Invalid token"
			switch {
			case errors.Is(err, ErrTokenExpired):
				message = "Token has expired"
			case errors.Is(err, ErrMissingToken):
				message = "Authorization token is required"
			}
			logger.Debug("access token rejected",
				zap.String("code", "devapi.auth.rejected"),
				zap.String("path", contextGin.Request.URL.Path),
				zap.Error(err))
			contextGin.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
			return
		}
		contextGin.Set(claimsKey, claims)
		contextGin.Next()
	}
}

func claimsFrom(contextGin *gin.Context) *Claims {
	value, exists := contextGin.Get(claimsKey)
	if !exists {
		return nil
	}
	claims, _ := value.(*Claims)
	return claims
}
