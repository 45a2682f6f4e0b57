package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GinLogger middleware для логирования запросов служебного сервера
func GinLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(startTime)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("ops request", fields...)
		} else {
			logger.Debug("ops request", fields...)
		}

		for _, e := range c.Errors {
			logger.Error("ops request error", zap.Error(e.Err))
		}
	}
}

// GinRecovery middleware для обработки паник
func GinRecovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered", zap.Any("panic", err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}
