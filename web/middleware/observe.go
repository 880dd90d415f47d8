package middleware

import (
	"strconv"
	"time"

	"go-referral/monitoring"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Observe logs each request with zap and records it in the HTTP metrics.
func Observe(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		latency := time.Since(start)

		monitoring.HttpRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
		monitoring.ResponseTimeHistogram.WithLabelValues(c.Request.Method, path).Observe(latency.Seconds())

		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
