package middleware

import (
	"strconv"
	"time"

	"log/slog"

	"github.com/Moises833/StudyHub/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs HTTP request/response metadata.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		path := c.Request.URL.Path
		method := c.Request.Method
		clientIP := c.ClientIP()

		metrics.HTTPRequestsTotal.WithLabelValues(method, c.FullPath(), strconv.Itoa(status)).Inc()

		if logger != nil {
			logger.Info("http request",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", status),
				slog.String("client_ip", clientIP),
				slog.String("latency", latency.String()),
			)
		}
	}
}
