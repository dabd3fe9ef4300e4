package middleware

import (
	"log/slog"
	"net/http"

	"github.com/Moises833/StudyHub/internal/pkg/metrics"
	"github.com/Moises833/StudyHub/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
)

// RateLimit 按客户端 IP 做固定窗口限流，超限返回 429。
//
// Redis 不可用时放行请求，只记日志。
func RateLimit(limiter *ratelimit.Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil && logger != nil {
			logger.Warn("rate limit check failed", slog.String("error", err.Error()))
		}
		if !allowed {
			metrics.RateLimitedTotal.Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "Too many requests from this IP, please try again later",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
