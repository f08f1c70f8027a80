package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"traffic-law-bot/internal/metrics"
	"traffic-law-bot/internal/ratelimit"
	"traffic-law-bot/pkg/logger"
	"traffic-law-bot/pkg/status"
)

func abortWithCode(c *gin.Context, httpStatus int, code status.StatusCode, message string) {
	c.AbortWithStatusJSON(httpStatus, gin.H{
		"success":    false,
		"code":       int(code),
		"message":    message,
		"request_id": GetRequestID(c),
		"timestamp":  time.Now().Unix(),
	})
}

// Recovery 捕获 panic，记录日志后返回 500
func Recovery(log logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.GetDefault()
	}
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.ErrorContext(c.Request.Context(), "HTTP请求处理发生panic",
			"request_id", GetRequestID(c),
			"path", c.Request.URL.Path,
			"panic", fmt.Sprint(recovered),
		)
		abortWithCode(c, http.StatusInternalServerError, status.ErrCodeInternal, "服务内部错误")
	})
}

// RateLimit 按客户端 IP 限流，skipPaths 下的路径不限流
func RateLimit(limiter *ratelimit.Keyed, m *metrics.Metrics, skipPaths ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil || shouldSkipPath(c.Request.URL.Path, skipPaths) {
			c.Next()
			return
		}
		if !limiter.Allow(c.ClientIP()) {
			if m != nil {
				m.RateLimited.Inc()
			}
			c.Header("Retry-After", "1")
			abortWithCode(c, http.StatusTooManyRequests, status.ErrCodeRateLimited, "请求过于频繁，请稍后再试")
			return
		}
		c.Next()
	}
}
