package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"traffic-law-bot/internal/eino/callbacks"
	"traffic-law-bot/internal/metrics"
	"traffic-law-bot/pkg/logger"
)

// RequestIDKey 请求ID在 gin.Context 中的键名
const RequestIDKey = "request_id"

// RequestIDHeader 请求ID的请求/响应头
const RequestIDHeader = "X-Request-ID"

// LoggingConfig 日志中间件配置
type LoggingConfig struct {
	// SkipPaths 不记录日志的路径前缀（健康检查、指标）
	SkipPaths []string
	Logger    logger.Logger
	Metrics   *metrics.Metrics
}

// LoggingMiddleware 生成请求ID、记录请求日志和 HTTP 指标。
// 请求ID同时作为 Eino 回调的 trace_id，问答流程的节点日志可按请求关联。
func LoggingMiddleware(config *LoggingConfig) gin.HandlerFunc {
	if config == nil {
		config = &LoggingConfig{SkipPaths: []string{"/v1/health", "/metrics"}}
	}
	if config.Logger == nil {
		config.Logger = logger.GetDefault()
	}

	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.New().String()
		}
		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		ctx := callbacks.WithTraceID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)

		startTime := time.Now()
		c.Next()
		duration := time.Since(startTime)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		if m := config.Metrics; m != nil {
			m.RequestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
			m.RequestDuration.WithLabelValues(route, c.Request.Method).Observe(duration.Seconds())
		}

		if shouldSkipPath(c.Request.URL.Path, config.SkipPaths) {
			return
		}

		config.Logger.InfoContext(ctx, "HTTP请求完成",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status_code", c.Writer.Status(),
			"duration_ms", float64(duration.Nanoseconds())/1e6,
			"response_size", c.Writer.Size(),
			"client_ip", c.ClientIP(),
		)

		for _, err := range c.Errors {
			config.Logger.ErrorContext(ctx, "HTTP请求处理错误",
				"request_id", requestID,
				"error", err.Error(),
				"error_type", err.Type,
			)
		}
	}
}

// shouldSkipPath 检查是否应该跳过某个路径的日志记录
func shouldSkipPath(path string, skipPaths []string) bool {
	for _, skipPath := range skipPaths {
		if strings.HasPrefix(path, skipPath) {
			return true
		}
	}
	return false
}

// GetRequestID 从Context中获取请求ID
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}
