package server

import (
	"github.com/gin-gonic/gin"

	"traffic-law-bot/internal/app/handlers"
	"traffic-law-bot/internal/app/middleware"
	"traffic-law-bot/internal/metrics"
	"traffic-law-bot/internal/ratelimit"
	"traffic-law-bot/pkg/logger"
)

// Handlers 注册到路由上的全部处理器。Webhook 为 nil 时不注册 Messenger 路由。
type Handlers struct {
	Chat    *handlers.ChatHandler
	Cache   *handlers.CacheHandler
	Health  *handlers.HealthHandler
	Webhook *handlers.WebhookHandler
}

// 不记录访问日志、不限流的路径
var quietPaths = []string{"/v1/health", "/metrics"}

// SetupRoutes 加载中间件并注册所有路由。
// limiter 为 nil 时不限流；m 为 nil 时不暴露 /metrics。
func SetupRoutes(engine *gin.Engine, h *Handlers, limiter *ratelimit.Keyed, m *metrics.Metrics, log logger.Logger) {
	setupMiddleware(engine, limiter, m, log)

	if m != nil {
		engine.GET("/metrics", gin.WrapH(m.Handler()))
	}

	v1 := engine.Group("/v1")
	v1.GET("/health", h.Health.HealthCheck)

	// 对话与会话
	v1.POST("/chat", h.Chat.Chat)
	v1.GET("/personas", h.Chat.Personas)
	sessions := v1.Group("/sessions")
	sessions.GET("/:session_id/history", h.Chat.History)
	sessions.DELETE("/:session_id", h.Chat.ResetSession)

	// 语义缓存管理
	cache := v1.Group("/cache")
	cache.POST("/search", h.Cache.QueryCache)
	cache.POST("/store", h.Cache.StoreCache)
	cache.GET("/statistics", h.Cache.GetCacheStatistics)
	cache.DELETE("", h.Cache.ClearCache)

	if h.Webhook != nil {
		engine.GET("/webhook", h.Webhook.Verify)
		engine.POST("/webhook", h.Webhook.Receive)
	}
}

// setupMiddleware 设置全局中间件，顺序：恢复 -> 日志 -> 限流
func setupMiddleware(engine *gin.Engine, limiter *ratelimit.Keyed, m *metrics.Metrics, log logger.Logger) {
	engine.Use(middleware.Recovery(log))
	engine.Use(middleware.LoggingMiddleware(&middleware.LoggingConfig{
		SkipPaths: quietPaths,
		Logger:    log,
		Metrics:   m,
	}))
	if limiter != nil {
		// webhook 有独立的按发送者限流
		engine.Use(middleware.RateLimit(limiter, m, append(quietPaths, "/webhook")...))
	}
}
