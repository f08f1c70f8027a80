package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"traffic-law-bot/internal/kg"
	"traffic-law-bot/internal/semcache"
	"traffic-law-bot/internal/session"
)

// HealthChecker 外部依赖的健康探测
type HealthChecker interface {
	Health(ctx context.Context) error
}

// BreakerState 熔断器状态
type BreakerState interface {
	State() string
}

// HealthHandler 健康检查
type HealthHandler struct {
	caches   *semcache.Manager
	sessions *session.Manager
	kg       HealthChecker
	breakers map[string]BreakerState
	started  time.Time
}

// NewHealthHandler 创建健康检查处理器，kg 可为 nil
func NewHealthHandler(caches *semcache.Manager, sessions *session.Manager, kgClient HealthChecker, breakers map[string]BreakerState) *HealthHandler {
	return &HealthHandler{
		caches:   caches,
		sessions: sessions,
		kg:       kgClient,
		breakers: breakers,
		started:  time.Now(),
	}
}

// HealthResponse 健康状态
type HealthResponse struct {
	Status         string            `json:"status"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	CacheEntries   int               `json:"cache_entries"`
	CacheProvider  bool              `json:"cache_provider"`
	Sessions       int               `json:"sessions"`
	KnowledgeGraph string            `json:"knowledge_graph"`
	Breakers       map[string]string `json:"breakers,omitempty"`
}

// HealthCheck 缓存不可读时为 unhealthy，知识图谱或熔断异常时为 degraded
// GET /v1/health
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	resp := &HealthResponse{
		Status:         "healthy",
		UptimeSeconds:  int64(time.Since(h.started).Seconds()),
		CacheProvider:  h.caches.Semantic().HasProvider(),
		KnowledgeGraph: "disabled",
	}
	if h.sessions != nil {
		resp.Sessions = h.sessions.Len()
	}

	size, err := h.caches.Semantic().Size(ctx)
	if err != nil {
		resp.Status = "unhealthy"
	}
	resp.CacheEntries = size

	if h.kg != nil {
		switch err := h.kg.Health(ctx); {
		case err == nil:
			resp.KnowledgeGraph = "ok"
		case errors.Is(err, kg.ErrDisabled):
		default:
			resp.KnowledgeGraph = "unreachable"
			if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		}
	}

	if len(h.breakers) > 0 {
		resp.Breakers = make(map[string]string, len(h.breakers))
		for name, b := range h.breakers {
			state := b.State()
			resp.Breakers[name] = state
			if state == "open" && resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		}
	}

	respondWithSuccess(c, resp, "服务正常")
}
