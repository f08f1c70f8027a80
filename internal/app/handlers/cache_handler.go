package handlers

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"traffic-law-bot/internal/app/middleware"
	"traffic-law-bot/internal/eino/nodes"
	"traffic-law-bot/internal/semcache"
	"traffic-law-bot/pkg/logger"
	"traffic-law-bot/pkg/status"
)

// CacheHandler 语义缓存管理接口
type CacheHandler struct {
	caches  *semcache.Manager
	quality *nodes.QualityChecker
	logger  logger.Logger
}

// NewCacheHandler 创建缓存处理器
func NewCacheHandler(caches *semcache.Manager, quality *nodes.QualityChecker, log logger.Logger) *CacheHandler {
	if log == nil {
		log = logger.GetDefault()
	}
	return &CacheHandler{caches: caches, quality: quality, logger: log}
}

// QueryRequest 查询请求
type QueryRequest struct {
	Question string `json:"question" binding:"required"`
}

// QueryResponse 查询结果
type QueryResponse struct {
	Hit     bool          `json:"hit"`
	Outcome string        `json:"outcome"`
	Result  *semcache.Hit `json:"result,omitempty"`
}

// StoreRequest 存储请求
type StoreRequest struct {
	Question   string         `json:"question" binding:"required"`
	Answer     string         `json:"answer" binding:"required"`
	Persona    string         `json:"persona,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ForceWrite bool           `json:"force_write,omitempty"`
}

// StoreResponse 存储结果
type StoreResponse struct {
	Stored       bool    `json:"stored"`
	Outcome      string  `json:"outcome"`
	QualityScore float64 `json:"quality_score"`
	Reason       string  `json:"reason,omitempty"`
}

// StatisticsResponse 统计信息
type StatisticsResponse struct {
	Semantic  semcache.Stats           `json:"semantic"`
	Embedding *semcache.EmbeddingStats `json:"embedding,omitempty"`
}

// QueryCache 查询缓存
// POST /v1/cache/search
func (h *CacheHandler) QueryCache(c *gin.Context) {
	ctx := c.Request.Context()
	requestID := middleware.GetRequestID(c)

	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WarnContext(ctx, "缓存查询请求参数解析失败", "request_id", requestID, "error", err.Error())
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数格式错误", err)
		return
	}
	query := nodes.CleanText(req.Question)
	if query == "" {
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数验证失败",
			&ValidationError{Field: "question", Message: "问题不能为空"})
		return
	}

	startTime := time.Now()
	res, err := h.caches.Semantic().Lookup(ctx, query)
	if err != nil {
		h.logger.ErrorContext(ctx, "缓存查询失败", "request_id", requestID, "error", err.Error())
		respondWithError(c, status.ErrCodeInternal, "缓存查询失败", err)
		return
	}
	if res.Outcome == semcache.OutcomeNoProvider {
		respondWithError(c, status.ErrCodeUnavailable, "语义缓存未挂载Embedding提供者", nil)
		return
	}

	h.logger.InfoContext(ctx, "缓存查询请求处理完成",
		"request_id", requestID,
		"duration_ms", time.Since(startTime).Milliseconds(),
		"outcome", res.Outcome.String())

	respondWithSuccess(c, &QueryResponse{
		Hit:     res.Outcome == semcache.OutcomeHit,
		Outcome: res.Outcome.String(),
		Result:  res.Hit,
	}, "缓存查询成功")
}

// StoreCache 存储问答对，未强制写入时先过质量门
// POST /v1/cache/store
func (h *CacheHandler) StoreCache(c *gin.Context) {
	ctx := c.Request.Context()
	requestID := middleware.GetRequestID(c)

	var req StoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WarnContext(ctx, "缓存存储请求参数解析失败", "request_id", requestID, "error", err.Error())
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数格式错误", err)
		return
	}
	if err := validateStoreRequest(&req); err != nil {
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数验证失败", err)
		return
	}
	question := nodes.CleanText(req.Question)

	resp := &StoreResponse{QualityScore: 1}
	if h.quality != nil {
		qc, err := h.quality.Check(ctx, &nodes.QualityCheckInput{
			Question:   question,
			Answer:     req.Answer,
			Persona:    req.Persona,
			Metadata:   req.Metadata,
			ForceWrite: req.ForceWrite,
		})
		if err != nil {
			respondWithError(c, status.ErrCodeInternal, "质量检查失败", err)
			return
		}
		resp.QualityScore = qc.Score
		if !qc.Passed {
			resp.Outcome = "rejected"
			resp.Reason = qc.Reason
			respondWithSuccess(c, resp, "未通过质量检查，未写入缓存")
			return
		}
	}

	meta := req.Metadata
	if req.Persona != "" {
		if meta == nil {
			meta = make(map[string]any, 1)
		}
		meta["persona"] = req.Persona
	}

	outcome, err := h.caches.Semantic().Set(ctx, question, req.Answer, meta)
	if err != nil {
		h.logger.ErrorContext(ctx, "缓存写入失败", "request_id", requestID, "error", err.Error())
		respondWithError(c, status.ErrCodeInternal, "缓存存储失败", err)
		return
	}
	if outcome == semcache.SetSkippedNoProvider {
		respondWithError(c, status.ErrCodeUnavailable, "语义缓存未挂载Embedding提供者", nil)
		return
	}

	resp.Outcome = outcome.String()
	resp.Stored = outcome == semcache.SetInserted || outcome == semcache.SetUpdated
	h.logger.InfoContext(ctx, "缓存存储请求处理完成", "request_id", requestID, "outcome", resp.Outcome)
	respondWithSuccess(c, resp, "缓存存储成功")
}

// GetCacheStatistics 获取缓存统计信息
// GET /v1/cache/statistics
func (h *CacheHandler) GetCacheStatistics(c *gin.Context) {
	ctx := c.Request.Context()

	stats, err := h.caches.Semantic().Stats(ctx)
	if err != nil {
		respondWithError(c, status.ErrCodeInternal, "缓存统计查询失败", err)
		return
	}
	resp := &StatisticsResponse{Semantic: stats}
	if emb := h.caches.Embeddings(); emb != nil {
		es, err := emb.Stats(ctx)
		if err != nil {
			respondWithError(c, status.ErrCodeInternal, "缓存统计查询失败", err)
			return
		}
		resp.Embedding = &es
	}
	respondWithSuccess(c, resp, "缓存统计查询成功")
}

// ClearCache 清空语义缓存，?all=true 时同时清空 Embedding 缓存
// DELETE /v1/cache
func (h *CacheHandler) ClearCache(c *gin.Context) {
	ctx := c.Request.Context()

	if c.Query("all") == "true" {
		if err := h.caches.Reset(ctx); err != nil {
			respondWithError(c, status.ErrCodeInternal, "缓存清空失败", err)
			return
		}
		h.logger.WarnContext(ctx, "全部缓存已清空", "request_id", middleware.GetRequestID(c))
		respondWithSuccess(c, gin.H{"cleared": "all"}, "缓存已清空")
		return
	}

	n, err := h.caches.Semantic().Clear(ctx)
	if err != nil {
		respondWithError(c, status.ErrCodeInternal, "缓存清空失败", err)
		return
	}
	h.logger.WarnContext(ctx, "语义缓存已清空", "request_id", middleware.GetRequestID(c), "deleted", n)
	respondWithSuccess(c, gin.H{"deleted": n}, "缓存已清空")
}

// validateStoreRequest 验证存储请求
func validateStoreRequest(req *StoreRequest) error {
	if strings.TrimSpace(req.Question) == "" {
		return &ValidationError{Field: "question", Message: "问题不能为空"}
	}
	if len(req.Question) > 4000 {
		return &ValidationError{Field: "question", Message: "问题长度不能超过4000字节"}
	}
	if strings.TrimSpace(req.Answer) == "" {
		return &ValidationError{Field: "answer", Message: "答案不能为空"}
	}
	if len(req.Answer) > 40000 {
		return &ValidationError{Field: "answer", Message: "答案长度不能超过40000字节"}
	}
	return nil
}
