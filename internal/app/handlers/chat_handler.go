package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"traffic-law-bot/internal/app/middleware"
	"traffic-law-bot/internal/eino/flows"
	"traffic-law-bot/internal/persona"
	"traffic-law-bot/internal/session"
	"traffic-law-bot/pkg/logger"
	"traffic-law-bot/pkg/status"
)

const maxMessageRunes = 2000

// Answerer 问答流程
type Answerer interface {
	Run(ctx context.Context, in *flows.AnswerInput) (*flows.AnswerOutput, error)
}

// ChatHandler 对话与会话接口
type ChatHandler struct {
	answerer Answerer
	sessions *session.Manager
	personas *persona.Registry
	logger   logger.Logger
}

// NewChatHandler 创建对话处理器
func NewChatHandler(answerer Answerer, sessions *session.Manager, personas *persona.Registry, log logger.Logger) *ChatHandler {
	if log == nil {
		log = logger.GetDefault()
	}
	return &ChatHandler{answerer: answerer, sessions: sessions, personas: personas, logger: log}
}

// ChatRequest 对话请求
type ChatRequest struct {
	Message   string `json:"message" binding:"required"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Persona   string `json:"persona,omitempty"`
}

// ChatResponse 对话响应
type ChatResponse struct {
	SessionID  string   `json:"session_id"`
	Response   string   `json:"response"`
	Source     string   `json:"source"`
	Persona    string   `json:"persona"`
	Route      string   `json:"route,omitempty"`
	Citations  []string `json:"citations,omitempty"`
	Similarity float64  `json:"similarity,omitempty"`
	Cached     bool     `json:"cached"`
}

// HistoryResponse 会话历史
type HistoryResponse struct {
	SessionID string         `json:"session_id"`
	Turns     []session.Turn `json:"turns"`
}

// Chat 回答一条用户消息
// POST /v1/chat
func (h *ChatHandler) Chat(c *gin.Context) {
	ctx := c.Request.Context()
	requestID := middleware.GetRequestID(c)

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WarnContext(ctx, "对话请求参数解析失败", "request_id", requestID, "error", err.Error())
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数格式错误", err)
		return
	}
	if err := h.validateChatRequest(&req); err != nil {
		respondWithError(c, status.ErrCodeInvalidParam, "请求参数验证失败", err)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	startTime := time.Now()
	out, err := h.answerer.Run(ctx, &flows.AnswerInput{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Message:   req.Message,
		Persona:   req.Persona,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "问答流程执行失败",
			"request_id", requestID,
			"session_id", req.SessionID,
			"duration_ms", time.Since(startTime).Milliseconds(),
			"error", err.Error())
		if errors.Is(err, flows.ErrEmptyMessage) {
			respondWithError(c, status.ErrCodeInvalidParam, "消息不能为空", err)
			return
		}
		respondWithError(c, status.ErrCodeInternal, "问答失败", err)
		return
	}

	resp := &ChatResponse{
		SessionID:  req.SessionID,
		Response:   out.Response,
		Source:     out.Source,
		Persona:    out.Persona,
		Route:      out.Route,
		Citations:  out.Citations,
		Similarity: out.Similarity,
		Cached:     out.Cached,
	}
	if out.Source == flows.SourceGuard {
		// 拦截也返回回复文本，业务码标记为拦截
		c.JSON(http.StatusOK, APIResponse{
			Success:   false,
			Code:      int(status.ErrCodeBlocked),
			Message:   "内容被安全策略拦截",
			Data:      resp,
			RequestID: requestID,
			Timestamp: time.Now().Unix(),
		})
		return
	}

	h.logger.InfoContext(ctx, "对话请求处理完成",
		"request_id", requestID,
		"session_id", req.SessionID,
		"source", out.Source,
		"duration_ms", time.Since(startTime).Milliseconds())
	respondWithSuccess(c, resp, "ok")
}

// History 返回会话历史
// GET /v1/sessions/:session_id/history
func (h *ChatHandler) History(c *gin.Context) {
	id := c.Param("session_id")
	turns := h.sessions.History(id)
	if turns == nil {
		respondWithError(c, status.ErrCodeNotFound, "会话不存在", nil)
		return
	}
	respondWithSuccess(c, &HistoryResponse{SessionID: id, Turns: turns}, "ok")
}

// ResetSession 删除会话
// DELETE /v1/sessions/:session_id
func (h *ChatHandler) ResetSession(c *gin.Context) {
	id := c.Param("session_id")
	if !h.sessions.Reset(id) {
		respondWithError(c, status.ErrCodeNotFound, "会话不存在", nil)
		return
	}
	h.logger.InfoContext(c.Request.Context(), "会话已重置", "session_id", id)
	respondWithSuccess(c, gin.H{"session_id": id}, "会话已重置")
}

// Personas 列出可用人设
// GET /v1/personas
func (h *ChatHandler) Personas(c *gin.Context) {
	respondWithSuccess(c, h.personas.List(), "ok")
}

func (h *ChatHandler) validateChatRequest(req *ChatRequest) error {
	if strings.TrimSpace(req.Message) == "" {
		return &ValidationError{Field: "message", Message: "消息不能为空"}
	}
	if utf8.RuneCountInString(req.Message) > maxMessageRunes {
		return &ValidationError{Field: "message", Message: "消息长度不能超过2000字符"}
	}
	if req.Persona != "" && !h.personas.Has(req.Persona) {
		return &ValidationError{Field: "persona", Message: "未知的人设: " + req.Persona}
	}
	return nil
}
