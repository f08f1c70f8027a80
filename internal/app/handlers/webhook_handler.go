package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"traffic-law-bot/internal/app/middleware"
	"traffic-law-bot/internal/messenger"
	"traffic-law-bot/pkg/logger"
)

// WebhookService Messenger 消息处理
type WebhookService interface {
	Verify(mode, token, challenge string) (string, bool)
	Dispatch(payload *messenger.WebhookPayload)
}

// WebhookHandler Facebook Messenger webhook
type WebhookHandler struct {
	service WebhookService
	logger  logger.Logger
}

// NewWebhookHandler 创建 webhook 处理器
func NewWebhookHandler(service WebhookService, log logger.Logger) *WebhookHandler {
	if log == nil {
		log = logger.GetDefault()
	}
	return &WebhookHandler{service: service, logger: log}
}

// Verify 订阅校验，成功时原样返回 hub.challenge
// GET /webhook
func (h *WebhookHandler) Verify(c *gin.Context) {
	challenge, ok := h.service.Verify(
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"),
	)
	if !ok {
		h.logger.WarnContext(c.Request.Context(), "webhook校验失败",
			"request_id", middleware.GetRequestID(c),
			"mode", c.Query("hub.mode"))
		c.String(http.StatusForbidden, "forbidden")
		return
	}
	c.String(http.StatusOK, challenge)
}

// Receive 接收消息推送。处理异步进行，无论结果如何都立即确认，
// 否则平台会重复投递。
// POST /webhook
func (h *WebhookHandler) Receive(c *gin.Context) {
	var payload messenger.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.logger.WarnContext(c.Request.Context(), "webhook负载解析失败",
			"request_id", middleware.GetRequestID(c),
			"error", err.Error())
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	if payload.Object == "page" {
		h.service.Dispatch(&payload)
	} else {
		h.logger.DebugContext(c.Request.Context(), "忽略非page对象的推送", "object", payload.Object)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
