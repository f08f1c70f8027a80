package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"traffic-law-bot/internal/app/middleware"
	"traffic-law-bot/pkg/status"
)

// APIResponse 统一的API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ValidationError 验证错误
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// respondWithSuccess 返回成功响应
func respondWithSuccess(c *gin.Context, data interface{}, message string) {
	c.JSON(http.StatusOK, APIResponse{
		Success:   true,
		Code:      int(status.CodeOK),
		Message:   message,
		Data:      data,
		RequestID: middleware.GetRequestID(c),
		Timestamp: time.Now().Unix(),
	})
}

// respondWithError 返回错误响应。业务错误统一用 HTTP 200 加业务码表达，
// 只有资源不存在使用 404。
func respondWithError(c *gin.Context, code status.StatusCode, message string, err error) {
	response := APIResponse{
		Success:   false,
		Code:      int(code),
		Message:   message,
		RequestID: middleware.GetRequestID(c),
		Timestamp: time.Now().Unix(),
	}

	if err != nil {
		detail := ErrorDetail{Message: err.Error(), Code: code.String()}
		if ve, ok := err.(*ValidationError); ok {
			detail.Field = ve.Field
		}
		response.Data = detail
	}

	httpStatus := http.StatusOK
	if code == status.ErrCodeNotFound {
		httpStatus = http.StatusNotFound
	}
	c.JSON(httpStatus, response)
}
