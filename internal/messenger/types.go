// Package messenger 接入 Facebook Messenger：webhook 校验、消息去重、限流、异步回答和 Send API
package messenger

import (
	"time"
	"unicode/utf8"
)

// WebhookPayload webhook 推送体
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry 一个页面的事件集合
type Entry struct {
	ID        string           `json:"id"`
	Time      int64            `json:"time"`
	Messaging []MessagingEvent `json:"messaging"`
}

// Participant 发送者或接收者
type Participant struct {
	ID string `json:"id"`
}

// MessagingEvent 单条消息事件，Timestamp 为毫秒
type MessagingEvent struct {
	Sender    Participant `json:"sender"`
	Recipient Participant `json:"recipient"`
	Timestamp int64       `json:"timestamp"`
	Message   *Message    `json:"message,omitempty"`
}

// Message 消息内容
type Message struct {
	Mid    string `json:"mid"`
	Text   string `json:"text,omitempty"`
	IsEcho bool   `json:"is_echo,omitempty"`
}

// IsText 用户发来的文本消息
func (e MessagingEvent) IsText() bool {
	return e.Message != nil && !e.Message.IsEcho && e.Message.Text != "" && e.Sender.ID != ""
}

// SentAt 消息发送时间
func (e MessagingEvent) SentAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Verify 订阅校验，成功时返回 challenge
func Verify(mode, token, challenge, expected string) (string, bool) {
	if mode != "subscribe" || expected == "" || token != expected {
		return "", false
	}
	return challenge, true
}

// TruncateRunes 按字符截断，不切断多字节字符
func TruncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
