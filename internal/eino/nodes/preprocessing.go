// Package nodes 提供 Eino Graph 中使用的 Lambda 节点实现
package nodes

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// PreprocessInput 问答流程的输入。
type PreprocessInput struct {
	SessionID string
	UserID    string
	Message   string
	Persona   string
}

// PreprocessOutput 预处理后的问题，Message 同时作为语义缓存的查询键。
type PreprocessOutput struct {
	SessionID string
	UserID    string
	Message   string
	Raw       string
	Persona   string
}

// PreprocessQuery 对用户消息做清洗：去除首尾空白、合并空白、移除控制字符，并做 NFC 规范化，
// 使组合形式和预组合形式的越南语声调符号得到相同的缓存键。
func PreprocessQuery(ctx context.Context, input *PreprocessInput) (*PreprocessOutput, error) {
	return &PreprocessOutput{
		SessionID: input.SessionID,
		UserID:    input.UserID,
		Message:   CleanText(input.Message),
		Raw:       input.Message,
		Persona:   input.Persona,
	}, nil
}

// PreprocessQueryToString 预处理查询并直接返回字符串结果。
func PreprocessQueryToString(ctx context.Context, query string) (string, error) {
	return CleanText(query), nil
}

// CleanText 文本清洗
func CleanText(s string) string {
	s = removeControlChars(s)
	s = normalizeWhitespace(s)
	return norm.NFC.String(s)
}

// normalizeWhitespace 规范化空白字符，将连续的空白字符替换为单个空格。
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// removeControlChars 移除字符串中的不可打印控制字符（保留换行和制表符）。
func removeControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
}
