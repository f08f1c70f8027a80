// Package llm 封装大模型调用，对外只暴露统一的 Result 类型
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"traffic-law-bot/internal/resilience"
	"traffic-law-bot/pkg/logger"
)

// ErrEmptyCompletion 模型返回了空内容
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Result 一次生成的结果
type Result struct {
	Text             string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

// FromMessage 将模型返回的消息转换为 Result，这是唯一的响应解包位置
func FromMessage(msg *schema.Message) (Result, error) {
	if msg == nil || msg.Content == "" {
		return Result{}, ErrEmptyCompletion
	}

	res := Result{Text: msg.Content}
	if meta := msg.ResponseMeta; meta != nil {
		res.FinishReason = meta.FinishReason
		if meta.Usage != nil {
			res.PromptTokens = meta.Usage.PromptTokens
			res.CompletionTokens = meta.Usage.CompletionTokens
		}
	}
	return res, nil
}

// Generator 带超时、重试和熔断的生成器
type Generator struct {
	model   model.BaseChatModel
	policy  *resilience.Policy
	timeout time.Duration
	log     logger.Logger
}

// NewGenerator 创建生成器，timeout 为单次尝试的超时
func NewGenerator(m model.BaseChatModel, policy *resilience.Policy, timeout time.Duration, log logger.Logger) *Generator {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Generator{model: m, policy: policy, timeout: timeout, log: log}
}

// Generate 生成回答
func (g *Generator) Generate(ctx context.Context, messages []*schema.Message) (Result, error) {
	start := time.Now()

	res, err := resilience.Call(ctx, g.policy, func(ctx context.Context) (Result, error) {
		if g.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}

		msg, err := g.model.Generate(ctx, messages)
		if err != nil {
			return Result{}, err
		}
		res, err := FromMessage(msg)
		if err != nil {
			return Result{}, resilience.Permanent(err)
		}
		return res, nil
	})
	if err != nil {
		g.log.ErrorContext(ctx, "大模型生成失败", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return Result{}, fmt.Errorf("generate: %w", err)
	}

	g.log.DebugContext(ctx, "大模型生成完成",
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", res.PromptTokens,
		"completion_tokens", res.CompletionTokens,
	)
	return res, nil
}
