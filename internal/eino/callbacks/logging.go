// Package callbacks 提供 Eino Callback 处理器实现
package callbacks

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/schema"

	"traffic-law-bot/internal/eino/config"
	"traffic-law-bot/pkg/logger"
)

// LoggingHandler 在组件开始、结束或出错时记录日志。
type LoggingHandler struct {
	logger logger.Logger
	cfg    *config.LoggingCallbackConfig
	debug  bool
}

// NewLoggingHandler 创建一个新的日志回调处理器。
// cfg.Level 为 debug 时开始/结束日志以 Debug 级别输出，否则为 Info。
func NewLoggingHandler(log logger.Logger, cfg *config.LoggingCallbackConfig) callbacks.Handler {
	return &LoggingHandler{
		logger: log,
		cfg:    cfg,
		debug:  strings.EqualFold(cfg.Level, "debug"),
	}
}

func (h *LoggingHandler) log(ctx context.Context, msg string, args ...any) {
	if h.debug {
		h.logger.DebugContext(ctx, msg, args...)
		return
	}
	h.logger.InfoContext(ctx, msg, args...)
}

// OnStart 记录组件开始并把开始时间写入上下文以计算耗时。
func (h *LoggingHandler) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	if !h.cfg.Enabled {
		return ctx
	}

	ctx = context.WithValue(ctx, startTimeKey, time.Now())

	h.log(ctx, "组件开始执行",
		"component", info.Component,
		"name", info.Name,
		"type", info.Type,
	)

	return ctx
}

// OnEnd 记录组件执行耗时。
func (h *LoggingHandler) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	if !h.cfg.Enabled {
		return ctx
	}

	h.log(ctx, "组件执行完成",
		"component", info.Component,
		"name", info.Name,
		"type", info.Type,
		"duration_ms", sinceStart(ctx, startTimeKey).Milliseconds(),
	)

	return ctx
}

// OnError 记录错误详情和执行耗时。
func (h *LoggingHandler) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	if !h.cfg.Enabled {
		return ctx
	}

	h.logger.ErrorContext(ctx, "组件执行出错",
		"component", info.Component,
		"name", info.Name,
		"type", info.Type,
		"duration_ms", sinceStart(ctx, startTimeKey).Milliseconds(),
		"error", err.Error(),
	)

	return ctx
}

// OnStartWithStreamInput 流式输入开始。
func (h *LoggingHandler) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo, input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	return h.OnStart(ctx, info, nil)
}

// OnEndWithStreamOutput 流式输出结束。
func (h *LoggingHandler) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo, output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	output.Close()
	return h.OnEnd(ctx, info, nil)
}

// contextKey 定义了上下文键的类型，用于防止键名冲突。
type contextKey string

const (
	startTimeKey        contextKey = "callback_start_time"
	metricsStartTimeKey contextKey = "metrics_start_time"
)

func sinceStart(ctx context.Context, key contextKey) time.Duration {
	start, ok := ctx.Value(key).(time.Time)
	if !ok {
		return 0
	}
	return time.Since(start)
}
