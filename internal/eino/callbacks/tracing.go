package callbacks

import (
	"context"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"traffic-law-bot/internal/eino/config"
	"traffic-law-bot/pkg/logger"
)

// TracingHandler 以日志形式输出组件级跨度，trace_id 沿用请求 ID
type TracingHandler struct {
	cfg    *config.TracingCallbackConfig
	logger logger.Logger
}

// SpanInfo 跨度信息
type SpanInfo struct {
	TraceID   string
	SpanID    string
	ParentID  string
	Component string
	Name      string
	StartTime time.Time
}

// NewTracingHandler 创建链路追踪回调处理器
func NewTracingHandler(cfg *config.TracingCallbackConfig, log logger.Logger) callbacks.Handler {
	return &TracingHandler{
		cfg:    cfg,
		logger: log,
	}
}

// OnStart 组件开始执行时调用
func (h *TracingHandler) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	if !h.cfg.Enabled {
		return ctx
	}

	traceID := ExtractTraceID(ctx)
	if traceID == "" {
		traceID = uuid.NewString()
		ctx = WithTraceID(ctx, traceID)
	}

	var parentID string
	if parent := getCurrentSpan(ctx); parent != nil {
		parentID = parent.SpanID
	}

	span := &SpanInfo{
		TraceID:   traceID,
		SpanID:    uuid.NewString()[:8],
		ParentID:  parentID,
		Component: string(info.Component),
		Name:      info.Name,
		StartTime: time.Now(),
	}
	ctx = context.WithValue(ctx, currentSpanKey, span)

	h.logger.DebugContext(ctx, "开始跨度",
		"trace_id", span.TraceID,
		"span_id", span.SpanID,
		"parent_id", span.ParentID,
		"component", span.Component,
		"name", span.Name,
	)

	return ctx
}

// OnEnd 组件执行完成时调用
func (h *TracingHandler) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	if !h.cfg.Enabled {
		return ctx
	}

	if span := getCurrentSpan(ctx); span != nil {
		h.logger.DebugContext(ctx, "结束跨度",
			"trace_id", span.TraceID,
			"span_id", span.SpanID,
			"name", span.Name,
			"duration_ms", time.Since(span.StartTime).Milliseconds(),
			"status", "OK",
		)
	}
	return ctx
}

// OnError 组件执行出错时调用
func (h *TracingHandler) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	if !h.cfg.Enabled {
		return ctx
	}

	if span := getCurrentSpan(ctx); span != nil {
		h.logger.WarnContext(ctx, "跨度出错",
			"trace_id", span.TraceID,
			"span_id", span.SpanID,
			"name", span.Name,
			"duration_ms", time.Since(span.StartTime).Milliseconds(),
			"error", err.Error(),
		)
	}
	return ctx
}

// OnStartWithStreamInput 流式输入开始时调用
func (h *TracingHandler) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo, input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	return h.OnStart(ctx, info, nil)
}

// OnEndWithStreamOutput 流式输出结束时调用
func (h *TracingHandler) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo, output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	output.Close()
	return h.OnEnd(ctx, info, nil)
}

func getCurrentSpan(ctx context.Context) *SpanInfo {
	if span, ok := ctx.Value(currentSpanKey).(*SpanInfo); ok {
		return span
	}
	return nil
}

const (
	traceIDKey     contextKey = "trace_id"
	currentSpanKey contextKey = "current_span"
)

// WithTraceID 设置 Trace ID 到上下文
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// ExtractTraceID 从上下文提取 Trace ID
func ExtractTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}
