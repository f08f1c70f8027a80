package callbacks

import (
	"context"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/schema"

	"traffic-law-bot/internal/eino/config"
	"traffic-law-bot/internal/metrics"
)

// MetricsHandler 把组件调用次数和耗时写入 Prometheus
type MetricsHandler struct {
	cfg     *config.MetricsCallbackConfig
	metrics *metrics.Metrics
}

// NewMetricsHandler 创建指标回调处理器
func NewMetricsHandler(cfg *config.MetricsCallbackConfig, m *metrics.Metrics) callbacks.Handler {
	return &MetricsHandler{cfg: cfg, metrics: m}
}

func (h *MetricsHandler) enabled() bool {
	return h.cfg.Enabled && h.metrics != nil
}

// OnStart 组件开始执行时调用
func (h *MetricsHandler) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	if !h.enabled() {
		return ctx
	}
	return context.WithValue(ctx, metricsStartTimeKey, time.Now())
}

// OnEnd 组件执行完成时调用
func (h *MetricsHandler) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	if !h.enabled() {
		return ctx
	}
	h.observe(ctx, info, "ok")
	return ctx
}

// OnError 组件执行出错时调用
func (h *MetricsHandler) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	if !h.enabled() {
		return ctx
	}
	h.observe(ctx, info, "error")
	return ctx
}

func (h *MetricsHandler) observe(ctx context.Context, info *callbacks.RunInfo, status string) {
	component := string(info.Component)
	h.metrics.ComponentCalls.WithLabelValues(component, info.Name, status).Inc()
	if _, ok := ctx.Value(metricsStartTimeKey).(time.Time); ok {
		h.metrics.ComponentDuration.WithLabelValues(component, info.Name).Observe(sinceStart(ctx, metricsStartTimeKey).Seconds())
	}
}

// OnStartWithStreamInput 流式输入开始时调用
func (h *MetricsHandler) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo, input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	return h.OnStart(ctx, info, nil)
}

// OnEndWithStreamOutput 流式输出结束时调用
func (h *MetricsHandler) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo, output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	output.Close()
	return h.OnEnd(ctx, info, nil)
}
