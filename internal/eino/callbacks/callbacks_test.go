package callbacks

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traffic-law-bot/internal/eino/config"
	"traffic-law-bot/internal/metrics"
	"traffic-law-bot/pkg/logger"
)

func runInfo() *callbacks.RunInfo {
	return &callbacks.RunInfo{Name: "generate", Type: "Lambda", Component: compose.ComponentOfLambda}
}

func TestFactoryCreateHandlers(t *testing.T) {
	cfg := config.DefaultEinoConfig().Callbacks
	cfg.Tracing.Enabled = true

	assert.Len(t, NewFactory(&cfg, logger.Discard(), metrics.New()).CreateHandlers(), 3)
	// 没有指标实例时跳过指标回调
	assert.Len(t, NewFactory(&cfg, logger.Discard(), nil).CreateHandlers(), 2)

	cfg.Logging.Enabled = false
	cfg.Metrics.Enabled = false
	cfg.Tracing.Enabled = false
	assert.Empty(t, NewFactory(&cfg, logger.Discard(), nil).CreateHandlers())
}

func TestMetricsHandlerCountsStatus(t *testing.T) {
	m := metrics.New()
	h := NewMetricsHandler(&config.MetricsCallbackConfig{Enabled: true}, m)
	ctx := context.Background()

	ctx1 := h.OnStart(ctx, runInfo(), nil)
	h.OnEnd(ctx1, runInfo(), nil)
	ctx2 := h.OnStart(ctx, runInfo(), nil)
	h.OnError(ctx2, runInfo(), errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ComponentCalls.WithLabelValues("Lambda", "generate", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ComponentCalls.WithLabelValues("Lambda", "generate", "error")))
}

func TestLoggingHandlerWritesDuration(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(logger.Config{Level: slog.LevelDebug, Format: "json"}, &buf)
	h := NewLoggingHandler(log, &config.LoggingCallbackConfig{Enabled: true, Level: "info"})

	ctx := h.OnStart(context.Background(), runInfo(), nil)
	h.OnError(ctx, runInfo(), errors.New("timeout"))

	out := buf.String()
	require.True(t, strings.Contains(out, "组件开始执行"))
	assert.True(t, strings.Contains(out, `"duration_ms"`))
	assert.True(t, strings.Contains(out, `"error":"timeout"`))
}

func TestTracingHandlerKeepsTraceID(t *testing.T) {
	h := NewTracingHandler(&config.TracingCallbackConfig{Enabled: true}, logger.Discard())

	ctx := WithTraceID(context.Background(), "req-1")
	parent := h.OnStart(ctx, runInfo(), nil)
	child := h.OnStart(parent, runInfo(), nil)

	assert.Equal(t, "req-1", ExtractTraceID(child))
	require.NotNil(t, getCurrentSpan(child))
	assert.Equal(t, getCurrentSpan(parent).SpanID, getCurrentSpan(child).ParentID)

	fresh := h.OnStart(context.Background(), runInfo(), nil)
	assert.NotEmpty(t, ExtractTraceID(fresh))
}
