package callbacks

import (
	"github.com/cloudwego/eino/callbacks"

	"traffic-law-bot/internal/eino/config"
	"traffic-law-bot/internal/metrics"
	"traffic-law-bot/pkg/logger"
)

// Factory Callback 工厂
type Factory struct {
	cfg     *config.CallbacksConfig
	logger  logger.Logger
	metrics *metrics.Metrics
}

// NewFactory 创建 Callback 工厂，m 可为 nil
func NewFactory(cfg *config.CallbacksConfig, log logger.Logger, m *metrics.Metrics) *Factory {
	return &Factory{
		cfg:     cfg,
		logger:  log,
		metrics: m,
	}
}

// CreateHandlers 创建所有启用的 Callback 处理器
func (f *Factory) CreateHandlers() []callbacks.Handler {
	handlers := make([]callbacks.Handler, 0, 3)

	if f.cfg.Logging.Enabled {
		handlers = append(handlers, NewLoggingHandler(f.logger, &f.cfg.Logging))
	}

	if f.cfg.Metrics.Enabled && f.metrics != nil {
		handlers = append(handlers, NewMetricsHandler(&f.cfg.Metrics, f.metrics))
	}

	if f.cfg.Tracing.Enabled {
		handlers = append(handlers, NewTracingHandler(&f.cfg.Tracing, f.logger))
	}

	return handlers
}
