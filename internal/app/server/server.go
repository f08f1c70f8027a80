package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"traffic-law-bot/configs"
	"traffic-law-bot/internal/metrics"
	"traffic-law-bot/internal/ratelimit"
	"traffic-law-bot/pkg/logger"
)

// Server HTTP服务器，负责路由初始化、启动和优雅关闭
type Server struct {
	config     *configs.ServerConfig
	httpServer *http.Server
	engine     *gin.Engine
	logger     logger.Logger
}

// NewServer 创建HTTP服务器并注册路由
func NewServer(config *configs.ServerConfig, h *Handlers, limiter *ratelimit.Keyed, m *metrics.Metrics, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetDefault()
	}
	// 根据配置设置Gin模式
	if config.Host == "0.0.0.0" || config.Host == "" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	SetupRoutes(engine, h, limiter, m, log)

	return &Server{
		config: config,
		engine: engine,
		logger: log,
		httpServer: &http.Server{
			Addr:         config.GetAddr(),
			Handler:      engine,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
			IdleTimeout:  config.IdleTimeout,
		},
	}
}

// Handler 返回路由引擎，测试中配合 httptest 使用
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start 非阻塞启动，监听失败时写入 errChan
func (s *Server) Start(ctx context.Context, errChan chan<- error) {
	s.logger.InfoContext(ctx, "HTTP服务器开始监听",
		"addr", s.httpServer.Addr,
		"read_timeout", s.config.ReadTimeout,
		"write_timeout", s.config.WriteTimeout)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.ErrorContext(ctx, "HTTP服务器启动失败", "error", err.Error())
			errChan <- err
		}
	}()
}

// Shutdown 优雅关闭服务器
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.InfoContext(ctx, "开始执行HTTP服务器优雅关闭")

	if s.config.GracefulShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.GracefulShutdownTimeout)
		defer cancel()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.ErrorContext(ctx, "HTTP服务器优雅关闭失败", "error", err.Error())
		return fmt.Errorf("HTTP服务器关闭失败: %w", err)
	}

	s.logger.InfoContext(ctx, "HTTP服务器优雅关闭完成")
	return nil
}
