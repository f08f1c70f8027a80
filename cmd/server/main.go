package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"traffic-law-bot/configs"
	"traffic-law-bot/internal/app/handlers"
	"traffic-law-bot/internal/app/server"
	"traffic-law-bot/internal/bootstrap"
	"traffic-law-bot/internal/messenger"
	"traffic-law-bot/internal/metrics"
	"traffic-law-bot/internal/ratelimit"
	"traffic-law-bot/pkg/logger"
)

// main 主函数 - 应用程序入口点
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	earlyLogger := logger.Default()

	if err := run(ctx, earlyLogger); err != nil {
		earlyLogger.ErrorContext(ctx, "应用程序运行失败", "error", err)
		os.Exit(1)
	}
}

// run 初始化所有组件并阻塞直到收到停止信号
func run(ctx context.Context, earlyLogger logger.Logger) error {
	// 1. 加载配置
	config, err := configs.Load(ctx)
	if err != nil {
		return fmt.Errorf("配置加载失败: %w", err)
	}
	earlyLogger.InfoContext(ctx, "配置加载成功",
		"server_port", config.Server.Port,
		"eino_embedder_provider", config.Eino.Embedder.Provider,
		"eino_retriever_provider", config.Eino.Retriever.Provider,
		"messenger_enabled", config.Messenger.Enabled)

	// 2. 日志与指标
	appLogger := bootstrap.NewLogger(config.Logging)
	m := metrics.New()

	// 3. 问答流程
	app, err := bootstrap.New(ctx, config, appLogger, m)
	if err != nil {
		return err
	}
	defer app.Close()

	// 4. Messenger
	var (
		webhook   *handlers.WebhookHandler
		service   *messenger.Service
		breakers  = map[string]handlers.BreakerState{"llm": app.LLMPolicy}
		closeFunc func() error
	)
	if app.KGPolicy != nil {
		breakers["knowledge_graph"] = app.KGPolicy
	}
	if config.Messenger.Enabled {
		sendPolicy := bootstrap.NewPolicy("messenger_send", config.Resilience, appLogger)
		breakers["messenger_send"] = sendPolicy

		dedup, closer, err := newDeduplicator(ctx, &config.Messenger, appLogger)
		if err != nil {
			return err
		}
		closeFunc = closer

		service = messenger.NewService(messenger.Config{
			VerifyToken:   config.Messenger.VerifyToken,
			MaxMessageAge: config.Messenger.MaxMessageAge,
			ReplyMaxRunes: config.Messenger.ReplyMaxRunes,
		},
			app.Answer,
			messenger.NewSender(config.Messenger.GraphURL, config.Messenger.PageAccessToken,
				config.Messenger.SendTimeout, sendPolicy, m, appLogger),
			dedup,
			ratelimit.Every(config.Messenger.PerSenderInterval, config.Session.MaxSessions),
			m, appLogger)
		webhook = handlers.NewWebhookHandler(service, appLogger)
		appLogger.InfoContext(ctx, "Messenger webhook 已启用", "graph_url", config.Messenger.GraphURL)
	}
	if closeFunc != nil {
		defer closeFunc()
	}

	// 5. HTTP 层
	var healthKG handlers.HealthChecker
	if app.KG != nil {
		healthKG = app.KG
	}
	var limiter *ratelimit.Keyed
	if config.RateLimit.Enabled {
		limiter = ratelimit.NewKeyed(rate.Limit(config.RateLimit.RequestsPerSecond),
			config.RateLimit.Burst, config.RateLimit.MaxClients, 10*time.Minute)
	}

	httpServer := server.NewServer(&config.Server, &server.Handlers{
		Chat:    handlers.NewChatHandler(app.Answer, app.Sessions, app.Personas, appLogger),
		Cache:   handlers.NewCacheHandler(app.Caches, app.Quality, appLogger),
		Health:  handlers.NewHealthHandler(app.Caches, app.Sessions, healthKG, breakers),
		Webhook: webhook,
	}, limiter, m, appLogger)

	return runApplication(ctx, httpServer, service, appLogger)
}

// newDeduplicator 配置了 Redis 时跨实例去重，否则使用进程内去重
func newDeduplicator(ctx context.Context, cfg *configs.MessengerConfig, log logger.Logger) (messenger.Deduplicator, func() error, error) {
	if cfg.RedisAddr == "" {
		log.InfoContext(ctx, "使用进程内消息去重")
		return messenger.NewMemoryDeduplicator(100000, cfg.DedupTTL), nil, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	log.InfoContext(ctx, "使用 Redis 消息去重", "addr", cfg.RedisAddr)
	return messenger.NewRedisDeduplicator(rdb, cfg.DedupTTL), rdb.Close, nil
}

// runApplication 运行应用程序，监听停止信号
// 此函数会阻塞直到收到停止信号、服务器错误或上下文取消
func runApplication(ctx context.Context, httpServer *server.Server, service *messenger.Service, log logger.Logger) error {
	errChan := make(chan error, 1)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	httpServer.Start(ctx, errChan)

	select {
	case err := <-errChan:
		log.ErrorContext(ctx, "服务器运行错误", "error", err)
		return err

	case sig := <-signalChan:
		log.InfoContext(ctx, "收到停止信号，开始优雅关闭", "signal", sig.String())
		return gracefulShutdown(httpServer, service, log)

	case <-ctx.Done():
		log.InfoContext(ctx, "上下文取消，开始优雅关闭")
		return gracefulShutdown(httpServer, service, log)
	}
}

// gracefulShutdown 先停止接收请求，再等待进行中的 Messenger 回复完成
func gracefulShutdown(httpServer *server.Server, service *messenger.Service, log logger.Logger) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if service != nil {
		if err := service.Wait(shutdownCtx); err != nil {
			log.WarnContext(shutdownCtx, "等待Messenger消息处理超时", "error", err)
		}
	}

	log.InfoContext(shutdownCtx, "优雅关闭完成")
	return nil
}
