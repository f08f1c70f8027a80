// Package bootstrap 按配置组装各组件，服务端和命令行工具共用
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/retriever"

	"traffic-law-bot/configs"
	einocallbacks "traffic-law-bot/internal/eino/callbacks"
	"traffic-law-bot/internal/eino/components"
	"traffic-law-bot/internal/eino/flows"
	"traffic-law-bot/internal/eino/nodes"
	"traffic-law-bot/internal/guardrails"
	"traffic-law-bot/internal/kg"
	"traffic-law-bot/internal/llm"
	"traffic-law-bot/internal/metrics"
	"traffic-law-bot/internal/persona"
	"traffic-law-bot/internal/resilience"
	"traffic-law-bot/internal/router"
	"traffic-law-bot/internal/semcache"
	"traffic-law-bot/internal/session"
	"traffic-law-bot/pkg/logger"
)

// NewLogger 按日志配置创建日志器
func NewLogger(cfg configs.LoggingConfig) logger.Logger {
	loggerConfig := logger.Config{
		Level:  logger.ParseLevel(cfg.Level),
		Output: cfg.Output,
		Format: cfg.Format,
	}
	if cfg.Output == "file" {
		loggerConfig.FilePath = cfg.FilePath
	}
	return logger.New(loggerConfig)
}

// NewPolicy 按容错配置创建一个命名的重试熔断策略
func NewPolicy(name string, cfg configs.ResilienceConfig, log logger.Logger) *resilience.Policy {
	return resilience.New(resilience.Config{
		Name:            name,
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.InitialInterval,
		MaxElapsedTime:  cfg.MaxElapsedTime,
		BreakerFailures: cfg.BreakerFailures,
		BreakerTimeout:  cfg.BreakerTimeout,
		BreakerHalfOpen: cfg.BreakerHalfOpen,
		BreakerInterval: cfg.BreakerInterval,
	}, log)
}

// OpenCaches 打开语义缓存与 Embedding 缓存，embedder 非 nil 时挂载为向量提供者
func OpenCaches(ctx context.Context, cfg *configs.CacheConfig, embedder embedding.Embedder, log logger.Logger) (*semcache.Manager, error) {
	caches, err := semcache.NewManager(ctx, semcache.ManagerConfig{
		SemanticDBPath: cfg.Semantic.DBPath,
		Semantic: semcache.SemanticConfig{
			SimilarityThreshold: cfg.Semantic.SimilarityThreshold,
			TTL:                 cfg.Semantic.TTL,
			MaxEntries:          cfg.Semantic.MaxEntries,
			EvictionOvershoot:   cfg.Semantic.EvictionOvershoot,
			DedupThreshold:      cfg.Semantic.DedupThreshold,
		},
		EmbeddingEnabled: cfg.Embedding.Enabled,
		EmbeddingDBPath:  cfg.Embedding.DBPath,
		Embedding: semcache.EmbeddingConfig{
			MaxEntries:        cfg.Embedding.MaxEntries,
			EvictionOvershoot: cfg.Embedding.EvictionOvershoot,
			Dimensions:        cfg.Embedding.Dimensions,
		},
	}, log)
	if err != nil {
		return nil, err
	}
	if embedder != nil {
		caches.AttachProvider(components.NewEmbedderProvider(embedder))
	}
	return caches, nil
}

// App 问答所需的全部组件
type App struct {
	Config    *configs.Config
	Logger    logger.Logger
	Metrics   *metrics.Metrics
	Embedder  embedding.Embedder
	Caches    *semcache.Manager
	Sessions  *session.Manager
	Personas  *persona.Registry
	Quality   *nodes.QualityChecker
	KG        *kg.Client // 未启用时为 nil
	Answer    *flows.AnswerGraph
	LLMPolicy *resilience.Policy
	KGPolicy  *resilience.Policy
}

// New 组装问答流程：Embedder、缓存、检索器、知识图谱、大模型、护栏、路由、人设和会话
func New(ctx context.Context, cfg *configs.Config, log logger.Logger, m *metrics.Metrics) (*App, error) {
	if m == nil {
		m = metrics.New()
	}
	app := &App{Config: cfg, Logger: log, Metrics: m}

	log.InfoContext(ctx, "正在初始化 Embedder",
		"provider", cfg.Eino.Embedder.Provider,
		"model", cfg.Eino.Embedder.Model)
	embedder, err := components.NewEmbedder(ctx, &cfg.Eino.Embedder)
	if err != nil {
		return nil, fmt.Errorf("Embedder 初始化失败: %w", err)
	}
	app.Embedder = embedder

	app.Caches, err = OpenCaches(ctx, &cfg.Cache, embedder, log)
	if err != nil {
		return nil, fmt.Errorf("缓存初始化失败: %w", err)
	}

	log.InfoContext(ctx, "正在初始化 Retriever",
		"provider", cfg.Eino.Retriever.Provider,
		"collection", cfg.Eino.Retriever.Collection)
	vector, err := components.NewRetriever(ctx, &cfg.Eino.Retriever, embedder)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("Retriever 初始化失败: %w", err)
	}

	chatModel, err := components.NewChatModel(ctx, &cfg.Eino.ChatModel)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("ChatModel 初始化失败: %w", err)
	}
	app.LLMPolicy = NewPolicy("llm", cfg.Resilience, log)
	generator := llm.NewGenerator(chatModel, app.LLMPolicy, cfg.Eino.Answer.GenerateTimeoutDuration(), log)

	var kgRetriever retriever.Retriever
	if cfg.KnowledgeGraph.Enabled {
		app.KGPolicy = NewPolicy("knowledge_graph", cfg.Resilience, log)
		app.KG = kg.NewClient(kg.Config{
			BaseURL: cfg.KnowledgeGraph.BaseURL,
			TopK:    cfg.KnowledgeGraph.TopK,
			Timeout: cfg.KnowledgeGraph.Timeout,
		}, app.KGPolicy, log)
		kgRetriever = app.KG
	}

	app.Sessions = session.NewManager(session.Config{
		MaxSessions: cfg.Session.MaxSessions,
		IdleTTL:     cfg.Session.IdleTTL,
		Window:      cfg.Session.HistoryWindow,
	})
	app.Personas = persona.NewRegistry(persona.Defaults(), cfg.Persona.Default)
	app.Quality = nodes.NewQualityChecker(&cfg.Eino.Quality)

	keywords := cfg.Guardrails.BlockedKeywords
	if len(keywords) == 0 {
		keywords = guardrails.DefaultBlockedKeywords()
	}
	guard := guardrails.New(guardrails.Config{
		ContentFilterEnabled: cfg.Guardrails.ContentFilterEnabled,
		BlockedKeywords:      keywords,
		InjectionEnabled:     cfg.Guardrails.InjectionEnabled,
		InjectionThreshold:   cfg.Guardrails.InjectionThreshold,
	}, log)

	app.Answer, err = flows.NewAnswerGraph(ctx, &cfg.Eino.Answer, flows.AnswerDeps{
		Guard:     guard,
		Cache:     app.Caches.Semantic(),
		Router:    router.New(router.DefaultRoutes()),
		Personas:  app.Personas,
		Retriever: vector,
		KG:        kgRetriever,
		Generator: generator,
		Quality:   app.Quality,
		Sessions:  app.Sessions,
		Metrics:   m,
		Logger:    log,
		Callbacks: einocallbacks.NewFactory(&cfg.Eino.Callbacks, log, m).CreateHandlers(),
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("Answer Graph 编译失败: %w", err)
	}

	log.InfoContext(ctx, "问答流程初始化完成",
		"kg_enabled", app.KG != nil,
		"cache_enabled", cfg.Eino.Answer.CacheEnabled,
		"default_persona", cfg.Persona.Default)
	return app, nil
}

// Close 释放缓存数据库
func (a *App) Close() error {
	var errs []error
	if a.Caches != nil {
		errs = append(errs, a.Caches.Close())
	}
	return errors.Join(errs...)
}
