package configs

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	einoconfig "traffic-law-bot/internal/eino/config"
)

// configPaths 未显式指定时依次查找的配置文件
var configPaths = []string{
	"configs/config.yaml",
	"config.yaml",
	"/etc/traffic-law-bot/config.yaml",
}

// Load 加载并验证应用程序配置。
// 它按照以下优先级顺序加载配置：
// 1. 默认配置
// 2. 配置文件（config.yaml，支持多个搜索路径）
// 3. 环境变量（覆盖配置文件中的值）
func Load(ctx context.Context) (*Config, error) {
	return LoadFile(ctx, "")
}

// LoadFile 与 Load 相同，但 path 非空时只读取该文件（文件必须存在）
func LoadFile(_ context.Context, path string) (*Config, error) {
	// .env 文件是可选的
	_ = godotenv.Load()

	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else {
		for _, p := range configPaths {
			if data, err := os.ReadFile(p); err == nil {
				if err := yaml.Unmarshal(data, config); err != nil {
					return nil, fmt.Errorf("parse config %s: %w", p, err)
				}
				break
			}
		}
	}

	loadFromEnv(config)

	// Embedding 缓存的维度默认跟随 Embedder
	if config.Cache.Embedding.Dimensions == 0 && config.Eino.Embedder.Dimensions != nil {
		config.Cache.Embedding.Dimensions = *config.Eino.Embedder.Dimensions
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// DefaultConfig 创建并返回一个包含默认值的 Config 对象。
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                    "0.0.0.0",
			Port:                    8000,
			ReadTimeout:             30 * time.Second,
			WriteTimeout:            90 * time.Second,
			IdleTimeout:             60 * time.Second,
			GracefulShutdownTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			Format: "text",
		},
		Cache: CacheConfig{
			Semantic: SemanticCacheConfig{
				DBPath:              "data/semantic_cache.db",
				SimilarityThreshold: 0.85,
				TTL:                 24 * time.Hour,
				MaxEntries:          1000,
				EvictionOvershoot:   100,
				DedupThreshold:      0.95,
			},
			Embedding: EmbeddingCacheConfig{
				Enabled:           true,
				DBPath:            "data/embedding_cache.db",
				MaxEntries:        5000,
				EvictionOvershoot: 100,
			},
		},
		Session: SessionConfig{
			MaxSessions:   10000,
			IdleTTL:       2 * time.Hour,
			HistoryWindow: 20,
		},
		Guardrails: GuardrailsConfig{
			ContentFilterEnabled: true,
			InjectionEnabled:     true,
			InjectionThreshold:   0.3,
		},
		Persona: PersonaConfig{
			Default: "general",
		},
		Messenger: MessengerConfig{
			Enabled:           false,
			GraphURL:          "https://graph.facebook.com/v18.0",
			MaxMessageAge:     10 * time.Second,
			PerSenderInterval: 2 * time.Second,
			ReplyMaxRunes:     1000,
			DedupTTL:          10 * time.Minute,
			SendTimeout:       10 * time.Second,
		},
		KnowledgeGraph: KnowledgeGraphConfig{
			Enabled: false,
			BaseURL: "http://localhost:8001",
			TopK:    5,
			Timeout: 20 * time.Second,
		},
		Resilience: ResilienceConfig{
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxElapsedTime:  30 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
			BreakerHalfOpen: 1,
			BreakerInterval: time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 5,
			Burst:             10,
			MaxClients:        10000,
		},
		Eino: *einoconfig.DefaultEinoConfig(),
	}
}

// loadFromEnv 从环境变量中读取配置并覆盖 Config 中的值。
func loadFromEnv(config *Config) {
	if port := os.Getenv("LAWBOT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 && p <= 65535 {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = strings.ToLower(level)
	}

	// Qdrant 配置
	if raw := os.Getenv("QDRANT_URL"); raw != "" {
		if host, port, tls, ok := parseQdrantURL(raw); ok {
			config.Eino.Retriever.Qdrant.Host = host
			config.Eino.Indexer.Qdrant.Host = host
			config.Eino.Retriever.Qdrant.UseTLS = tls
			config.Eino.Indexer.Qdrant.UseTLS = tls
			if port > 0 {
				config.Eino.Retriever.Qdrant.Port = port
				config.Eino.Indexer.Qdrant.Port = port
			}
		}
	}
	if apiKey := os.Getenv("QDRANT_API_KEY"); apiKey != "" {
		config.Eino.Retriever.Qdrant.APIKey = apiKey
		config.Eino.Indexer.Qdrant.APIKey = apiKey
	}

	// OpenAI 配置
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Eino.Embedder.APIKey = apiKey
		config.Eino.ChatModel.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.Eino.Embedder.BaseURL = baseURL
		config.Eino.ChatModel.BaseURL = baseURL
	}

	// Messenger 配置
	if token := os.Getenv("FB_VERIFY_TOKEN"); token != "" {
		config.Messenger.VerifyToken = token
	}
	if token := os.Getenv("FB_PAGE_ACCESS_TOKEN"); token != "" {
		config.Messenger.PageAccessToken = token
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Messenger.RedisAddr = addr
	}

	// 缓存配置
	if path := os.Getenv("CACHE_DB_PATH"); path != "" {
		config.Cache.Semantic.DBPath = path
	}
	if path := os.Getenv("EMBEDDING_CACHE_DB_PATH"); path != "" {
		config.Cache.Embedding.DBPath = path
	}

	if baseURL := os.Getenv("HIPPORAG_URL"); baseURL != "" {
		config.KnowledgeGraph.BaseURL = baseURL
		config.KnowledgeGraph.Enabled = true
		config.Eino.Answer.KGEnabled = true
	}
}

const (
	qdrantRESTPort = 6333
	qdrantGRPCPort = 6334
)

// parseQdrantURL 支持 "host"、"host:port" 和 "http(s)://host:port" 三种写法。
// Go 客户端走 gRPC，常见的 REST 端口 6333 会换成 gRPC 端口 6334。
func parseQdrantURL(raw string) (host string, port int, useTLS bool, ok bool) {
	host, port, useTLS, ok = splitQdrantURL(raw)
	if port == qdrantRESTPort {
		port = qdrantGRPCPort
	}
	return host, port, useTLS, ok
}

func splitQdrantURL(raw string) (host string, port int, useTLS bool, ok bool) {
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			return "", 0, false, false
		}
		host = u.Hostname()
		useTLS = u.Scheme == "https"
		if p := u.Port(); p != "" {
			port, _ = strconv.Atoi(p)
		}
		return host, port, useTLS, true
	}

	if h, p, err := net.SplitHostPort(raw); err == nil {
		port, _ = strconv.Atoi(p)
		return h, port, false, h != ""
	}
	return raw, 0, false, true
}
