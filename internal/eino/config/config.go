// Package config 定义 Eino 组件与问答流程的配置结构
package config

import (
	"fmt"
	"time"
)

// EinoConfig Eino 相关配置的汇总。
// 包含 Embedder、Retriever、Indexer、ChatModel 组件配置，以及问答流程、质量门和回调系统配置。
type EinoConfig struct {
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Retriever RetrieverConfig `yaml:"retriever"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	ChatModel ChatModelConfig `yaml:"chat_model"`
	Answer    AnswerConfig    `yaml:"answer"`
	Quality   QualityConfig   `yaml:"quality"`
	Callbacks CallbacksConfig `yaml:"callbacks"`
}

// EmbedderConfig 定义文本嵌入服务的配置。
// openai 为线上默认；hash 为不依赖外部服务的确定性实现，用于本地开发和离线测试。
type EmbedderConfig struct {
	Provider   string `yaml:"provider"` // openai, hash
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Timeout    int    `yaml:"timeout"`    // 秒
	Dimensions *int   `yaml:"dimensions"` // 向量维度（可选，hash 提供者必填）

	// OpenAI/Azure 专用
	ByAzure    bool   `yaml:"by_azure"`
	APIVersion string `yaml:"api_version"`
}

// RetrieverConfig 定义法规条文检索器的配置。
type RetrieverConfig struct {
	Provider       string  `yaml:"provider"` // qdrant, milvus, redis, es8
	Collection     string  `yaml:"collection"`
	TopK           int     `yaml:"top_k"`
	ScoreThreshold float64 `yaml:"score_threshold"`

	Qdrant QdrantRetrieverConfig `yaml:"qdrant"`
	Milvus MilvusRetrieverConfig `yaml:"milvus"`
	Redis  RedisRetrieverConfig  `yaml:"redis"`
	ES8    ES8RetrieverConfig    `yaml:"es8"`
}

// QdrantRetrieverConfig Qdrant 检索器专用配置
type QdrantRetrieverConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	UseTLS bool   `yaml:"use_tls"`
}

// MilvusRetrieverConfig Milvus 检索器专用配置
type MilvusRetrieverConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	VectorField  string   `yaml:"vector_field"`
	OutputFields []string `yaml:"output_fields"`
	MetricType   string   `yaml:"metric_type"`
}

// RedisRetrieverConfig Redis 检索器专用配置
type RedisRetrieverConfig struct {
	Addr         string   `yaml:"addr"`
	Password     string   `yaml:"password"`
	DB           int      `yaml:"db"`
	Index        string   `yaml:"index"`
	VectorField  string   `yaml:"vector_field"`
	ReturnFields []string `yaml:"return_fields"`
}

// ES8RetrieverConfig Elasticsearch 8 检索器专用配置
type ES8RetrieverConfig struct {
	Addresses   []string `yaml:"addresses"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	Index       string   `yaml:"index"`
	QueryField  string   `yaml:"query_field"`
	VectorField string   `yaml:"vector_field"`
	SearchMode  string   `yaml:"search_mode"` // knn, hybrid, exact
}

// IndexerConfig 定义法规条文写入向量库的配置。
type IndexerConfig struct {
	Provider   string `yaml:"provider"`
	Collection string `yaml:"collection"`
	VectorSize int    `yaml:"vector_size"`
	BatchSize  int    `yaml:"batch_size"`

	Qdrant QdrantIndexerConfig `yaml:"qdrant"`
	Milvus MilvusIndexerConfig `yaml:"milvus"`
	Redis  RedisIndexerConfig  `yaml:"redis"`
	ES8    ES8IndexerConfig    `yaml:"es8"`
}

// QdrantIndexerConfig Qdrant 索引器专用配置
type QdrantIndexerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	APIKey   string `yaml:"api_key"`
	UseTLS   bool   `yaml:"use_tls"`
	Distance string `yaml:"distance"` // Cosine, Euclid, Dot
}

// MilvusIndexerConfig Milvus 索引器专用配置
type MilvusIndexerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// RedisIndexerConfig Redis 索引器专用配置
type RedisIndexerConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// ES8IndexerConfig Elasticsearch 8 索引器专用配置
type ES8IndexerConfig struct {
	Addresses []string `yaml:"addresses"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	Index     string   `yaml:"index"`
}

// ChatModelConfig 定义生成回答的大模型配置。
type ChatModelConfig struct {
	Provider    string  `yaml:"provider"` // openai
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Timeout     int     `yaml:"timeout"` // 秒
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// AnswerConfig 定义问答流程（Answer Graph）的配置。
type AnswerConfig struct {
	// 节点开关
	PreprocessEnabled bool `yaml:"preprocess_enabled"`
	GuardEnabled      bool `yaml:"guard_enabled"`
	CacheEnabled      bool `yaml:"cache_enabled"`
	KGEnabled         bool `yaml:"kg_enabled"`

	// 上下文选择
	SelectionStrategy string  `yaml:"selection_strategy"` // first, highest_score, temperature_softmax
	Temperature       float64 `yaml:"temperature"`
	ContextTopN       int     `yaml:"context_top_n"`
	HistoryTurns      int     `yaml:"history_turns"`

	// 超时配置（秒）
	RetrieveTimeout int `yaml:"retrieve_timeout"`
	GenerateTimeout int `yaml:"generate_timeout"`

	// 固定回复
	RefusalMessage  string `yaml:"refusal_message"`
	FallbackMessage string `yaml:"fallback_message"`
}

// QualityConfig 定义回答写入缓存前的质量门配置。
type QualityConfig struct {
	Enabled bool `yaml:"enabled"`

	// 长度检查
	MinQuestionLength int `yaml:"min_question_length"`
	MinAnswerLength   int `yaml:"min_answer_length"`
	MaxQuestionLength int `yaml:"max_question_length"`
	MaxAnswerLength   int `yaml:"max_answer_length"`

	// 综合分数阈值
	ScoreThreshold float64 `yaml:"score_threshold"`

	// 黑名单关键词（道歉、无法回答等）
	BlacklistKeywords []string `yaml:"blacklist_keywords"`
}

// CallbacksConfig 定义 Eino 回调系统配置。
type CallbacksConfig struct {
	Logging LoggingCallbackConfig `yaml:"logging"`
	Metrics MetricsCallbackConfig `yaml:"metrics"`
	Tracing TracingCallbackConfig `yaml:"tracing"`
}

// LoggingCallbackConfig 日志回调配置
type LoggingCallbackConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
}

// MetricsCallbackConfig 指标回调配置
type MetricsCallbackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// TracingCallbackConfig 链路日志回调配置
type TracingCallbackConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Validate 检查 Eino 配置
func (c *EinoConfig) Validate() error {
	switch c.Embedder.Provider {
	case "openai":
		if c.Embedder.Model == "" {
			return fmt.Errorf("embedder model is required")
		}
	case "hash":
		if c.Embedder.Dimensions == nil || *c.Embedder.Dimensions <= 0 {
			return fmt.Errorf("hash embedder requires positive dimensions")
		}
	default:
		return fmt.Errorf("unsupported embedding provider: %s", c.Embedder.Provider)
	}

	switch c.Retriever.Provider {
	case "qdrant", "milvus", "redis", "es8":
	default:
		return fmt.Errorf("unsupported retriever provider: %s", c.Retriever.Provider)
	}
	if c.Retriever.TopK <= 0 {
		return fmt.Errorf("retriever top_k must be positive")
	}

	if c.ChatModel.Provider != "openai" {
		return fmt.Errorf("unsupported chat model provider: %s", c.ChatModel.Provider)
	}

	switch c.Answer.SelectionStrategy {
	case "first", "highest_score", "temperature_softmax":
	default:
		return fmt.Errorf("unsupported selection strategy: %s", c.Answer.SelectionStrategy)
	}
	if c.Answer.ContextTopN <= 0 {
		return fmt.Errorf("answer context_top_n must be positive")
	}

	if c.Quality.Enabled && (c.Quality.ScoreThreshold < 0 || c.Quality.ScoreThreshold > 1) {
		return fmt.Errorf("quality score threshold must be between 0 and 1")
	}
	return nil
}

// RetrieveTimeoutDuration 检索超时
func (c *AnswerConfig) RetrieveTimeoutDuration() time.Duration {
	return time.Duration(c.RetrieveTimeout) * time.Second
}

// GenerateTimeoutDuration 生成超时
func (c *AnswerConfig) GenerateTimeoutDuration() time.Duration {
	return time.Duration(c.GenerateTimeout) * time.Second
}

// DefaultEinoConfig 创建默认配置。
// 默认使用 OpenAI (Embedder/ChatModel) 和 Qdrant (Retriever/Indexer)。
func DefaultEinoConfig() *EinoConfig {
	return &EinoConfig{
		Embedder: EmbedderConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
			Timeout:  30,
		},
		Retriever: RetrieverConfig{
			Provider:       "qdrant",
			Collection:     "traffic_law",
			TopK:           8,
			ScoreThreshold: 0.3,
			Qdrant: QdrantRetrieverConfig{
				Host: "localhost",
				Port: 6334,
			},
			Redis: RedisRetrieverConfig{
				VectorField:  "content_vector",
				ReturnFields: []string{"content", "law_id", "article_id", "clause_id", "point_id", "title"},
			},
		},
		Indexer: IndexerConfig{
			Provider:   "qdrant",
			Collection: "traffic_law",
			VectorSize: 1536,
			BatchSize:  64,
			Qdrant: QdrantIndexerConfig{
				Host:     "localhost",
				Port:     6334,
				Distance: "Cosine",
			},
		},
		ChatModel: ChatModelConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Timeout:     60,
			Temperature: 0.2,
			MaxTokens:   1024,
		},
		Answer: AnswerConfig{
			PreprocessEnabled: true,
			GuardEnabled:      true,
			CacheEnabled:      true,
			KGEnabled:         false,
			SelectionStrategy: "highest_score",
			Temperature:       0.7,
			ContextTopN:       5,
			HistoryTurns:      6,
			RetrieveTimeout:   15,
			GenerateTimeout:   60,
			RefusalMessage:    "Xin lỗi, tôi không thể hỗ trợ yêu cầu này. Vui lòng đặt câu hỏi về luật giao thông.",
			FallbackMessage:   "Xin lỗi, hệ thống đang bận. Vui lòng thử lại sau.",
		},
		Quality: QualityConfig{
			Enabled:           true,
			MinQuestionLength: 5,
			MinAnswerLength:   20,
			MaxQuestionLength: 2000,
			MaxAnswerLength:   20000,
			ScoreThreshold:    0.5,
			BlacklistKeywords: []string{
				"xin lỗi", "tôi không biết", "không tìm thấy thông tin", "không thể trả lời",
				"sorry", "i don't know", "cannot answer",
			},
		},
		Callbacks: CallbacksConfig{
			Logging: LoggingCallbackConfig{
				Enabled: true,
				Level:   "info",
			},
			Metrics: MetricsCallbackConfig{
				Enabled:  true,
				Endpoint: "/metrics",
			},
			Tracing: TracingCallbackConfig{
				Enabled: false,
			},
		},
	}
}
