package configs

import (
	"fmt"
	"time"

	einoconfig "traffic-law-bot/internal/eino/config"
)

// Config 主配置结构体，定义了应用程序的所有配置项。
// 包含服务器、日志、缓存、会话、安全防护、Messenger、知识图谱、容错和限流等模块的配置信息。
type Config struct {
	Server         ServerConfig          `yaml:"server"`
	Logging        LoggingConfig         `yaml:"logging"`
	Cache          CacheConfig           `yaml:"cache"`
	Session        SessionConfig         `yaml:"session"`
	Guardrails     GuardrailsConfig      `yaml:"guardrails"`
	Persona        PersonaConfig         `yaml:"persona"`
	Messenger      MessengerConfig       `yaml:"messenger"`
	KnowledgeGraph KnowledgeGraphConfig  `yaml:"knowledge_graph"`
	Resilience     ResilienceConfig      `yaml:"resilience"`
	RateLimit      RateLimitConfig       `yaml:"rate_limit"`
	Eino           einoconfig.EinoConfig `yaml:"eino"` // Eino 组件与问答流程配置
}

// ServerConfig 定义服务器相关的配置参数。
type ServerConfig struct {
	Host                    string        `yaml:"host"`
	Port                    int           `yaml:"port"`
	ReadTimeout             time.Duration `yaml:"read_timeout"`
	WriteTimeout            time.Duration `yaml:"write_timeout"`
	IdleTimeout             time.Duration `yaml:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// LoggingConfig 定义日志系统的配置参数。
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
	Format   string `yaml:"format"`
}

// CacheConfig 定义语义缓存与 Embedding 缓存的配置。
type CacheConfig struct {
	Semantic  SemanticCacheConfig  `yaml:"semantic"`
	Embedding EmbeddingCacheConfig `yaml:"embedding"`
}

// SemanticCacheConfig 语义缓存配置
type SemanticCacheConfig struct {
	DBPath              string        `yaml:"db_path"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	TTL                 time.Duration `yaml:"ttl"`
	MaxEntries          int           `yaml:"max_entries"`
	EvictionOvershoot   int           `yaml:"eviction_overshoot"`
	DedupThreshold      float64       `yaml:"dedup_threshold"`
}

// EmbeddingCacheConfig Embedding 缓存配置
type EmbeddingCacheConfig struct {
	Enabled           bool   `yaml:"enabled"`
	DBPath            string `yaml:"db_path"`
	MaxEntries        int    `yaml:"max_entries"`
	EvictionOvershoot int    `yaml:"eviction_overshoot"`
	Dimensions        int    `yaml:"dimensions"` // 0 时取 eino.embedder.dimensions
}

// SessionConfig 会话记忆配置
type SessionConfig struct {
	MaxSessions   int           `yaml:"max_sessions"`
	IdleTTL       time.Duration `yaml:"idle_ttl"`
	HistoryWindow int           `yaml:"history_window"` // 保留的消息条数
}

// GuardrailsConfig 内容过滤与提示注入检测配置
type GuardrailsConfig struct {
	ContentFilterEnabled bool     `yaml:"content_filter_enabled"`
	BlockedKeywords      []string `yaml:"blocked_keywords"`
	InjectionEnabled     bool     `yaml:"injection_enabled"`
	InjectionThreshold   float64  `yaml:"injection_threshold"`
}

// PersonaConfig 角色配置
type PersonaConfig struct {
	Default string `yaml:"default"`
}

// MessengerConfig Facebook Messenger webhook 配置
type MessengerConfig struct {
	Enabled           bool          `yaml:"enabled"`
	VerifyToken       string        `yaml:"verify_token"`
	PageAccessToken   string        `yaml:"page_access_token"`
	GraphURL          string        `yaml:"graph_url"`
	MaxMessageAge     time.Duration `yaml:"max_message_age"`
	PerSenderInterval time.Duration `yaml:"per_sender_interval"`
	ReplyMaxRunes     int           `yaml:"reply_max_runes"`
	DedupTTL          time.Duration `yaml:"dedup_ttl"`
	RedisAddr         string        `yaml:"redis_addr"` // 为空时使用进程内去重
	SendTimeout       time.Duration `yaml:"send_timeout"`
}

// KnowledgeGraphConfig HippoRAG 知识图谱检索服务配置
type KnowledgeGraphConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	TopK    int           `yaml:"top_k"`
	Timeout time.Duration `yaml:"timeout"`
}

// ResilienceConfig 外部调用的重试与熔断配置，LLM、知识图谱和 Messenger 发送共用
type ResilienceConfig struct {
	MaxRetries      uint64        `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxElapsedTime  time.Duration `yaml:"max_elapsed_time"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
	BreakerHalfOpen uint32        `yaml:"breaker_half_open"`
	BreakerInterval time.Duration `yaml:"breaker_interval"`
}

// RateLimitConfig HTTP 接口按 IP 限流配置
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxClients        int     `yaml:"max_clients"`
}

// Validate 检查 Config 配置结构体的有效性。
// 依次调用各个子配置项的 Validate 方法，如果发现无效配置，返回相应的错误。
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config validation failed: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config validation failed: %w", err)
	}

	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache config validation failed: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config validation failed: %w", err)
	}

	if err := c.Guardrails.Validate(); err != nil {
		return fmt.Errorf("guardrails config validation failed: %w", err)
	}

	if err := c.Messenger.Validate(); err != nil {
		return fmt.Errorf("messenger config validation failed: %w", err)
	}

	if err := c.KnowledgeGraph.Validate(); err != nil {
		return fmt.Errorf("knowledge_graph config validation failed: %w", err)
	}

	if err := c.Resilience.Validate(); err != nil {
		return fmt.Errorf("resilience config validation failed: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limit config validation failed: %w", err)
	}

	if err := c.Eino.Validate(); err != nil {
		return fmt.Errorf("eino config validation failed: %w", err)
	}

	return nil
}

// Validate 检查 ServerConfig 配置的有效性。
func (s *ServerConfig) Validate() error {
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port: %d", s.Port)
	}

	if s.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive")
	}

	if s.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive")
	}

	return nil
}

// Validate 检查 LoggingConfig 配置的有效性。
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}

	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	validOutputs := map[string]bool{
		"stdout": true, "stderr": true, "file": true,
	}

	if !validOutputs[l.Output] {
		return fmt.Errorf("invalid log output: %s", l.Output)
	}

	if l.Output == "file" && l.FilePath == "" {
		return fmt.Errorf("file path is required when output is file")
	}

	// 空值默认为 text
	validFormats := map[string]bool{
		"text": true, "json": true, "": true,
	}

	if !validFormats[l.Format] {
		return fmt.Errorf("invalid log format: %s", l.Format)
	}

	return nil
}

// Validate 检查缓存配置。阈值等细节由 semcache 构造时再次校验。
func (c *CacheConfig) Validate() error {
	s := c.Semantic
	if s.DBPath == "" {
		return fmt.Errorf("semantic cache db_path is required")
	}
	if s.SimilarityThreshold < 0 || s.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be between 0 and 1")
	}
	if s.DedupThreshold < s.SimilarityThreshold || s.DedupThreshold > 1 {
		return fmt.Errorf("dedup threshold must be between similarity threshold and 1")
	}
	if s.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	if s.MaxEntries <= 0 {
		return fmt.Errorf("max_entries must be positive")
	}
	if s.EvictionOvershoot < 0 {
		return fmt.Errorf("eviction_overshoot must not be negative")
	}

	e := c.Embedding
	if e.Enabled {
		if e.DBPath == "" {
			return fmt.Errorf("embedding cache db_path is required when enabled")
		}
		if e.MaxEntries <= 0 {
			return fmt.Errorf("embedding cache max_entries must be positive")
		}
		if e.Dimensions < 0 {
			return fmt.Errorf("embedding cache dimensions must not be negative")
		}
	}
	return nil
}

// Validate 检查会话配置
func (s *SessionConfig) Validate() error {
	if s.MaxSessions <= 0 {
		return fmt.Errorf("max_sessions must be positive")
	}
	if s.IdleTTL <= 0 {
		return fmt.Errorf("idle_ttl must be positive")
	}
	if s.HistoryWindow < 0 {
		return fmt.Errorf("history_window must not be negative")
	}
	return nil
}

// Validate 检查安全防护配置
func (g *GuardrailsConfig) Validate() error {
	if g.InjectionEnabled && (g.InjectionThreshold <= 0 || g.InjectionThreshold >= 1) {
		return fmt.Errorf("injection threshold must be between 0 and 1")
	}
	return nil
}

// Validate 检查 Messenger 配置，仅启用时要求令牌
func (m *MessengerConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	if m.VerifyToken == "" {
		return fmt.Errorf("verify_token is required when messenger is enabled")
	}
	if m.PageAccessToken == "" {
		return fmt.Errorf("page_access_token is required when messenger is enabled")
	}
	if m.GraphURL == "" {
		return fmt.Errorf("graph_url is required when messenger is enabled")
	}
	if m.ReplyMaxRunes <= 0 {
		return fmt.Errorf("reply_max_runes must be positive")
	}
	return nil
}

// Validate 检查知识图谱配置
func (k *KnowledgeGraphConfig) Validate() error {
	if !k.Enabled {
		return nil
	}
	if k.BaseURL == "" {
		return fmt.Errorf("base_url is required when knowledge graph is enabled")
	}
	if k.TopK <= 0 {
		return fmt.Errorf("top_k must be positive")
	}
	return nil
}

// Validate 检查容错配置
func (r *ResilienceConfig) Validate() error {
	if r.InitialInterval <= 0 {
		return fmt.Errorf("initial_interval must be positive")
	}
	if r.BreakerFailures == 0 {
		return fmt.Errorf("breaker_failures must be positive")
	}
	if r.BreakerTimeout <= 0 {
		return fmt.Errorf("breaker_timeout must be positive")
	}
	return nil
}

// Validate 检查限流配置
func (r *RateLimitConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be positive")
	}
	if r.Burst <= 0 {
		return fmt.Errorf("burst must be positive")
	}
	if r.MaxClients <= 0 {
		return fmt.Errorf("max_clients must be positive")
	}
	return nil
}

// GetAddr 获取服务器的完整监听地址。
// 返回格式为 "Host:Port" 的字符串。
func (s *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
