package semcache

import (
	"context"
	"errors"
	"fmt"

	"traffic-law-bot/pkg/logger"
)

// ManagerConfig 管理器配置
type ManagerConfig struct {
	SemanticDBPath   string
	Semantic         SemanticConfig
	EmbeddingEnabled bool
	EmbeddingDBPath  string
	Embedding        EmbeddingConfig
}

// Manager 持有进程内唯一的缓存实例，由启动流程构造后按引用传递
type Manager struct {
	semantic   *SemanticCache
	embeddings *EmbeddingCache
	log        logger.Logger
}

// NewManager 按配置打开缓存
func NewManager(ctx context.Context, cfg ManagerConfig, log logger.Logger, opts ...Option) (*Manager, error) {
	if log == nil {
		log = logger.GetDefault()
	}
	opts = append([]Option{WithLogger(log)}, opts...)

	semantic, err := NewSemanticCache(ctx, cfg.SemanticDBPath, cfg.Semantic, opts...)
	if err != nil {
		return nil, fmt.Errorf("open semantic cache: %w", err)
	}

	m := &Manager{semantic: semantic, log: log}
	if cfg.EmbeddingEnabled {
		embeddings, err := NewEmbeddingCache(ctx, cfg.EmbeddingDBPath, cfg.Embedding, opts...)
		if err != nil {
			semantic.Close()
			return nil, fmt.Errorf("open embedding cache: %w", err)
		}
		m.embeddings = embeddings
	}

	log.Info("缓存管理器初始化完成",
		"semantic_db", cfg.SemanticDBPath,
		"embedding_cache", cfg.EmbeddingEnabled,
		"similarity_threshold", cfg.Semantic.SimilarityThreshold,
		"max_entries", cfg.Semantic.MaxEntries,
	)
	return m, nil
}

// NewManagerFromCaches 组装已构造好的缓存，embeddings 可为 nil
func NewManagerFromCaches(semantic *SemanticCache, embeddings *EmbeddingCache, log logger.Logger) *Manager {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Manager{semantic: semantic, embeddings: embeddings, log: log}
}

// AttachProvider 挂载提供者；启用 Embedding 缓存时自动包装为 CachedProvider
func (m *Manager) AttachProvider(p Provider) {
	if p != nil && m.embeddings != nil {
		p = NewCachedProvider(p, m.embeddings, m.log)
	}
	m.semantic.SetProvider(p)
}

// Semantic 语义缓存
func (m *Manager) Semantic() *SemanticCache {
	return m.semantic
}

// Embeddings Embedding 缓存，未启用时为 nil
func (m *Manager) Embeddings() *EmbeddingCache {
	return m.embeddings
}

// Reset 清空全部缓存
func (m *Manager) Reset(ctx context.Context) error {
	if _, err := m.semantic.Clear(ctx); err != nil {
		return err
	}
	if m.embeddings != nil {
		if _, err := m.embeddings.Clear(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close 释放数据库连接
func (m *Manager) Close() error {
	var errs []error
	if err := m.semantic.Close(); err != nil {
		errs = append(errs, err)
	}
	if m.embeddings != nil {
		if err := m.embeddings.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
