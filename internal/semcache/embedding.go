package semcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"traffic-law-bot/pkg/logger"
)

// EmbeddingConfig Embedding 缓存配置
type EmbeddingConfig struct {
	MaxEntries        int
	EvictionOvershoot int
	Dimensions        int // 期望的向量维度，0 表示不校验；维度不符的行按未命中处理
}

// DefaultEmbeddingConfig 默认配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		MaxEntries:        5000,
		EvictionOvershoot: 100,
	}
}

// Validate 验证配置
func (c EmbeddingConfig) Validate() error {
	if c.MaxEntries <= 0 {
		return fmt.Errorf("max entries must be positive, got %d", c.MaxEntries)
	}
	if c.EvictionOvershoot < 0 {
		return fmt.Errorf("eviction overshoot must not be negative, got %d", c.EvictionOvershoot)
	}
	if c.Dimensions < 0 {
		return fmt.Errorf("dimensions must not be negative, got %d", c.Dimensions)
	}
	return nil
}

// EmbeddingStats Embedding 缓存统计
type EmbeddingStats struct {
	TotalEntries  int64 `json:"total_entries"`
	TotalAccesses int64 `json:"total_accesses"`
	MaxEntries    int   `json:"max_entries"`
}

// EmbeddingCache 文本到向量的精确匹配缓存，无 TTL
type EmbeddingCache struct {
	db     *sql.DB
	ownsDB bool
	cfg    EmbeddingConfig
	clock  func() time.Time
	log    logger.Logger
}

// NewEmbeddingCache 打开（或创建）dbPath 处的缓存库
func NewEmbeddingCache(ctx context.Context, dbPath string, cfg EmbeddingConfig, opts ...Option) (*EmbeddingCache, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	c, err := NewEmbeddingCacheWithDB(ctx, db, cfg, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	c.ownsDB = true
	return c, nil
}

// NewEmbeddingCacheWithDB 使用调用方提供的连接
func NewEmbeddingCacheWithDB(ctx context.Context, db *sql.DB, cfg EmbeddingConfig, opts ...Option) (*EmbeddingCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid embedding cache config: %w", err)
	}
	if err := migrate(ctx, db, embeddingSchema); err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	return &EmbeddingCache{
		db:    db,
		cfg:   cfg,
		clock: o.clock,
		log:   o.log,
	}, nil
}

// GetEmbedding 精确查找，命中时累加 access_count
func (c *EmbeddingCache) GetEmbedding(ctx context.Context, text string) ([]float32, bool, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("embedding get: begin: %w", err)
	}
	defer tx.Rollback()

	var (
		id  int64
		raw []byte
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, embedding FROM embedding_cache WHERE text_hash = ?`, hashText(text),
	).Scan(&id, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("embedding get: %w", err)
	}

	// 换过模型后留下的旧维度向量也在这里被挡掉，随后的写入会覆盖该行
	vec, err := decodeEmbedding(id, raw, c.cfg.Dimensions)
	if err != nil || len(vec) == 0 {
		c.log.WarnContext(ctx, "Embedding缓存条目损坏或维度不符，按未命中处理", "id", id, "error", err)
		return nil, false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE embedding_cache SET access_count = access_count + 1 WHERE id = ?`, id,
	); err != nil {
		return nil, false, fmt.Errorf("embedding get: record access: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("embedding get: commit: %w", err)
	}
	return vec, true, nil
}

// CacheEmbedding 写入向量，同一文本重复写入会替换旧行
func (c *EmbeddingCache) CacheEmbedding(ctx context.Context, text string, vec []float32) error {
	if len(vec) == 0 {
		return ErrEmptyEmbedding
	}
	if c.cfg.Dimensions > 0 && len(vec) != c.cfg.Dimensions {
		return fmt.Errorf("embedding put: dimension %d, expected %d", len(vec), c.cfg.Dimensions)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("embedding put: begin: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_cache`).Scan(&count); err != nil {
		return fmt.Errorf("embedding put: count: %w", err)
	}
	if n := evictionCount(count, c.cfg.MaxEntries, c.cfg.EvictionOvershoot); n > 0 {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM embedding_cache WHERE id IN (
				SELECT id FROM embedding_cache ORDER BY access_count ASC, created_at ASC, id ASC LIMIT ?
			)`, n)
		if err != nil {
			return fmt.Errorf("embedding put: evict: %w", err)
		}
		c.log.InfoContext(ctx, "Embedding缓存达到容量上限，淘汰低频条目", "evicted", n)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO embedding_cache (text_hash, text_content, embedding, created_at, access_count)
		 VALUES (?, ?, ?, ?, 1)`,
		hashText(text), text, encodeEmbedding(vec), c.clock().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("embedding put: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("embedding put: commit: %w", err)
	}
	return nil
}

// Clear 删除全部条目
func (c *EmbeddingCache) Clear(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM embedding_cache`)
	if err != nil {
		return 0, fmt.Errorf("embedding clear: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Size 当前行数
func (c *EmbeddingCache) Size(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embedding_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("embedding size: %w", err)
	}
	return n, nil
}

// Stats 统计信息
func (c *EmbeddingCache) Stats(ctx context.Context) (EmbeddingStats, error) {
	stats := EmbeddingStats{MaxEntries: c.cfg.MaxEntries}
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(access_count), 0) FROM embedding_cache`,
	).Scan(&stats.TotalEntries, &stats.TotalAccesses)
	if err != nil {
		return EmbeddingStats{}, fmt.Errorf("embedding stats: %w", err)
	}
	return stats, nil
}

// Close 关闭自己打开的数据库
func (c *EmbeddingCache) Close() error {
	if !c.ownsDB {
		return nil
	}
	return c.db.Close()
}
